package credstore

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options selects and configures a backend.
type Options struct {
	// Backend is one of "database", "bolt", "redis" or "memory".
	Backend       string
	BoltPath      string
	RedisURL      string
	RedisPassword string
	RedisPrefix   string
	// SealSecret enables at-rest encryption when set.
	SealSecret string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the configured backend. db serves the "database" backend.
func Open(ctx context.Context, opts Options, db *gorm.DB) (Backend, io.Closer, error) {
	var (
		store  Backend
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "database", "db":
		if db == nil {
			return nil, nil, errors.New("credstore: database backend requires a database handle")
		}
		store = NewGormStore(db)
	case "bolt", "bbolt":
		b, err := OpenBolt(opts.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		store, closer = b, b
	case "redis":
		r, err := OpenRedis(ctx, opts.RedisURL, opts.RedisPassword, opts.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		store, closer = r, r
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, nil, errors.Errorf("credstore: unknown backend %q", opts.Backend)
	}

	if opts.SealSecret != "" {
		sealed, err := NewSealed(store, opts.SealSecret)
		if err != nil {
			_ = closer.Close()
			return nil, nil, err
		}
		store = sealed
	}
	zap.L().Info("credstore: backend ready", zap.String("backend", opts.Backend), zap.Bool("sealed", opts.SealSecret != ""))
	return store, closer, nil
}
