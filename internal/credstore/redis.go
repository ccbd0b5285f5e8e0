package credstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces credential keys.
const DefaultRedisPrefix = "wagate:creds:"

// RedisStore keeps credential records as plain redis string keys.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to url (redis://host:port/db) and verifies the link.
func OpenRedis(ctx context.Context, url, password, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return NewRedisStore(c, prefix), nil
}

func NewRedisStore(c *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: c, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, slotID string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.prefix+slotID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load credentials of %s", slotID)
	}
	return v, nil
}

func (s *RedisStore) Save(ctx context.Context, slotID string, creds []byte) error {
	err := s.client.Set(ctx, s.prefix+slotID, creds, 0).Err()
	return errors.Wrapf(err, "save credentials of %s", slotID)
}

func (s *RedisStore) Delete(ctx context.Context, slotID string) error {
	err := s.client.Del(ctx, s.prefix+slotID).Err()
	return errors.Wrapf(err, "delete credentials of %s", slotID)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
