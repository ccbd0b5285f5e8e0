package credstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagate/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func exerciseBackend(t *testing.T, store Backend) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Load(ctx, "slot-a")
	require.NoError(t, err)
	assert.Nil(t, got, "absent record loads as nil")

	require.NoError(t, store.Save(ctx, "slot-a", []byte("first")))
	require.NoError(t, store.Save(ctx, "slot-a", []byte("second")))
	require.NoError(t, store.Save(ctx, "slot-b", []byte("other")))

	got, err = store.Load(ctx, "slot-a")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	require.NoError(t, store.Delete(ctx, "slot-a"))
	got, err = store.Load(ctx, "slot-a")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Load(ctx, "slot-b")
	require.NoError(t, err)
	assert.Equal(t, []byte("other"), got)

	require.NoError(t, store.Delete(ctx, "never-saved"))
}

func TestMemoryStore(t *testing.T) {
	exerciseBackend(t, NewMemoryStore())
}

func TestBoltStore(t *testing.T) {
	s, err := OpenBolt(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseBackend(t, s)
}

func TestGormStore(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "creds.sqlite")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.WhatsAppCredential{}))
	exerciseBackend(t, NewGormStore(db))
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("WAGATE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WAGATE_TEST_REDIS_URL not set")
	}
	s, err := OpenRedis(context.Background(), url, "", "wagate:test:creds:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseBackend(t, s)
}

func TestSealedStore(t *testing.T) {
	inner := NewMemoryStore()
	sealed, err := NewSealed(inner, "passphrase")
	require.NoError(t, err)
	exerciseBackend(t, sealed)

	ctx := context.Background()
	require.NoError(t, sealed.Save(ctx, "slot-a", []byte("secret material")))

	raw, err := inner.Load(ctx, "slot-a")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret material")

	// moving a sealed record to another slot must not open
	require.NoError(t, inner.Save(ctx, "slot-c", raw))
	_, err = sealed.Load(ctx, "slot-c")
	assert.Error(t, err)

	other, err := NewSealed(inner, "different")
	require.NoError(t, err)
	_, err = other.Load(ctx, "slot-a")
	assert.Error(t, err)
}

func TestSealedRejectsEmptySecret(t *testing.T) {
	_, err := NewSealed(NewMemoryStore(), "")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, closer, err := Open(ctx, Options{Backend: "memory", SealSecret: "x"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Sealed{}, store)
	assert.NoError(t, closer.Close())

	store, closer, err = Open(ctx, Options{Backend: "bolt", BoltPath: filepath.Join(t.TempDir(), "b.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, store)
	assert.NoError(t, closer.Close())

	_, _, err = Open(ctx, Options{Backend: "database"}, nil)
	assert.Error(t, err)

	_, _, err = Open(ctx, Options{Backend: "floppy"}, nil)
	assert.Error(t, err)
}
