package whatsapp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagate/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) (*GormSlotRepository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "slots.sqlite")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Tables...))
	return NewGormSlotRepository(db), db
}

func TestGormSlotRepository(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()

	cloud := Slot{ID: "sales", Name: "Sales", Mode: ModeCloudAPI, Options: map[string]any{"phone_number_id": "123"}}
	require.NoError(t, repo.SaveSlot(ctx, cloud))
	require.NoError(t, repo.SaveSlot(ctx, qrSlot("support")))

	slots, err := repo.ListSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "sales", slots[0].ID)
	assert.Equal(t, ModeCloudAPI, slots[0].Mode)
	assert.Equal(t, "123", slots[0].Options["phone_number_id"])
	assert.Equal(t, "support", slots[1].ID)

	cloud.Name = "Sales EU"
	require.NoError(t, repo.SaveSlot(ctx, cloud))
	slots, err = repo.ListSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "Sales EU", slots[0].Name)

	since := time.Now().Truncate(time.Second)
	require.NoError(t, repo.SaveStatus(ctx, SlotStatus{
		Slot:   cloud,
		Status: StatusDisconnected,
		Reason: ReasonLoggedOut,
		Since:  since,
	}))
	var row domain.WhatsAppSlot
	require.NoError(t, db.Where("id = ?", "sales").First(&row).Error)
	assert.Equal(t, "disconnected", row.Status)
	assert.Equal(t, "logged_out", row.Reason)

	// the definition is updated without touching the stored status
	require.NoError(t, repo.SaveSlot(ctx, cloud))
	require.NoError(t, db.Where("id = ?", "sales").First(&row).Error)
	assert.Equal(t, "logged_out", row.Reason)

	require.NoError(t, repo.DeleteSlot(ctx, "sales"))
	slots, err = repo.ListSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "support", slots[0].ID)
}

func TestGormSlotRepositoryNeverStoresSecrets(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()

	slot := Slot{ID: "sales", Mode: ModeCloudAPI, Options: map[string]any{"token": "EAAG-secret", "phone_number_id": "123"}}
	require.NoError(t, repo.SaveSlot(ctx, slot))

	var row domain.WhatsAppSlot
	require.NoError(t, db.Where("id = ?", "sales").First(&row).Error)
	assert.NotContains(t, row.Options, "EAAG-secret")
	assert.Contains(t, row.Options, "123")
	assert.Equal(t, "EAAG-secret", slot.Options["token"], "the caller's slot is left untouched")
}
