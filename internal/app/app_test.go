package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/whatsapp"
	"github.com/talkincode/wagate/pkg/metrics"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.System.Workdir = t.TempDir()
	cfg.System.Location = "UTC"
	cfg.Logger = config.LogConfig{Mode: "development"}
	cfg.Database = config.DBConfig{Type: "sqlite", Name: filepath.Join(cfg.System.Workdir, "test.db"), MaxConn: 1}
	cfg.Credentials = config.CredentialConfig{Backend: "memory"}
	cfg.WhatsApp.Slots = nil
	return &cfg
}

func TestInitWiresWhatsAppStack(t *testing.T) {
	a := NewApplication(testConfig(t))
	require.NoError(t, a.Init(context.Background()))
	defer a.Release()

	assert.NotNil(t, a.DB())
	assert.NotNil(t, a.Supervisor())
	assert.NotNil(t, a.Events())
	assert.NotNil(t, a.CloudWebhook())
	assert.NotNil(t, a.Scheduler())
	assert.True(t, a.DB().Migrator().HasTable(&domain.WhatsAppSlot{}))
	assert.True(t, a.DB().Migrator().HasTable(&domain.WhatsAppCredential{}))
	assert.Empty(t, a.Supervisor().List())
}

func TestInitRejectsUnknownCredentialBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Credentials.Backend = "floppy"
	a := NewApplication(cfg)
	assert.Error(t, a.Init(context.Background()))
	a.Release()
}

func TestSeedSlots(t *testing.T) {
	cfg := testConfig(t)
	a := NewApplication(cfg)

	seeds := a.seedSlots()
	require.Len(t, seeds, 1)
	assert.Equal(t, whatsapp.Slot{ID: "default", Name: "default", Mode: whatsapp.ModeQRPairing}, seeds[0])

	cfg.WhatsApp.Slots = []config.SlotConfig{
		{ID: "sales"},
		{ID: "support", Name: "Support", Mode: "cloud-api", Options: map[string]any{"phone_number_id": "1"}},
	}
	seeds = a.seedSlots()
	require.Len(t, seeds, 2)
	assert.Equal(t, "sales", seeds[0].Name)
	assert.Equal(t, whatsapp.ModeQRPairing, seeds[0].Mode)
	assert.Equal(t, whatsapp.ModeCloudAPI, seeds[1].Mode)
	assert.Equal(t, "1", seeds[1].Options["phone_number_id"])
}

func TestBackoffOf(t *testing.T) {
	b := backoffOf(config.DefaultAppConfig.WhatsApp.Backoff)
	assert.Equal(t, config.DefaultAppConfig.WhatsApp.Backoff.Base, b.Base)
	assert.Equal(t, config.DefaultAppConfig.WhatsApp.Backoff.Max, b.Max)
}

func TestMonitorTasksSetGauges(t *testing.T) {
	a := NewApplication(testConfig(t))
	require.NoError(t, a.Init(context.Background()))
	defer a.Release()

	a.SchedSlotMonitorTask()
	a.SchedStatusSnapshotTask()
	a.SchedMetricsFlushTask()
	a.SchedProcessMonitorTask()

	assert.Contains(t, metrics.Names(), "whatsapp_slots")
	assert.Contains(t, metrics.Names(), "whatsapp_slots_connected")
	assert.Zero(t, metrics.Get("whatsapp_slots"))
}

func TestSqlitePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/w", "data", "wagate.db"), sqlitePath(config.DBConfig{}, "/w"))
	assert.Equal(t, "/abs.db", sqlitePath(config.DBConfig{Name: "/abs.db"}, "/w"))
	assert.Equal(t, ":memory:", sqlitePath(config.DBConfig{Name: ":memory:"}, "/w"))
}

func TestGetDatabaseRejectsUnknownType(t *testing.T) {
	_, err := getDatabase(config.DBConfig{Type: "oracle"}, t.TempDir())
	assert.Error(t, err)
}
