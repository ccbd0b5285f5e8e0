package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/whatsapp"
	"github.com/talkincode/wagate/internal/whatsapp/cloudapi"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// SupervisorProvider provides the slot supervisor
type SupervisorProvider interface {
	Supervisor() *whatsapp.Supervisor
}

// EventBusProvider provides the domain event bus
type EventBusProvider interface {
	Events() *whatsapp.EventBus
}

// WebhookProvider provides the cloud-api webhook registry
type WebhookProvider interface {
	CloudWebhook() *cloudapi.Registry
}

// AppContext combines all provider interfaces for full application context
// Services should depend on specific providers or this combined interface
type AppContext interface {
	DBProvider
	ConfigProvider
	SchedulerProvider
	SupervisorProvider
	EventBusProvider
	WebhookProvider

	// Application lifecycle methods
	MigrateDB(track bool) error
	DropAll()
	Start(ctx context.Context) error
	Release()
}
