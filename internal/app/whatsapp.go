package app

import (
	"context"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/credstore"
	"github.com/talkincode/wagate/internal/whatsapp"
	"github.com/talkincode/wagate/internal/whatsapp/cloudapi"
	"github.com/talkincode/wagate/internal/whatsapp/meow"
	"go.uber.org/zap"
)

func (a *Application) initWhatsApp(ctx context.Context) error {
	cfg := a.appConfig

	creds, closer, err := credstore.Open(ctx, credstore.Options{
		Backend:       cfg.Credentials.Backend,
		BoltPath:      cfg.GetBoltPath(),
		RedisURL:      cfg.Credentials.RedisURL,
		RedisPassword: cfg.Credentials.RedisPassword,
		RedisPrefix:   cfg.Credentials.RedisPrefix,
		SealSecret:    cfg.Credentials.SealSecret,
	}, a.gormDB)
	if err != nil {
		return err
	}
	a.credCloser = closer

	sqlDB, err := a.gormDB.DB()
	if err != nil {
		return errors.Wrap(err, "database handle")
	}
	container, err := meow.OpenContainer(ctx, sqlDB, meow.Dialect(cfg.Database.Type))
	if err != nil {
		return err
	}

	a.webhooks = cloudapi.NewRegistry(cfg.WhatsApp.Webhook.VerifyToken, cfg.WhatsApp.Webhook.AppSecret)
	a.bus = whatsapp.NewEventBus(cfg.WhatsApp.QueueSize)
	a.supervisor, err = whatsapp.NewSupervisor(whatsapp.SupervisorOptions{
		Transports: whatsapp.ModeFactories{
			whatsapp.ModeQRPairing: meow.NewFactory(container),
			whatsapp.ModeCloudAPI:  cloudapi.NewFactory(a.webhooks),
		},
		Credentials: creds,
		Events:      a.bus,
		Repository:  whatsapp.NewGormSlotRepository(a.gormDB),
		Backoff:     backoffOf(cfg.WhatsApp.Backoff),
		PoolSize:    cfg.WhatsApp.PoolSize,
	})
	if err != nil {
		return err
	}
	zap.L().Info("whatsapp: supervisor ready",
		zap.Int("pool_size", cfg.WhatsApp.PoolSize),
		zap.Int("config_slots", len(cfg.WhatsApp.Slots)))
	return nil
}

func backoffOf(c config.BackoffConfig) whatsapp.Backoff {
	return whatsapp.Backoff{
		Base:        c.Base,
		Max:         c.Max,
		Jitter:      c.Jitter,
		MaxAttempts: c.MaxAttempts,
	}
}

// seedSlots converts the slots declared in the config file. Without any
// declared slot, the default slot is seeded as a qr-pairing slot so the
// legacy single-number routes work out of the box.
func (a *Application) seedSlots() []whatsapp.Slot {
	wc := a.appConfig.WhatsApp
	slots := make([]whatsapp.Slot, 0, len(wc.Slots)+1)
	for _, sc := range wc.Slots {
		slots = append(slots, slotOf(sc))
	}
	if len(slots) == 0 && wc.DefaultSlot != "" {
		slots = append(slots, whatsapp.Slot{ID: wc.DefaultSlot, Name: wc.DefaultSlot, Mode: whatsapp.ModeQRPairing})
	}
	return slots
}

func slotOf(sc config.SlotConfig) whatsapp.Slot {
	name := sc.Name
	if name == "" {
		name = sc.ID
	}
	mode := whatsapp.Mode(sc.Mode)
	if mode == "" {
		mode = whatsapp.ModeQRPairing
	}
	return whatsapp.Slot{ID: sc.ID, Name: name, Mode: mode, Options: sc.Options}
}
