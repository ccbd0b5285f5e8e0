package app

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/whatsapp"
	"github.com/talkincode/wagate/internal/whatsapp/cloudapi"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig  *config.AppConfig
	gormDB     *gorm.DB
	sched      *cron.Cron
	bus        *whatsapp.EventBus
	supervisor *whatsapp.Supervisor
	webhooks   *cloudapi.Registry
	credCloser io.Closer
}

// Ensure Application implements all interfaces
var (
	_ DBProvider         = (*Application)(nil)
	_ ConfigProvider     = (*Application)(nil)
	_ SchedulerProvider  = (*Application)(nil)
	_ SupervisorProvider = (*Application)(nil)
	_ EventBusProvider   = (*Application)(nil)
	_ WebhookProvider    = (*Application)(nil)
	_ AppContext         = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Supervisor() *whatsapp.Supervisor {
	return a.supervisor
}

func (a *Application) Events() *whatsapp.EventBus {
	return a.bus
}

func (a *Application) CloudWebhook() *cloudapi.Registry {
	return a.webhooks
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// InitLogger installs the global zap logger.
func InitLogger(cfg config.LogConfig) {
	var zapConfig zap.Config
	if cfg.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.OutputPaths = []string{"stdout"}

	var logger *zap.Logger
	if cfg.FileEnable && cfg.Filename != "" {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}
		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller())
	} else {
		var err error
		logger, err = zapConfig.Build(zap.AddCaller())
		if err != nil {
			panic(err)
		}
	}
	zap.ReplaceGlobals(logger)
}

// Init prepares logging, metrics, the database and the WhatsApp stack.
// Slots are not connected until Start.
func (a *Application) Init(ctx context.Context) error {
	cfg := a.appConfig
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	InitLogger(cfg.Logger)

	if err = metrics.InitMetrics(cfg.System.Workdir); err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	if a.gormDB == nil {
		a.gormDB, err = getDatabase(cfg.Database, cfg.System.Workdir)
		if err != nil {
			return err
		}
		zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)
	}

	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	if err := a.initWhatsApp(ctx); err != nil {
		return err
	}

	a.initJob()
	return nil
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	db := a.gormDB
	if track {
		db = db.Debug()
	}
	return db.Migrator().AutoMigrate(domain.Tables...)
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

// Start restores every configured slot and begins connecting them.
func (a *Application) Start(ctx context.Context) error {
	return a.supervisor.Restore(ctx, a.seedSlots())
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		<-a.sched.Stop().Done()
	}
	if a.supervisor != nil {
		// persist the final view before the sessions go away
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.supervisor.SnapshotStatuses(ctx); err != nil {
			zap.L().Warn("whatsapp: final status snapshot failed", zap.Error(err))
		}
		cancel()
		a.supervisor.Shutdown()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.credCloser != nil {
		_ = a.credCloser.Close()
	}
	_ = metrics.Flush(time.Now())
	_ = metrics.Close()
	if a.gormDB != nil {
		if sqlDB, err := a.gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = zap.L().Sync()
}
