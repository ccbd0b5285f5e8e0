package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig system config
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig admin api config
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// JwtSecret enables bearer authentication on /api/v1 when set.
	JwtSecret string `yaml:"jwt_secret"`
	// AllowedOrigins are extra origin host patterns allowed to open the
	// event stream websocket. Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DBConfig database config
type DBConfig struct {
	Type     string `yaml:"type"` // postgres or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig logger config
type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// BackoffConfig reconnect delay policy
type BackoffConfig struct {
	Base        time.Duration `yaml:"base"`
	Max         time.Duration `yaml:"max"`
	Jitter      float64       `yaml:"jitter"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SlotConfig a slot declared in the config file
type SlotConfig struct {
	ID      string         `yaml:"id"`
	Name    string         `yaml:"name"`
	Mode    string         `yaml:"mode"`
	Options map[string]any `yaml:"options"`
}

// WebhookConfig Meta webhook settings for cloud-api slots
type WebhookConfig struct {
	VerifyToken string `yaml:"verify_token"`
	AppSecret   string `yaml:"app_secret"`
}

// WhatsAppConfig supervisor config
type WhatsAppConfig struct {
	// DefaultSlot serves the legacy single-slot routes.
	DefaultSlot string        `yaml:"default_slot"`
	Slots       []SlotConfig  `yaml:"slots"`
	Backoff     BackoffConfig `yaml:"backoff"`
	PoolSize    int           `yaml:"pool_size"`
	QueueSize   int           `yaml:"queue_size"`
	Webhook     WebhookConfig `yaml:"webhook"`
}

// CredentialConfig credential store config
type CredentialConfig struct {
	Backend       string `yaml:"backend"` // database, bolt, redis or memory
	BoltPath      string `yaml:"bolt_path"`
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	RedisPrefix   string `yaml:"redis_prefix"`
	SealSecret    string `yaml:"seal_secret"`
}

type AppConfig struct {
	System      SysConfig        `yaml:"system"`
	Web         WebConfig        `yaml:"web"`
	Database    DBConfig         `yaml:"database"`
	Logger      LogConfig        `yaml:"logger"`
	WhatsApp    WhatsAppConfig   `yaml:"whatsapp"`
	Credentials CredentialConfig `yaml:"credentials"`
}

func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

// GetBoltPath resolves the bolt file, relative paths live under the data dir.
func (c *AppConfig) GetBoltPath() string {
	p := c.Credentials.BoltPath
	if p == "" {
		p = "credentials.db"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.GetDataDir(), p)
}

// WebAddr is the listen address of the admin api.
func (c *AppConfig) WebAddr() string {
	return c.Web.Host + ":" + cast.ToString(c.Web.Port)
}

func (c *AppConfig) initDirs() error {
	for _, dir := range []string{c.System.Workdir, c.GetLogDir(), c.GetDataDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return nil
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wagate",
		Location: "Asia/Jakarta",
		Workdir:  "/var/wagate",
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 1818,
	},
	Database: DBConfig{
		Type:     "sqlite",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "wagate.db",
		User:     "postgres",
		Passwd:   "",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/wagate/logs/wagate.log",
	},
	WhatsApp: WhatsAppConfig{
		DefaultSlot: "default",
		Backoff: BackoffConfig{
			Base:   2 * time.Second,
			Max:    2 * time.Minute,
			Jitter: 0.2,
		},
		PoolSize:  16,
		QueueSize: 256,
	},
	Credentials: CredentialConfig{
		Backend: "database",
	},
}

// LoadConfig reads cfgfile over the defaults, applies WAGATE_* environment
// overrides and creates the working directories. An empty cfgfile falls back
// to ./wagate.yml and then /etc/wagate.yml when they exist.
func LoadConfig(cfgfile string) (*AppConfig, error) {
	if cfgfile == "" {
		for _, p := range []string{"wagate.yml", "/etc/wagate.yml"} {
			if _, err := os.Stat(p); err == nil {
				cfgfile = p
				break
			}
		}
	}
	cfg := new(AppConfig)
	*cfg = *DefaultAppConfig
	cfg.WhatsApp.Slots = nil
	if cfgfile != "" {
		data, err := os.ReadFile(cfgfile)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", cfgfile)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", cfgfile)
		}
	}
	applyEnv(cfg, os.Getenv)
	if err := cfg.initDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(getenv func(string) string, key string, dst *int) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = cast.ToInt(v)
	}
}

func setBool(getenv func(string) string, key string, dst *bool) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = cast.ToBool(v)
	}
}

func setStrings(getenv func(string) string, key string, dst *[]string) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setDuration(getenv func(string) string, key string, dst *time.Duration) {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		*dst = cast.ToDuration(v)
	}
}

func applyEnv(cfg *AppConfig, getenv func(string) string) {
	setString(getenv, "WAGATE_SYSTEM_WORKER_DIR", &cfg.System.Workdir)
	setString(getenv, "WAGATE_SYSTEM_LOCATION", &cfg.System.Location)
	setBool(getenv, "WAGATE_SYSTEM_DEBUG", &cfg.System.Debug)

	setString(getenv, "WAGATE_WEB_HOST", &cfg.Web.Host)
	setInt(getenv, "WAGATE_WEB_PORT", &cfg.Web.Port)
	setString(getenv, "WAGATE_WEB_JWT_SECRET", &cfg.Web.JwtSecret)
	setStrings(getenv, "WAGATE_WEB_ALLOWED_ORIGINS", &cfg.Web.AllowedOrigins)

	setString(getenv, "WAGATE_DB_TYPE", &cfg.Database.Type)
	setString(getenv, "WAGATE_DB_HOST", &cfg.Database.Host)
	setInt(getenv, "WAGATE_DB_PORT", &cfg.Database.Port)
	setString(getenv, "WAGATE_DB_NAME", &cfg.Database.Name)
	setString(getenv, "WAGATE_DB_USER", &cfg.Database.User)
	setString(getenv, "WAGATE_DB_PWD", &cfg.Database.Passwd)
	setBool(getenv, "WAGATE_DB_DEBUG", &cfg.Database.Debug)

	setString(getenv, "WAGATE_LOGGER_MODE", &cfg.Logger.Mode)
	setBool(getenv, "WAGATE_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
	setString(getenv, "WAGATE_LOGGER_FILENAME", &cfg.Logger.Filename)

	setString(getenv, "WAGATE_WHATSAPP_DEFAULT_SLOT", &cfg.WhatsApp.DefaultSlot)
	setInt(getenv, "WAGATE_WHATSAPP_POOL_SIZE", &cfg.WhatsApp.PoolSize)
	setInt(getenv, "WAGATE_WHATSAPP_QUEUE_SIZE", &cfg.WhatsApp.QueueSize)
	setDuration(getenv, "WAGATE_WHATSAPP_BACKOFF_BASE", &cfg.WhatsApp.Backoff.Base)
	setDuration(getenv, "WAGATE_WHATSAPP_BACKOFF_MAX", &cfg.WhatsApp.Backoff.Max)
	setInt(getenv, "WAGATE_WHATSAPP_BACKOFF_MAX_ATTEMPTS", &cfg.WhatsApp.Backoff.MaxAttempts)
	setString(getenv, "WAGATE_WHATSAPP_VERIFY_TOKEN", &cfg.WhatsApp.Webhook.VerifyToken)
	setString(getenv, "WAGATE_WHATSAPP_APP_SECRET", &cfg.WhatsApp.Webhook.AppSecret)

	setString(getenv, "WAGATE_CREDENTIAL_BACKEND", &cfg.Credentials.Backend)
	setString(getenv, "WAGATE_CREDENTIAL_BOLT_PATH", &cfg.Credentials.BoltPath)
	setString(getenv, "WAGATE_CREDENTIAL_REDIS_URL", &cfg.Credentials.RedisURL)
	setString(getenv, "WAGATE_CREDENTIAL_REDIS_PASSWORD", &cfg.Credentials.RedisPassword)
	setString(getenv, "WAGATE_CREDENTIAL_SEAL_SECRET", &cfg.Credentials.SealSecret)
}
