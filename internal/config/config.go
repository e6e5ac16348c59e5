package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/spf13/viper"
)

type AppConfig struct {
	API      *APIConfig      `mapstructure:"api"`
	Gin      *GinConfig      `mapstructure:"gin"`
	Postgres *PostgresConfig `mapstructure:"postgres"`
	Redis    *RedisConfig    `mapstructure:"redis"`
	PubSub   *PubSubConfig   `mapstructure:"pubsub"`
	Audit    *AuditConfig    `mapstructure:"audit"`
}

type APIConfig struct {
	Environment        string   `mapstructure:"environment"`
	Port               string   `mapstructure:"port"`
	BaseURL            string   `mapstructure:"base_url"`
	AllowedCORSDomains []string `mapstructure:"allowed_cors_domains"`
	JWTSigningKey      string   `mapstructure:"jwt_signing_key"`
	LogLevel           string   `mapstructure:"log_level"`
}

type GinConfig struct {
	Mode string `mapstructure:"mode"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig is optional. With an empty Addr drafts and apply locks stay in
// process memory.
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// PubSubConfig is optional. With an empty Topic applied reconciliations are
// only logged.
type PubSubConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Topic           string `mapstructure:"topic"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

type AuditConfig struct {
	AutoAdvanceDelay  time.Duration `mapstructure:"auto_advance_delay"`
	LedgerMode        string        `mapstructure:"ledger_mode"`
	OptimisticRetries int           `mapstructure:"optimistic_retries"`
	ApplyTimeout      time.Duration `mapstructure:"apply_timeout"`
	ApplyLockTTL      time.Duration `mapstructure:"apply_lock_ttl"`
	DraftLockTTL      time.Duration `mapstructure:"draft_lock_ttl"`
	DraftLockWait     time.Duration `mapstructure:"draft_lock_wait"`
	TimeZone          string        `mapstructure:"time_zone"`
}

func (c *AuditConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.TimeZone)
}

func (c *AuditConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AutoAdvanceDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.LedgerMode, validation.Required, validation.In("atomic", "optimistic")),
		validation.Field(&c.OptimisticRetries, validation.Min(0)),
		validation.Field(&c.ApplyTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ApplyLockTTL, validation.Required),
		validation.Field(&c.DraftLockTTL, validation.Required),
		validation.Field(&c.DraftLockWait, validation.Required),
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.environment", "development")
	v.SetDefault("api.port", "8080")
	v.SetDefault("api.log_level", "info")
	v.SetDefault("gin.mode", "debug")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("redis.session_ttl", 12*time.Hour)
	v.SetDefault("audit.auto_advance_delay", 600*time.Millisecond)
	v.SetDefault("audit.ledger_mode", "atomic")
	v.SetDefault("audit.optimistic_retries", 3)
	v.SetDefault("audit.apply_timeout", 15*time.Second)
	v.SetDefault("audit.apply_lock_ttl", 30*time.Second)
	v.SetDefault("audit.draft_lock_ttl", 10*time.Second)
	v.SetDefault("audit.draft_lock_wait", 5*time.Second)
	v.SetDefault("audit.time_zone", "Asia/Seoul")
}

// Loader reads the YAML config and lets every key be overridden from the
// environment, e.g. AUDIT_APPLY_TIMEOUT=5s.
type Loader struct {
	v *viper.Viper
}

func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Loader{v: v}
}

func (l *Loader) Load() (*AppConfig, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("l.v.ReadInConfig -> %w", err)
	}

	return l.unmarshal()
}

func (l *Loader) unmarshal() (*AppConfig, error) {
	conf := &AppConfig{}
	if err := l.v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("l.v.Unmarshal -> %w", err)
	}

	if conf.Audit == nil {
		conf.Audit = &AuditConfig{}
	}
	if err := conf.Audit.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audit config -> %w", err)
	}

	return conf, nil
}

// Watch calls onChange with the re-read config every time the file changes.
// Invalid edits are reported through onErr and otherwise ignored.
func (l *Loader) Watch(onChange func(*AppConfig), onErr func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		conf, err := l.unmarshal()
		if err != nil {
			onErr(err)
			return
		}
		onChange(conf)
	})
	l.v.WatchConfig()
}

// Load is a shortcut for NewLoader(path).Load().
func Load(path string) (*AppConfig, error) {
	return NewLoader(path).Load()
}
