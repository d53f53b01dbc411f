package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all station configuration
type Config struct {
	App      AppConfig
	Log      LogConfig
	Cache    CacheConfig
	Remote   RemoteConfig
	Redis    RedisConfig
	Sync     SyncConfig
	Scan     ScanConfig
	Workflow WorkflowConfig
	HTTP     HTTPConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// CacheConfig holds the local cache store settings
type CacheConfig struct {
	Path        string // sqlite database file, ":memory:" for tests
	BusyTimeout time.Duration
}

// RemoteConfig holds the data service connection settings
type RemoteConfig struct {
	BaseURL    string
	ServiceKey string // static API key (a JWT); validated at startup
	Timeout    time.Duration
}

// RedisConfig holds the change-notification feed settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	// ChannelPrefix is prepended to the watched table name, e.g.
	// "equiptrack." + "loan_items".
	ChannelPrefix string
}

// SyncConfig holds the sync adapter and connectivity monitor settings
type SyncConfig struct {
	HealthInterval time.Duration // how often the monitor probes the remote
	HealthTimeout  time.Duration
	RefreshOnline  bool // refresh cached reads when connectivity returns
}

// ScanConfig holds the scan decoder settings
type ScanConfig struct {
	InterKeyTimeout time.Duration // gap above which the buffer resets
	MinLength       int
	Prefix          string // required scan prefix, empty to disable
	SuffixKeys      []string
}

// WorkflowConfig holds the loan workflow settings
type WorkflowConfig struct {
	AutoIssue       bool
	IdleReset       time.Duration // await-device timeout in issue mode
	ScanCooldown    time.Duration // minimum gap between any two tokens
	RepeatWindow    time.Duration // window in which an identical token is dropped
	DefaultCategory string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	CORSAllowOrigins []string
}

// Load loads configuration from a TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with STATION_ prefix (e.g. STATION_REMOTE_SERVICE_KEY)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/equiptrack")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("STATION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Cache: CacheConfig{
			Path:        v.GetString("cache.path"),
			BusyTimeout: v.GetDuration("cache.busy_timeout"),
		},
		Remote: RemoteConfig{
			BaseURL:    v.GetString("remote.base_url"),
			ServiceKey: v.GetString("remote.service_key"),
			Timeout:    v.GetDuration("remote.timeout"),
		},
		Redis: RedisConfig{
			Enabled:       v.GetBool("redis.enabled"),
			Host:          v.GetString("redis.host"),
			Port:          v.GetInt("redis.port"),
			Password:      v.GetString("redis.password"),
			DB:            v.GetInt("redis.db"),
			ChannelPrefix: v.GetString("redis.channel_prefix"),
		},
		Sync: SyncConfig{
			HealthInterval: v.GetDuration("sync.health_interval"),
			HealthTimeout:  v.GetDuration("sync.health_timeout"),
			RefreshOnline:  v.GetBool("sync.refresh_online"),
		},
		Scan: ScanConfig{
			InterKeyTimeout: v.GetDuration("scan.inter_key_timeout"),
			MinLength:       v.GetInt("scan.min_length"),
			Prefix:          v.GetString("scan.prefix"),
			SuffixKeys:      v.GetStringSlice("scan.suffix_keys"),
		},
		Workflow: WorkflowConfig{
			AutoIssue:       v.GetBool("workflow.auto_issue"),
			IdleReset:       v.GetDuration("workflow.idle_reset"),
			ScanCooldown:    v.GetDuration("workflow.scan_cooldown"),
			RepeatWindow:    v.GetDuration("workflow.repeat_window"),
			DefaultCategory: v.GetString("workflow.default_category"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required")
	}
	if c.Scan.MinLength < 1 {
		return fmt.Errorf("scan.min_length must be positive, got %d", c.Scan.MinLength)
	}
	if c.Workflow.ScanCooldown > c.Workflow.RepeatWindow {
		return fmt.Errorf("workflow.scan_cooldown must not exceed workflow.repeat_window")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "equiptrack-station")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("cache.path", "equiptrack.db")
	v.SetDefault("cache.busy_timeout", 5*time.Second)

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout", 10*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "equiptrack.")

	v.SetDefault("sync.health_interval", 15*time.Second)
	v.SetDefault("sync.health_timeout", 3*time.Second)
	v.SetDefault("sync.refresh_online", true)

	v.SetDefault("scan.inter_key_timeout", 35*time.Millisecond)
	v.SetDefault("scan.min_length", 4)
	v.SetDefault("scan.prefix", "")
	v.SetDefault("scan.suffix_keys", []string{"Enter", "Tab"})

	v.SetDefault("workflow.auto_issue", true)
	v.SetDefault("workflow.idle_reset", 25*time.Second)
	v.SetDefault("workflow.scan_cooldown", 300*time.Millisecond)
	v.SetDefault("workflow.repeat_window", 1500*time.Millisecond)
	v.SetDefault("workflow.default_category", "terminal")

	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.cors_allow_origins", []string{})
}
