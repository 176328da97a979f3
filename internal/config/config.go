// Package config loads and validates cluster master configuration via Viper.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
)

// State store backends.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreGCS      = "gcs"
	StoreRedis    = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Master        MasterConfig        `mapstructure:"master"`
	GroupSettings GroupSettingsConfig `mapstructure:"groupsettings"`
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	GCS           GCSConfig           `mapstructure:"gcs"`
	Redis         RedisConfig         `mapstructure:"redis"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	Events        EventsConfig        `mapstructure:"events"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// MasterConfig drives the scheduler.
type MasterConfig struct {
	Enabled             bool              `mapstructure:"enabled"`
	StateStore          string            `mapstructure:"state_store"`
	StateFile           string            `mapstructure:"state_file"`
	PollIntervalSeconds int               `mapstructure:"poll_interval_seconds"`
	Nodes               map[string]string `mapstructure:"nodes"`
	DefaultPriority     int               `mapstructure:"default_priority"`
	GlobalSettings      []string          `mapstructure:"global_settings"`
	Settings            map[string]any    `mapstructure:"settings"`
	CallbackURL         string            `mapstructure:"callback_url"`
	DialTimeoutSeconds  int               `mapstructure:"dial_timeout_seconds"`
}

// GroupSettingsConfig points at the per-domain defaults file.
type GroupSettingsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
	Watch   bool   `mapstructure:"watch"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PostgresConfig locates the snapshot table.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// GCSConfig locates the snapshot object.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// RedisConfig locates the snapshot key.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EventsConfig tunes the lifecycle event hub.
type EventsConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLUSTER_MASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("master.enabled", false)
	v.SetDefault("master.state_store", StoreFile)
	v.SetDefault("master.poll_interval_seconds", 5)
	v.SetDefault("master.default_priority", cluster.DefaultPriority)
	v.SetDefault("master.dial_timeout_seconds", 5)
	v.SetDefault("groupsettings.enabled", false)
	v.SetDefault("groupsettings.watch", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("postgres.table", "cluster_master_state")
	v.SetDefault("gcs.object", "cluster-master/pending.json")
	v.SetDefault("redis.key", "cluster-master:pending")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 256)
	v.SetDefault("events.max_batch_wait_ms", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	// Keys without a meaningful default are registered so that AutomaticEnv
	// can bind them during Unmarshal.
	for _, key := range []string{
		"master.state_file", "master.callback_url", "groupsettings.file", "auth.api_key",
		"postgres.dsn", "gcs.bucket", "redis.addr", "redis.password",
		"pubsub.project_id", "pubsub.topic_name", "logging.file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !c.Master.Enabled {
		return fmt.Errorf("master.enabled must be true to run the cluster master")
	}
	if err := c.validateStateStore(); err != nil {
		return err
	}
	if c.Master.PollIntervalSeconds <= 0 {
		return fmt.Errorf("master.poll_interval_seconds must be > 0")
	}
	if c.Master.DialTimeoutSeconds <= 0 {
		return fmt.Errorf("master.dial_timeout_seconds must be > 0")
	}
	for name, addr := range c.Master.Nodes {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("master.nodes.%s must be host:port: %w", name, err)
		}
	}
	if c.Master.CallbackURL == "" {
		return fmt.Errorf("master.callback_url is required")
	}
	if u, err := url.Parse(c.Master.CallbackURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("master.callback_url must be an absolute URL")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.GroupSettings.Enabled && c.GroupSettings.File == "" {
		return fmt.Errorf("groupsettings.file must be set when group settings are enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

func (c Config) validateStateStore() error {
	switch c.Master.StateStore {
	case StoreFile:
		if c.Master.StateFile == "" {
			return fmt.Errorf("master.state_file is required for the file state store")
		}
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres state store")
		}
	case StoreGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("gcs.bucket is required for the gcs state store")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis state store")
		}
	default:
		return fmt.Errorf("unknown master.state_store %q", c.Master.StateStore)
	}
	return nil
}

// PollInterval converts the poll interval to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Master.PollIntervalSeconds) * time.Second
}

// DialTimeout converts the dial timeout to a duration.
func (c Config) DialTimeout() time.Duration {
	return time.Duration(c.Master.DialTimeoutSeconds) * time.Second
}

// MasterCallbackURL is the report URL base handed to workers. With auth
// enabled the API key rides in the api_key query parameter, since workers
// only echo back the URL they were given.
func (c Config) MasterCallbackURL() string {
	if !c.Auth.Enabled {
		return c.Master.CallbackURL
	}
	u, err := url.Parse(c.Master.CallbackURL)
	if err != nil {
		return c.Master.CallbackURL
	}
	q := u.Query()
	if q.Get("api_key") != "" {
		return c.Master.CallbackURL
	}
	q.Set("api_key", c.Auth.APIKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// MaxBatchWait converts the event batch wait to a duration.
func (c Config) MaxBatchWait() time.Duration {
	return time.Duration(c.Events.MaxBatchWaitMs) * time.Millisecond
}
