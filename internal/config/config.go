package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PostgresConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Database string        `mapstructure:"database"`
	SSLMode  string        `mapstructure:"ssl_mode"`
	MaxConns int32         `mapstructure:"max_conns"`
	MinConns int32         `mapstructure:"min_conns"`
	PingWait time.Duration `mapstructure:"ping_wait"`
}

// ScyllaConfig configures the optional call-history sink.
type ScyllaConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Hosts             []string      `mapstructure:"hosts"`
	Port              int           `mapstructure:"port"`
	Keyspace          string        `mapstructure:"keyspace"`
	Consistency       string        `mapstructure:"consistency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	DisableInitSchema bool          `mapstructure:"disable_init_schema"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SchedulerConfig drives the Scheduler's reconciliation cycle (spec.md §4.5, §6).
type SchedulerConfig struct {
	CheckInterval          time.Duration `mapstructure:"check_interval"`
	MaxConcurrentCampaigns int           `mapstructure:"max_concurrent_campaigns"`
	CampaignFetchLimit     int           `mapstructure:"campaign_fetch_limit"`
}

// RetryConfig supplies the defaults the callback consumer falls back to (spec.md §6, §9).
type RetryConfig struct {
	DefaultRetryInterval time.Duration `mapstructure:"default_retry_interval"`
	MaxRetryAttempts     int           `mapstructure:"max_retry_attempts"`
}

// Load reads configuration from file and environment variables, env taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("SCHED")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	bindLegacyEnvVars(v)

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.check_interval", 60*time.Second)
	v.SetDefault("scheduler.max_concurrent_campaigns", 10)
	v.SetDefault("scheduler.campaign_fetch_limit", 100)
	v.SetDefault("retry.default_retry_interval", 300*time.Second)
	v.SetDefault("retry.max_retry_attempts", 3)
}

// bindLegacyEnvVars binds the literal env var names named in spec.md §6, which do not
// follow the SCHED_ prefix/section convention the rest of the surface uses.
func bindLegacyEnvVars(v *viper.Viper) {
	_ = v.BindEnv("postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres.database", "POSTGRES_DB")
	_ = v.BindEnv("postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("scheduler.check_interval", "CHECK_INTERVAL")
	_ = v.BindEnv("scheduler.max_concurrent_campaigns", "MAX_CONCURRENT_CAMPAIGNS")
	_ = v.BindEnv("retry.default_retry_interval", "DEFAULT_RETRY_INTERVAL")
	_ = v.BindEnv("retry.max_retry_attempts", "MAX_RETRY_ATTEMPTS")
}

// NewEnvReplacer standardizes environment variable names for nested keys.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
