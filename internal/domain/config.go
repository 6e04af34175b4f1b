package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`

	Detection DetectionConfig `json:"detection" mapstructure:"detection"`
	Velocity  VelocityConfig  `json:"velocity" mapstructure:"velocity"`
	Rules     RulesConfig     `json:"rules" mapstructure:"rules"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
	MaxBodyBytes int64  `json:"maxBodyBytes" mapstructure:"max_body_bytes"`
}

// DetectionConfig tunes the detection pipeline.
type DetectionConfig struct {
	// Workers caps the batch worker pool. Zero means 4×GOMAXPROCS.
	Workers int         `json:"workers" mapstructure:"workers"`
	Model   ModelConfig `json:"model" mapstructure:"model"`
}

// ModelConfig configures the fallback scorer consulted when no rule matches.
type ModelConfig struct {
	Enabled   bool          `json:"enabled" mapstructure:"enabled"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	Threshold float64       `json:"threshold" mapstructure:"threshold"`
}

// VelocityConfig enables derived per-payer counters.
type VelocityConfig struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	Window  time.Duration `json:"window" mapstructure:"window"`
}

// RulesConfig points at an optional YAML rule pack.
type RulesConfig struct {
	PackPath  string `json:"packPath" mapstructure:"pack_path"`
	WatchPack bool   `json:"watchPack" mapstructure:"watch_pack"`
	SeedRules bool   `json:"seedRules" mapstructure:"seed_rules"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-process
// cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 10 << 20,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detection: DetectionConfig{
			Model: ModelConfig{
				Timeout:   200 * time.Millisecond,
				Threshold: 0.5,
			},
		},
		Velocity: VelocityConfig{
			Window: time.Hour,
		},
		Rules: RulesConfig{
			SeedRules: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "harrier",
		},
	}
}

// ClusterConfig returns defaults for a shared deployment backed by
// PostgreSQL, Redis and NATS.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
