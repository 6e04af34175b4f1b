// Package config loads Harrier configuration from defaults, an optional
// YAML file, a local .env file and HARRIER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. HARRIER_SERVER_PORT.
const EnvPrefix = "HARRIER"

// Profiles select the base defaults.
const (
	ProfileDefault = "default"
	ProfileCluster = "cluster"
)

// Load builds the configuration. Precedence, lowest first: profile
// defaults, config file, environment. A missing config file is not an
// error unless configPath names it explicitly.
func Load(configPath string) (*domain.Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("profile", ProfileDefault)
	base, err := profileDefaults(v.GetString("profile"))
	if err != nil {
		return nil, err
	}
	setDefaults(v, base)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("harrier")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/harrier")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func profileDefaults(profile string) (*domain.Config, error) {
	switch profile {
	case ProfileDefault, "":
		return domain.DefaultConfig(), nil
	case ProfileCluster:
		return domain.ClusterConfig(), nil
	}
	return nil, fmt.Errorf("unknown profile %q", profile)
}

// setDefaults registers every key so that environment overrides apply even
// when no config file mentions it.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.max_body_bytes", c.Server.MaxBodyBytes)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_dsn", c.Repository.PostgresDSN)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.Cache.EnableTwoPhase)

	v.SetDefault("event_bus.type", c.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)

	v.SetDefault("detection.workers", c.Detection.Workers)
	v.SetDefault("detection.model.enabled", c.Detection.Model.Enabled)
	v.SetDefault("detection.model.timeout", c.Detection.Model.Timeout)
	v.SetDefault("detection.model.threshold", c.Detection.Model.Threshold)

	v.SetDefault("velocity.enabled", c.Velocity.Enabled)
	v.SetDefault("velocity.window", c.Velocity.Window)

	v.SetDefault("rules.pack_path", c.Rules.PackPath)
	v.SetDefault("rules.watch_pack", c.Rules.WatchPack)
	v.SetDefault("rules.seed_rules", c.Rules.SeedRules)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
}

// Validate rejects settings the server cannot start with.
func Validate(c *domain.Config) error {
	var problems []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("repository.driver %q unsupported", c.Repository.Driver))
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("cache.type %q unsupported", c.Cache.Type))
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		problems = append(problems, fmt.Sprintf("event_bus.type %q unsupported", c.EventBus.Type))
	}
	if c.Detection.Workers < 0 {
		problems = append(problems, "detection.workers must not be negative")
	}
	if t := c.Detection.Model.Threshold; t < 0 || t > 1 {
		problems = append(problems, "detection.model.threshold must be within [0,1]")
	}
	if c.Rules.WatchPack && c.Rules.PackPath == "" {
		problems = append(problems, "rules.watch_pack requires rules.pack_path")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
