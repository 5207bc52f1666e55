package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix("DBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("source.driver", "oracle")
	v.SetDefault("target.driver", "mysql")
	v.SetDefault("state_storage.type", "sqlite")
	v.SetDefault("state_storage.file_path", "sync_state.db")
	v.SetDefault("sync.mode", "poll")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.batch_insert_size", 500)
	v.SetDefault("sync.poll_interval_seconds", 900)
	v.SetDefault("sync.max_batch_size", 1000)
	v.SetDefault("sync.max_consecutive_failures", 5)
	v.SetDefault("sync.backoff_ceiling_seconds", 300)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("status.file_path", "sync_status.json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Source.DSN == "" {
		return fmt.Errorf("source.dsn is required")
	}
	if c.Target.DSN == "" {
		return fmt.Errorf("target.dsn is required")
	}
	if len(c.Sync.Tables) == 0 {
		return fmt.Errorf("sync.tables must list at least one table")
	}
	for _, t := range c.Sync.Tables {
		if t.Name == "" {
			return fmt.Errorf("sync.tables entry is missing a name")
		}
		if t.PrimaryKey == "" {
			return fmt.Errorf("table %s: primary_key is required", t.Name)
		}
		if t.TimestampColumn == "" {
			return fmt.Errorf("table %s: timestamp_column is required", t.Name)
		}
		if t.SettleMissing && t.SettledColumn == "" {
			return fmt.Errorf("table %s: settle_missing requires settled_column", t.Name)
		}
	}
	switch c.Sync.Mode {
	case "poll":
	case "realtime":
		if c.Source.Driver != "mysql" {
			return fmt.Errorf("sync.mode realtime requires a mysql source, got %q", c.Source.Driver)
		}
		if c.Source.Replication.Host == "" {
			return fmt.Errorf("sync.mode realtime requires source.replication settings")
		}
	default:
		return fmt.Errorf("unknown sync.mode %q", c.Sync.Mode)
	}
	switch c.StateStorage.Type {
	case "mysql":
		if c.StateStorage.DSN == "" {
			return fmt.Errorf("state_storage.dsn is required for mysql state storage")
		}
	case "sqlite":
		if c.StateStorage.FilePath == "" {
			return fmt.Errorf("state_storage.file_path is required for sqlite state storage")
		}
	default:
		return fmt.Errorf("unknown state_storage.type %q", c.StateStorage.Type)
	}
	return nil
}
