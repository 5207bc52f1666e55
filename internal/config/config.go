package config

import (
	"time"
)

type Config struct {
	Source       SourceConfig    `mapstructure:"source"`
	Target       TargetConfig    `mapstructure:"target"`
	StateStorage StateStorage    `mapstructure:"state_storage"`
	Sync         SyncConfig      `mapstructure:"sync"`
	Scheduler    SchedulerConfig `mapstructure:"scheduler"`
	Server       ServerConfig    `mapstructure:"server"`
	Status       StatusConfig    `mapstructure:"status"`
	Logging      LoggingConfig   `mapstructure:"logging"`
}

type SourceConfig struct {
	Driver      string            `mapstructure:"driver"` // "oracle" or "mysql"
	DSN         string            `mapstructure:"dsn"`
	Replication ReplicationConfig `mapstructure:"replication"`
}

// ReplicationConfig carries the binlog credentials used in realtime mode.
// Only meaningful when the source driver is mysql.
type ReplicationConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	ServerID uint32 `mapstructure:"server_id"`
}

type TargetConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type StateStorage struct {
	Type     string `mapstructure:"type"` // "mysql" or "sqlite"
	DSN      string `mapstructure:"dsn"`
	FilePath string `mapstructure:"file_path"` // For SQLite
}

type SyncConfig struct {
	Mode                   string        `mapstructure:"mode"` // "poll" or "realtime"
	Tables                 []TableConfig `mapstructure:"tables"`
	Workers                int           `mapstructure:"workers"`
	BatchInsertSize        int           `mapstructure:"batch_insert_size"`
	PollIntervalSeconds    int           `mapstructure:"poll_interval_seconds"`
	MaxBatchSize           int           `mapstructure:"max_batch_size"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	BackoffCeilingSeconds  int           `mapstructure:"backoff_ceiling_seconds"`
	VerifyCounts           bool          `mapstructure:"verify_counts"`
}

func (s SyncConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SyncConfig) BackoffCeiling() time.Duration {
	return time.Duration(s.BackoffCeilingSeconds) * time.Second
}

type TableConfig struct {
	Name            string `mapstructure:"name"`
	SourceTable     string `mapstructure:"source_table"` // defaults to Name
	TargetTable     string `mapstructure:"target_table"` // defaults to Name
	PrimaryKey      string `mapstructure:"primary_key"`
	TimestampColumn string `mapstructure:"timestamp_column"`
	BatchSize       int    `mapstructure:"batch_size"`
	Strict          bool   `mapstructure:"strict"`         // malformed row fails the batch instead of being skipped
	SettleMissing   bool   `mapstructure:"settle_missing"` // mark target rows absent from the source window as settled
	SettledColumn   string `mapstructure:"settled_column"` // column set by settle_missing
}

func (t TableConfig) Source() string {
	if t.SourceTable != "" {
		return t.SourceTable
	}
	return t.Name
}

func (t TableConfig) Target() string {
	if t.TargetTable != "" {
		return t.TargetTable
	}
	return t.Name
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type StatusConfig struct {
	FilePath string `mapstructure:"file_path"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}
