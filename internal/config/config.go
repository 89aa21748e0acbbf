package config

import "time"

// Config is the root configuration for an agent process.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LoggingConfig    `yaml:"logging"`
	Journal    JournalConfig    `yaml:"journal"`
}

// ServerConfig locates the host.
type ServerConfig struct {
	Host string `yaml:"host"` // Host name, or a ws:// / wss:// base URL
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
	Dev  bool   `yaml:"dev"`
}

// TimeoutsConfig holds every timing knob. A zero Request timeout means
// requests wait until a reply arrives or the connection closes.
type TimeoutsConfig struct {
	Connect time.Duration `yaml:"connect"`
	Await   time.Duration `yaml:"await"`
	Request time.Duration `yaml:"request"`
	Write   time.Duration `yaml:"write"`
	Ping    time.Duration `yaml:"ping"`
	Pong    time.Duration `yaml:"pong"`
}

// ConnectionConfig holds socket limits.
type ConnectionConfig struct {
	SendRate  float64 `yaml:"send_rate"`  // Frames per second, 0 = unlimited
	SendBurst int     `yaml:"send_burst"`
	ReadLimit int64   `yaml:"read_limit"` // Bytes
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"` // Optional rotated log file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// JournalConfig controls the optional frame journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
