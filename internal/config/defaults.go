package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHost           = "localhost"
	DefaultPort           = 12345
	DefaultPath           = "agent"
	DefaultConnectTimeout = 10 * time.Second
	DefaultAwaitTimeout   = 5 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 90 * time.Second
	DefaultReadLimit      = 32 << 20
	DefaultSendBurst      = 16
	DefaultLogLevel       = "info"
	DefaultLogMaxSizeMB   = 50
	DefaultLogMaxBackups  = 3
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 4
	DefaultMinConns       = 1
	DefaultJournalTable   = "agent_frames"
	DefaultBatchSize      = 500
	DefaultFlushInterval  = 1 * time.Second
	DefaultBufferSize     = 10000
)

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}

	// Timeout defaults. Request stays zero unless set.
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = DefaultConnectTimeout
	}
	if c.Timeouts.Await == 0 {
		c.Timeouts.Await = DefaultAwaitTimeout
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = DefaultWriteTimeout
	}
	if c.Timeouts.Ping == 0 {
		c.Timeouts.Ping = DefaultPingInterval
	}
	if c.Timeouts.Pong == 0 {
		c.Timeouts.Pong = DefaultPongTimeout
	}

	// Connection defaults
	if c.Connection.ReadLimit == 0 {
		c.Connection.ReadLimit = DefaultReadLimit
	}
	if c.Connection.SendRate > 0 && c.Connection.SendBurst == 0 {
		c.Connection.SendBurst = DefaultSendBurst
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.File != "" {
		if c.Logging.MaxSizeMB == 0 {
			c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
		}
		if c.Logging.MaxBackups == 0 {
			c.Logging.MaxBackups = DefaultLogMaxBackups
		}
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)
	if c.Journal.Table == "" {
		c.Journal.Table = DefaultJournalTable
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
