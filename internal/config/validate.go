package config

import (
	"errors"
	"fmt"
	"regexp"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Timeouts.Connect <= 0 {
		return errors.New("timeouts.connect must be > 0")
	}
	if c.Timeouts.Await <= 0 {
		return errors.New("timeouts.await must be > 0")
	}
	if c.Timeouts.Request < 0 {
		return errors.New("timeouts.request must be >= 0")
	}
	if c.Timeouts.Ping > 0 && c.Timeouts.Pong < c.Timeouts.Ping {
		return fmt.Errorf("timeouts.pong (%s) cannot be shorter than timeouts.ping (%s)", c.Timeouts.Pong, c.Timeouts.Ping)
	}

	if c.Connection.SendRate < 0 {
		return errors.New("connection.send_rate must be >= 0")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
		if !tableName.MatchString(c.Journal.Table) {
			return fmt.Errorf("journal.table %q is not a valid identifier", c.Journal.Table)
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
