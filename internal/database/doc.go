// Package database opens the PostgreSQL pool used by the frame journal.
package database
