package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for a Collection.
type Config struct {
	// TableName is the physical table shared by all collections.
	// Default: "collections"
	TableName string

	// IndexName is the global secondary index used for ordered traversal.
	// Default: "collections-sorted"
	IndexName string

	// OpTimeout bounds every single round trip to DynamoDB.
	// Zero leaves the caller's context as the only deadline.
	// Max: 5 minutes
	OpTimeout time.Duration

	// Schema is the attribute layout. Empty fields take DefaultSchema values.
	Schema Schema

	// Logger receives debug output such as consumed capacity.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for a single shared table.
func DefaultConfig() Config {
	return Config{
		TableName: "collections",
		IndexName: "collections-sorted",
		Schema:    DefaultSchema(),
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "collections"
	}
	if c.IndexName == "" {
		c.IndexName = "collections-sorted"
	}
	if c.OpTimeout < 0 {
		c.OpTimeout = 0
	}
	if c.OpTimeout > 5*time.Minute {
		c.OpTimeout = 5 * time.Minute
	}
	c.Schema.fill()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
