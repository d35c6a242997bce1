package coordination

import (
	"time"
)

// clientConfig holds optional configuration for a Client.
type clientConfig struct {
	password     string
	db           int
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	poolSize     int
}

// Option configures a Client.
type Option func(*clientConfig)

// WithPassword sets the store password.
func WithPassword(p string) Option {
	return func(c *clientConfig) { c.password = p }
}

// WithDB selects the logical database number.
func WithDB(db int) Option {
	return func(c *clientConfig) { c.db = db }
}

// WithDialTimeout sets the connection timeout.
// A value of 0 uses the driver default.
func WithDialTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.dialTimeout = d }
}

// WithReadTimeout sets the socket read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.readTimeout = d }
}

// WithWriteTimeout sets the socket write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.writeTimeout = d }
}

// WithPoolSize sets the connection pool size.
// Workers hold at most a couple of connections, so small values are fine.
func WithPoolSize(n int) Option {
	return func(c *clientConfig) { c.poolSize = n }
}
