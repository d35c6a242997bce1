package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// Client is a thin wrapper over a Redis client exposing the primitives the
// locker needs. It is safe for concurrent use.
type Client struct {
	rdb  redis.UniversalClient
	addr string
	own  bool
}

// NewClient creates a client for the store at addr. The connection is
// established lazily on first use.
func NewClient(addr string, opts ...Option) *Client {
	cc := &clientConfig{}
	for _, opt := range opts {
		opt(cc)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cc.password,
		DB:           cc.db,
		DialTimeout:  cc.dialTimeout,
		ReadTimeout:  cc.readTimeout,
		WriteTimeout: cc.writeTimeout,
		PoolSize:     cc.poolSize,
	})
	return &Client{rdb: rdb, addr: addr, own: true}
}

// NewFromRedis wraps an existing Redis client. Close does not close it.
func NewFromRedis(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Addr returns the configured store address, if known.
func (c *Client) Addr() string { return c.addr }

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return errors.NewLockError("store unreachable", err).WithRetryable(true)
	}
	return nil
}

// SetNX sets key to value with the given expiry only if key does not
// already exist. It reports whether the key was set.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.NewLockError("set-if-absent failed", err).WithKey(key)
	}
	return ok, nil
}

// Get returns the value stored at key. The second result is false when the
// key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewLockError("get failed", err).WithKey(key)
	}
	return val, true, nil
}

// TTL returns the remaining lifetime of key. Keys without expiry or missing
// keys return a negative duration.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, errors.NewLockError("ttl failed", err).WithKey(key)
	}
	return d, nil
}

// CompareAndDelete deletes key only while it holds expected. It watches the
// key, reads it, and deletes it inside MULTI/EXEC; if another writer touches
// the key in between, the transaction is retried from scratch, at most
// maxConflicts times.
//
// It returns true when the key was deleted, false when the key was missing
// or held a different value. Running out of conflict retries returns an
// error matching errors.ErrTxConflict.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string, maxConflicts int) (bool, error) {
	if maxConflicts < 1 {
		maxConflicts = 1
	}

	for attempt := 0; attempt < maxConflicts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("%w: %v", errors.ErrCanceled, err)
		}

		deleted := false
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			val, err := tx.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			if val != expected {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				deleted = true
			}
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, errors.NewLockError("compare-and-delete failed", err).WithKey(key)
		}
		return deleted, nil
	}

	return false, errors.NewLockError(
		fmt.Sprintf("gave up after %d conflicting transactions", maxConflicts),
		errors.ErrTxConflict,
	).WithKey(key).WithRetryable(true)
}

// Close releases the underlying connection pool if this client created it.
func (c *Client) Close() error {
	if !c.own {
		return nil
	}
	return c.rdb.Close()
}
