// Package coordination provides the client for the shared key-value store
// that independent exploration workers use to coordinate.
//
// The store is Redis. Only three primitives are needed by the rest of the
// program:
//
//   - SetNX: set a key with an expiry only if it does not exist
//   - CompareAndDelete: delete a key only while it still holds an expected
//     value, using an optimistic WATCH/GET/MULTI DEL/EXEC transaction
//   - Get / TTL: read a key and its remaining lifetime
//
// Usage:
//
//	client := coordination.NewClient("localhost:6379",
//	    coordination.WithPassword(os.Getenv("REDIS_PASSWORD")),
//	    coordination.WithDialTimeout(2*time.Second),
//	)
//	defer client.Close()
//
//	ok, err := client.SetNX(ctx, "ptz:0", holder, 30*time.Minute)
//	deleted, err := client.CompareAndDelete(ctx, "ptz:0", holder, 16)
package coordination
