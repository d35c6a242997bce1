package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewClient(mr.Addr())
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClient_SetNX(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "ptz:0", "alice", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v; want true, nil", ok, err)
	}
	ok, err = c.SetNX(ctx, "ptz:0", "bob", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v; want false, nil", ok, err)
	}

	val, found, err := c.Get(ctx, "ptz:0")
	if err != nil || !found || val != "alice" {
		t.Errorf("Get = %q, %v, %v; want alice", val, found, err)
	}

	ttl, err := c.TTL(ctx, "ptz:0")
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}

	mr.FastForward(2 * time.Minute)
	ok, err = c.SetNX(ctx, "ptz:0", "bob", time.Minute)
	if err != nil || !ok {
		t.Errorf("SetNX after expiry = %v, %v; want true, nil", ok, err)
	}
}

func TestClient_GetMissing(t *testing.T) {
	c, _ := newTestClient(t)

	val, found, err := c.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found || val != "" {
		t.Errorf("Get(missing) = %q, %v; want empty, false", val, found)
	}
}

func TestClient_CompareAndDelete(t *testing.T) {
	tests := []struct {
		name        string
		stored      string // empty means key absent
		expected    string
		wantDeleted bool
		wantRemain  bool
	}{
		{name: "matching holder", stored: "alice", expected: "alice", wantDeleted: true},
		{name: "different holder", stored: "bob", expected: "alice", wantRemain: true},
		{name: "missing key", stored: "", expected: "alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mr := newTestClient(t)
			if tt.stored != "" {
				if err := mr.Set("ptz:1", tt.stored); err != nil {
					t.Fatal(err)
				}
			}

			deleted, err := c.CompareAndDelete(context.Background(), "ptz:1", tt.expected, 4)
			if err != nil {
				t.Fatalf("CompareAndDelete failed: %v", err)
			}
			if deleted != tt.wantDeleted {
				t.Errorf("deleted = %v, want %v", deleted, tt.wantDeleted)
			}
			if mr.Exists("ptz:1") != tt.wantRemain {
				t.Errorf("key exists = %v, want %v", mr.Exists("ptz:1"), tt.wantRemain)
			}
		})
	}
}

// interfereHook rewrites the watched key through a second connection right
// after the transaction reads it, which makes EXEC fail.
type interfereHook struct {
	other     *redis.Client
	key       string
	value     string
	remaining int
}

func (h *interfereHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *interfereHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if cmd.Name() == "get" && h.remaining > 0 {
			h.remaining--
			h.other.Set(ctx, h.key, h.value, 0)
		}
		return err
	}
}

func (h *interfereHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestClient_CompareAndDelete_Conflicts(t *testing.T) {
	tests := []struct {
		name         string
		interference int
		maxConflicts int
		wantDeleted  bool
		wantConflict bool
	}{
		{name: "one conflict then success", interference: 1, maxConflicts: 4, wantDeleted: true},
		{name: "conflicts exhaust budget", interference: 10, maxConflicts: 3, wantConflict: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			if err := mr.Set("ptz:2", "alice"); err != nil {
				t.Fatal(err)
			}

			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() {
				_ = rdb.Close()
				_ = other.Close()
			})
			rdb.AddHook(&interfereHook{other: other, key: "ptz:2", value: "alice", remaining: tt.interference})

			c := NewFromRedis(rdb)
			deleted, err := c.CompareAndDelete(context.Background(), "ptz:2", "alice", tt.maxConflicts)

			if tt.wantConflict {
				if !errors.Is(err, errors.ErrTxConflict) {
					t.Fatalf("err = %v, want ErrTxConflict", err)
				}
				if !errors.IsRetryable(err) {
					t.Error("conflict exhaustion should be retryable")
				}
				if !mr.Exists("ptz:2") {
					t.Error("key should survive when every transaction conflicts")
				}
				return
			}
			if err != nil {
				t.Fatalf("CompareAndDelete failed: %v", err)
			}
			if deleted != tt.wantDeleted {
				t.Errorf("deleted = %v, want %v", deleted, tt.wantDeleted)
			}
		})
	}
}

func TestClient_CompareAndDelete_Canceled(t *testing.T) {
	c, mr := newTestClient(t)
	if err := mr.Set("ptz:3", "alice"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CompareAndDelete(ctx, "ptz:3", "alice", 4)
	if !errors.Is(err, errors.ErrCanceled) {
		t.Errorf("err = %v, want ErrCanceled", err)
	}
	if !mr.Exists("ptz:3") {
		t.Error("canceled call should not delete the key")
	}
}

func TestClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c := NewClient(addr, WithDialTimeout(200*time.Millisecond))
	defer c.Close()

	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("Ping to closed server should fail")
	}
	if _, err := c.SetNX(context.Background(), "k", "v", time.Second); err == nil {
		t.Error("SetNX to closed server should fail")
	}
}

func TestClient_NewFromRedisCloseIsNoop(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewFromRedis(rdb)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Errorf("wrapped client should stay open: %v", err)
	}
}
