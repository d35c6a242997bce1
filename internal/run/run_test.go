package run

import (
	"bytes"
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/ptzexplore/internal/action"
	"github.com/Iron-Ham/ptzexplore/internal/collect"
	"github.com/Iron-Ham/ptzexplore/internal/config"
	"github.com/Iron-Ham/ptzexplore/internal/device"
	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/event"
	"github.com/Iron-Ham/ptzexplore/internal/explore"
	"github.com/Iron-Ham/ptzexplore/internal/locker"
	"github.com/Iron-Ham/ptzexplore/internal/model"
	"github.com/Iron-Ham/ptzexplore/internal/testutil"
)

const ledgerYAML = "num_restart: -1\nparent_model: wm-01\n"

type fakeMounter struct {
	mounts, unmounts int
	err              error
}

func (m *fakeMounter) Mount(context.Context) error {
	m.mounts++
	return m.err
}

func (m *fakeMounter) Unmount(context.Context) error {
	m.unmounts++
	return nil
}

type fixture struct {
	tree    testutil.Tree
	cfg     *config.Config
	locker  *locker.Locker
	mounter *fakeMounter
	bus     *event.Bus
	events  []event.Event
}

func (f *fixture) count(eventType string) int {
	n := 0
	for _, e := range f.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func (f *fixture) runner(t *testing.T) *Runner {
	t.Helper()
	r, err := New(Options{
		Config:  f.cfg,
		Locker:  f.locker,
		Holder:  "node-a:1:test",
		Mounter: f.mounter,
		Bus:     f.bus,
		Rand:    rand.New(rand.NewSource(3)),
		Sleep:   testutil.NoSleep,
	})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return r
}

// newFixture lays out one world model and one agent with checkpoints
// written by the reference model.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	tree := testutil.SetupTree(t, []string{"wm-01"}, map[string]string{"agent-01": ledgerYAML})
	cfg := config.Default()
	cfg.Camera.Brand = device.BrandSimulated
	cfg.Camera.Address = "sim-01"
	cfg.Camera.HomeSettle = 0
	cfg.Explore.Iterations = 1
	cfg.Explore.Movements = 2
	cfg.Paths = config.PathsConfig{Persist: tree.Persist, Collection: tree.Collection, Tmp: tree.Tmp}
	cfg.Lock.AcquireTimeout = 200 * time.Millisecond
	cfg.Lock.RetryInterval = 10 * time.Millisecond

	dirs := collect.Dirs{Persist: tree.Persist}
	enc, pred := model.Fresh(action.Count, rand.New(rand.NewSource(1)))
	if err := model.SaveEncoder(EncoderPath(dirs, "wm-01", cfg.Model.Tag), enc); err != nil {
		t.Fatalf("SaveEncoder: %v", err)
	}
	if err := model.SavePredictor(PredictorPath(dirs, "agent-01", cfg.Model.Tag), pred); err != nil {
		t.Fatalf("SavePredictor: %v", err)
	}

	store, _ := testutil.NewStore(t)
	f := &fixture{
		tree:    tree,
		cfg:     cfg,
		locker:  locker.New(store, locker.Options{AcquireTimeout: cfg.Lock.AcquireTimeout, RetryInterval: cfg.Lock.RetryInterval}),
		mounter: &fakeMounter{},
		bus:     event.NewBus(nil),
	}
	f.bus.SubscribeAll(func(e event.Event) { f.events = append(f.events, e) })
	return f
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.runner(t).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Agent != "agent-01" || res.Phase != explore.PhaseDone {
		t.Errorf("result = %s in %s, want agent-01 DONE", res.Agent, res.Phase)
	}
	if res.NumImages != 3 {
		t.Errorf("NumImages = %d, want 3", res.NumImages)
	}
	if f.mounter.mounts != 1 || f.mounter.unmounts != 1 {
		t.Errorf("mounts = %d, unmounts = %d; want 1, 1", f.mounter.mounts, f.mounter.unmounts)
	}
	if f.count(event.TypeLockAcquired) != 1 || f.count(event.TypeLockReleased) != 1 {
		t.Errorf("lock events: acquired %d released %d", f.count(event.TypeLockAcquired), f.count(event.TypeLockReleased))
	}

	_, held, err := f.locker.Holder(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if held {
		t.Error("slot should be free after the run")
	}
	if !bytes.Contains(testutil.ReadFile(t, f.tree.LedgerPath("agent-01")), []byte("num_images: 3")) {
		t.Errorf("ledger not persisted:\n%s", testutil.ReadFile(t, f.tree.LedgerPath("agent-01")))
	}
}

func TestRun_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) testutil.Tree
	}{
		{"no world models", func(t *testing.T) testutil.Tree {
			return testutil.SetupTree(t, nil, map[string]string{"agent-01": ledgerYAML})
		}},
		{"no agents", func(t *testing.T) testutil.Tree {
			return testutil.SetupTree(t, []string{"wm-01"}, nil)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tree := tt.setup(t)
			f.cfg.Paths = config.PathsConfig{Persist: tree.Persist, Collection: tree.Collection, Tmp: tree.Tmp}

			res, err := f.runner(t).Run(context.Background())
			if !errors.Is(err, errors.ErrPrecondition) {
				t.Fatalf("Run() = %v, want ErrPrecondition", err)
			}
			if res != nil {
				t.Errorf("result = %+v, want nil before an agent is chosen", res)
			}
			if f.count(event.TypeLockAcquired) != 0 {
				t.Error("lock should not be taken when preconditions fail")
			}
			if f.mounter.unmounts != 1 {
				t.Errorf("unmounts = %d, want 1", f.mounter.unmounts)
			}
		})
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.cfg.Camera.Address = "unreachable-cam"
	f.cfg.Camera.Username = "admin"
	f.cfg.Camera.Password = "hunter2"
	before := testutil.ReadFile(t, f.tree.LedgerPath("agent-01"))

	_, err := f.runner(t).Run(context.Background())
	if !errors.Is(err, errors.ErrDeviceConnect) {
		t.Fatalf("Run() = %v, want ErrDeviceConnect", err)
	}
	if strings.Contains(err.Error(), "hunter2") {
		t.Errorf("error leaks the password: %v", err)
	}

	var failed *event.CameraConnectFailedEvent
	for _, e := range f.events {
		if ev, ok := e.(event.CameraConnectFailedEvent); ok {
			failed = &ev
		}
	}
	if failed == nil {
		t.Fatal("no camera.connect_failed event")
	}
	if failed.Address != "unreachable-cam" || strings.Contains(failed.Reason, "hunter2") {
		t.Errorf("event = %+v", *failed)
	}
	if f.count(event.TypeLockReleased) != 1 {
		t.Error("lock should be released after a connect failure")
	}
	if !bytes.Equal(before, testutil.ReadFile(t, f.tree.LedgerPath("agent-01"))) {
		t.Error("ledger changed after a connect failure")
	}
}

func TestRun_SlotBusy(t *testing.T) {
	f := newFixture(t)
	if _, err := f.locker.Acquire(context.Background(), "node-b:2:other", 0); err != nil {
		t.Fatal(err)
	}

	connected := false
	r, err := New(Options{
		Config: f.cfg,
		Locker: f.locker,
		Bus:    f.bus,
		Connect: func(ctx context.Context, brand string, creds device.Credentials) (device.Driver, error) {
			connected = true
			return device.Connect(ctx, brand, creds)
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.Run(context.Background())
	if !errors.Is(err, errors.ErrNotAcquired) {
		t.Fatalf("Run() = %v, want ErrNotAcquired", err)
	}
	if res == nil || res.Phase != explore.PhaseInit {
		t.Errorf("result = %+v, want INIT", res)
	}
	if connected {
		t.Error("camera must not be touched without the slot")
	}
}

// writeCheckpoints saves a matching encoder and predictor under name in
// the fixture's world model and agent directories.
func writeCheckpoints(t *testing.T, f *fixture, name string) {
	t.Helper()
	dirs := collect.Dirs{Persist: f.tree.Persist}
	enc, pred := model.Fresh(action.Count, rand.New(rand.NewSource(2)))
	if err := model.SaveEncoder(filepath.Join(dirs.WorldModels(), "wm-01", name), enc); err != nil {
		t.Fatalf("SaveEncoder: %v", err)
	}
	if err := model.SavePredictor(filepath.Join(dirs.Agents(), "agent-01", name), pred); err != nil {
		t.Fatalf("SavePredictor: %v", err)
	}
}

func TestRun_Checkpoints(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(t *testing.T, f *fixture)
		wantErr error
	}{
		{"missing encoder", func(t *testing.T, f *fixture) { f.cfg.Model.Tag = "other" }, errors.ErrPrecondition},
		{"fresh model ignores missing files", func(t *testing.T, f *fixture) {
			f.cfg.Model.Tag = "other"
			f.cfg.Model.LoadCheckpoint = false
		}, nil},
		{"read_checkpoint names both files", func(t *testing.T, f *fixture) {
			writeCheckpoints(t, f, "snapshot.ckpt")
			// The tag defaults no longer exist, so both loads go through the override.
			f.cfg.Model.Tag = "other"
			f.cfg.Model.ReadCheckpoint = "snapshot.ckpt"
		}, nil},
		{"read_checkpoint missing", func(t *testing.T, f *fixture) {
			f.cfg.Model.ReadCheckpoint = "nope.ckpt"
		}, errors.ErrPrecondition},
		{"read_checkpoint only in agent folder", func(t *testing.T, f *fixture) {
			dirs := collect.Dirs{Persist: f.tree.Persist}
			_, pred := model.Fresh(action.Count, rand.New(rand.NewSource(1)))
			if err := model.SavePredictor(filepath.Join(dirs.Agents(), "agent-01", "snapshot.ckpt"), pred); err != nil {
				t.Fatalf("SavePredictor: %v", err)
			}
			f.cfg.Model.ReadCheckpoint = "snapshot.ckpt"
		}, errors.ErrPrecondition},
		{"read_checkpoint path", func(t *testing.T, f *fixture) {
			f.cfg.Model.ReadCheckpoint = filepath.Join(f.tree.Persist, "agents", "agent-01", "model-target_latest.ckpt")
		}, errors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.modify(t, f)

			r, err := New(Options{Config: f.cfg, Bus: f.bus, Sleep: testutil.NoSleep})
			if err != nil {
				t.Fatal(err)
			}
			_, err = r.Run(context.Background())
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Run() = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_MountFailure(t *testing.T) {
	f := newFixture(t)
	f.mounter.err = errors.New("sshfs exited")

	if _, err := f.runner(t).Run(context.Background()); err == nil {
		t.Fatal("Run() should fail when the mount fails")
	}
	if f.mounter.unmounts != 0 {
		t.Error("a failed mount should not be unmounted")
	}
	if f.count(event.TypeLockAcquired) != 0 {
		t.Error("lock should not be taken when mounting fails")
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("New() = %v, want ErrInvalidInput", err)
	}
}
