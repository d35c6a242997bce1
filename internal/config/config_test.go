package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/ptzexplore/internal/action"
	"github.com/Iron-Ham/ptzexplore/internal/device"
)

// newViper returns an isolated viper wired the same way as the CLI.
func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if yaml != "" {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig: %v", err)
		}
	}
	return v
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Camera.Brand != device.BrandHanwha {
		t.Errorf("Camera.Brand = %q, want %q", cfg.Camera.Brand, device.BrandHanwha)
	}
	if cfg.Capture.MaxAttempts != device.DefaultMaxAttempts {
		t.Errorf("Capture.MaxAttempts = %d, want %d", cfg.Capture.MaxAttempts, device.DefaultMaxAttempts)
	}
	if cfg.Explore.Iterations != 10 || cfg.Explore.Movements != 20 {
		t.Errorf("Explore = %d x %d, want 10 x 20", cfg.Explore.Iterations, cfg.Explore.Movements)
	}
	if cfg.Explore.Bounds != device.DefaultBounds() {
		t.Errorf("Explore.Bounds = %+v, want defaults", cfg.Explore.Bounds)
	}
	if cfg.Policy.GreedyProbability != 0.2 {
		t.Errorf("Policy.GreedyProbability = %v, want 0.2", cfg.Policy.GreedyProbability)
	}
	if !cfg.Model.LoadCheckpoint {
		t.Error("Model.LoadCheckpoint should be true by default")
	}
	if cfg.Tracking.Mode != "none" {
		t.Errorf("Tracking.Mode = %q, want none", cfg.Tracking.Mode)
	}
	if !cfg.Lock.Enabled || cfg.Lock.NumSlots != 1 || cfg.Lock.TTL != 30*time.Minute {
		t.Errorf("Lock = %+v, want enabled with one slot and a 30m ttl", cfg.Lock)
	}
	if cfg.Telemetry.Enabled || cfg.Mount.Enabled {
		t.Error("telemetry and mount should be disabled by default")
	}
	if cfg.Tracing.Exporter != "none" {
		t.Errorf("Tracing.Exporter = %q, want none", cfg.Tracing.Exporter)
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(newViper(t, ""))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Capture.Backoff != device.DefaultBackoff {
		t.Errorf("Capture.Backoff = %v, want %v", cfg.Capture.Backoff, device.DefaultBackoff)
	}
	if cfg.Lock.RetryInterval != 100*time.Millisecond {
		t.Errorf("Lock.RetryInterval = %v, want 100ms", cfg.Lock.RetryInterval)
	}
	if cfg.Explore.Bounds != device.DefaultBounds() {
		t.Errorf("Explore.Bounds = %+v, want defaults", cfg.Explore.Bounds)
	}
}

func TestLoadFrom_File(t *testing.T) {
	v := newViper(t, `
camera:
  brand: "1"
  address: 10.0.0.7
  username: admin
capture:
  max_attempts: 3
  backoff: 250ms
explore:
  iterations: 2
  movements: 5
  bounds:
    pan_min: 10
    pan_max: 20
model:
  parent_model: wm-02
tracking:
  mode: all
  keep_images: true
paths:
  persist: /srv/persist
  collection: /srv/collection
  tmp: /srv/tmp
lock:
  num_slots: 4
  slot: 3
`)
	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if got := device.NormalizeBrand(cfg.Camera.Brand); got != device.BrandAxis {
		t.Errorf("brand = %q, want axis", got)
	}
	if cfg.Capture.MaxAttempts != 3 || cfg.Capture.Backoff != 250*time.Millisecond {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	if cfg.Explore.Iterations != 2 || cfg.Explore.Movements != 5 {
		t.Errorf("Explore = %+v", cfg.Explore)
	}
	if cfg.Explore.Bounds.PanMin != 10 || cfg.Explore.Bounds.PanMax != 20 {
		t.Errorf("pan bounds = [%v, %v], want [10, 20]", cfg.Explore.Bounds.PanMin, cfg.Explore.Bounds.PanMax)
	}
	if cfg.Explore.Bounds.TiltMax != 90 {
		t.Errorf("unset bound TiltMax = %v, want default 90", cfg.Explore.Bounds.TiltMax)
	}
	if cfg.Model.ParentModel != "wm-02" || !cfg.Tracking.KeepImages {
		t.Errorf("Model/Tracking not loaded: %+v %+v", cfg.Model, cfg.Tracking)
	}
	if cfg.Lock.Slot != 3 {
		t.Errorf("Lock.Slot = %d, want 3", cfg.Lock.Slot)
	}
	if got := cfg.Modulation(); got.Zoom != 100 {
		t.Errorf("axis modulation zoom = %v, want 100", got.Zoom)
	}
	if got := cfg.ProgressPath(); got != "/srv/persist/progress.db" {
		t.Errorf("ProgressPath() = %q", got)
	}
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("PTZEXPLORE_CAMERA_PASSWORD", "s3cret")
	t.Setenv("PTZEXPLORE_EXPLORE_ITERATIONS", "7")
	t.Setenv("PTZEXPLORE_LOCK_ENABLED", "false")

	cfg, err := LoadFrom(newViper(t, "explore:\n  iterations: 3\n"))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Camera.Password != "s3cret" {
		t.Errorf("Camera.Password = %q, want env value", cfg.Camera.Password)
	}
	if cfg.Explore.Iterations != 7 {
		t.Errorf("Explore.Iterations = %d, want env value 7", cfg.Explore.Iterations)
	}
	if cfg.Lock.Enabled {
		t.Error("Lock.Enabled should be overridden to false")
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	_, err := LoadFrom(newViper(t, "explore:\n  iterations: 0\ntracking:\n  mode: everything\n"))
	if err == nil {
		t.Fatal("LoadFrom() should fail")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error %T is not ValidationErrors", err)
	}
	fields := make(map[string]bool)
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{"explore.iterations", "tracking.mode"} {
		if !fields[want] {
			t.Errorf("missing validation error for %s in %v", want, verrs)
		}
	}
}

func TestLoadFrom_ActionTable(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("actions:\n  table:\n")
	for i, a := range action.Default() {
		if i == 1 {
			a.Pan = -3
		}
		sb.WriteString("    - name: " + a.Name + "\n")
		sb.WriteString("      pan: " + strconv.FormatFloat(a.Pan, 'g', -1, 64) + "\n")
		sb.WriteString("      tilt: " + strconv.FormatFloat(a.Tilt, 'g', -1, 64) + "\n")
		sb.WriteString("      zoom: " + strconv.FormatFloat(a.Zoom, 'g', -1, 64) + "\n")
	}

	cfg, err := LoadFrom(newViper(t, sb.String()))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	table, err := cfg.ActionTable()
	if err != nil {
		t.Fatalf("ActionTable() error = %v", err)
	}
	if table[1].Pan != -3 {
		t.Errorf("table[1].Pan = %v, want -3", table[1].Pan)
	}

	_, err = LoadFrom(newViper(t, "actions:\n  table:\n    - name: only\n"))
	if err == nil || !strings.Contains(err.Error(), "actions.table") {
		t.Errorf("short table error = %v, want actions.table failure", err)
	}
}

func TestWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watch test in short mode")
	}

	v := newViper(t, "explore:\n  iterations: 3\n")
	initial, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	changed := make(chan *Config, 4)
	w := Watch(v, initial, func(cfg *Config) { changed <- cfg })
	if w.Current().Explore.Iterations != 3 {
		t.Fatalf("Current().Explore.Iterations = %d, want 3", w.Current().Explore.Iterations)
	}

	if err := os.WriteFile(v.ConfigFileUsed(), []byte("explore:\n  iterations: 5\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.Explore.Iterations != 5 {
				continue
			}
			if w.Current().Explore.Iterations != 5 {
				t.Errorf("Current() not updated: %d", w.Current().Explore.Iterations)
			}
			if w.Err() != nil {
				t.Errorf("Err() = %v, want nil", w.Err())
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for config change")
		}
	}
}

func TestModulation(t *testing.T) {
	cfg := Default()
	if got := cfg.Modulation(); got != device.ModulationFor(device.BrandHanwha) {
		t.Errorf("Modulation() = %+v, want hanwha reference", got)
	}
	cfg.Camera.Modulation = device.Modulation{Pan: 1, Tilt: 1, Zoom: 1}
	if got := cfg.Modulation(); got != cfg.Camera.Modulation {
		t.Errorf("Modulation() = %+v, want override", got)
	}
}

func TestLogDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	cfg := Default()
	if got := cfg.LogDir(); got != "/custom/config/ptzexplore/logs" {
		t.Errorf("LogDir() = %q", got)
	}
	cfg.Logging.Dir = "/var/log/ptz"
	if got := cfg.LogDir(); got != "/var/log/ptz" {
		t.Errorf("LogDir() = %q, want override", got)
	}
	cfg.Logging.Enabled = false
	if got := cfg.LogDir(); got != "" {
		t.Errorf("LogDir() = %q, want empty when disabled", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/ptzexplore" {
			t.Errorf("ConfigDir() = %q", got)
		}
		if got := ConfigFile(); got != "/custom/config/ptzexplore/config.yaml" {
			t.Errorf("ConfigFile() = %q", got)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "ptzexplore"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestGet(t *testing.T) {
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Model.Tag != "model" {
		t.Errorf("Get().Model.Tag = %q, want model", cfg.Model.Tag)
	}
}
