package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/ptzexplore/internal/action"
	"github.com/Iron-Ham/ptzexplore/internal/device"
)

// EnvPrefix prefixes environment overrides, e.g. PTZEXPLORE_CAMERA_PASSWORD
// for camera.password.
const EnvPrefix = "PTZEXPLORE"

// Config represents the complete ptzexplore configuration
type Config struct {
	Camera    CameraConfig    `mapstructure:"camera"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Explore   ExploreConfig   `mapstructure:"explore"`
	Actions   ActionsConfig   `mapstructure:"actions"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Model     ModelConfig     `mapstructure:"model"`
	Tracking  TrackingConfig  `mapstructure:"tracking"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Lock      LockConfig      `mapstructure:"lock"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Mount     MountConfig     `mapstructure:"mount"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CameraConfig identifies the camera and how to reach it
type CameraConfig struct {
	// Brand is "hanwha" (or "0"), "axis" (or "1"), or "simulated"
	Brand    string `mapstructure:"brand"`
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	// Password is usually supplied through PTZEXPLORE_CAMERA_PASSWORD
	Password string `mapstructure:"password"`
	// HomeSettle is the wait after the home move (default: 1s)
	HomeSettle time.Duration `mapstructure:"home_settle"`
	// Modulation overrides the brand's action scaling when non-zero
	Modulation device.Modulation `mapstructure:"modulation"`
}

// CaptureConfig bounds capture retries
type CaptureConfig struct {
	// MaxAttempts per capture-and-verify (default: 10)
	MaxAttempts int `mapstructure:"max_attempts"`
	// Backoff between attempts (default: 1s)
	Backoff time.Duration `mapstructure:"backoff"`
}

// ExploreConfig shapes a run
type ExploreConfig struct {
	// Iterations is the number of episodes per run
	Iterations int `mapstructure:"iterations"`
	// Movements is the number of commands per episode
	Movements int `mapstructure:"movements"`
	// Bounds limits the random start pose
	Bounds device.Bounds `mapstructure:"bounds"`
	// Interval is the pause between runs of the loop command
	Interval time.Duration `mapstructure:"interval"`
}

// ActionsConfig overrides the action table. Empty means the reference table.
type ActionsConfig struct {
	Table []action.Action `mapstructure:"table"`
}

// PolicyConfig tunes action selection
type PolicyConfig struct {
	// GreedyProbability is the chance of taking the arg-max (default: 0.2)
	GreedyProbability float64 `mapstructure:"greedy_probability"`
	// Seed fixes the random source; 0 seeds from the clock
	Seed int64 `mapstructure:"seed"`
}

// ModelConfig selects checkpoints
type ModelConfig struct {
	// Tag is the checkpoint file prefix (default: "model")
	Tag string `mapstructure:"tag"`
	// LoadCheckpoint loads checkpoints; false starts from a fresh model
	LoadCheckpoint bool `mapstructure:"load_checkpoint"`
	// ReadCheckpoint, when set, names the checkpoint file read from both
	// the world model and the agent directory instead of the tag defaults
	ReadCheckpoint string `mapstructure:"read_checkpoint"`
	// ParentModel is used when a ledger names no world model
	ParentModel string `mapstructure:"parent_model"`
}

// TrackingConfig controls what a run keeps
type TrackingConfig struct {
	// Mode is "none", "positions" or "all"
	Mode string `mapstructure:"mode"`
	// KeepImages moves captured images into the collection directory
	KeepImages bool `mapstructure:"keep_images"`
}

// PathsConfig holds the data directories
type PathsConfig struct {
	// Persist holds world_models/ and agents/
	Persist    string `mapstructure:"persist"`
	Collection string `mapstructure:"collection"`
	Tmp        string `mapstructure:"tmp"`
}

// LockConfig configures the camera lock slots
type LockConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Address             string        `mapstructure:"address"`
	Password            string        `mapstructure:"password"`
	DB                  int           `mapstructure:"db"`
	Prefix              string        `mapstructure:"prefix"`
	NumSlots            int           `mapstructure:"num_slots"`
	Slot                int           `mapstructure:"slot"`
	TTL                 time.Duration `mapstructure:"ttl"`
	AcquireTimeout      time.Duration `mapstructure:"acquire_timeout"`
	RetryInterval       time.Duration `mapstructure:"retry_interval"`
	MaxReleaseConflicts int           `mapstructure:"max_release_conflicts"`
}

// TelemetryConfig configures the MQTT side channel
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	QoS         int    `mapstructure:"qos"`
	QueueSize   int    `mapstructure:"queue_size"`
}

// ProgressConfig configures the progress database
type ProgressConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path defaults to <paths.persist>/progress.db
	Path string `mapstructure:"path"`
}

// MountConfig configures the sshfs mount of the shared data directory
type MountConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	User         string        `mapstructure:"user"`
	Host         string        `mapstructure:"host"`
	RemoteDir    string        `mapstructure:"remote_dir"`
	LocalDir     string        `mapstructure:"local_dir"`
	IdentityFile string        `mapstructure:"identity_file"`
	Settle       time.Duration `mapstructure:"settle"`
}

// TracingConfig configures OpenTelemetry export
type TracingConfig struct {
	// Exporter is "none" or "stdout"
	Exporter    string  `mapstructure:"exporter"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	Output      string  `mapstructure:"output"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Enabled writes logs to Dir; otherwise logs go to stderr (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Dir defaults to <config dir>/logs
	Dir string `mapstructure:"dir"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Brand:      device.BrandHanwha,
			HomeSettle: device.DefaultHomeSettle,
		},
		Capture: CaptureConfig{
			MaxAttempts: device.DefaultMaxAttempts,
			Backoff:     device.DefaultBackoff,
		},
		Explore: ExploreConfig{
			Iterations: 10,
			Movements:  20,
			Bounds:     device.DefaultBounds(),
			Interval:   time.Minute,
		},
		Policy: PolicyConfig{
			GreedyProbability: 0.2,
		},
		Model: ModelConfig{
			Tag:            "model",
			LoadCheckpoint: true,
		},
		Tracking: TrackingConfig{
			Mode: "none",
		},
		Paths: PathsConfig{
			Persist:    "/data/persist",
			Collection: "/data/collection",
			Tmp:        "/data/tmp",
		},
		Lock: LockConfig{
			Enabled:             true,
			Address:             "localhost:6379",
			Prefix:              "ptz",
			NumSlots:            1,
			TTL:                 1800 * time.Second,
			AcquireTimeout:      10 * time.Second,
			RetryInterval:       100 * time.Millisecond,
			MaxReleaseConflicts: 16,
		},
		Telemetry: TelemetryConfig{
			Broker:      "localhost:1883",
			TopicPrefix: "ptzexplore",
			QueueSize:   64,
		},
		Progress: ProgressConfig{
			Enabled: true,
		},
		Mount: MountConfig{
			IdentityFile: "/root/.ssh/id_rsa",
			Settle:       5 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	setDefaults(viper.GetViper())
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("camera.brand", d.Camera.Brand)
	v.SetDefault("camera.address", d.Camera.Address)
	v.SetDefault("camera.username", d.Camera.Username)
	v.SetDefault("camera.password", d.Camera.Password)
	v.SetDefault("camera.home_settle", d.Camera.HomeSettle)
	v.SetDefault("camera.modulation.pan", d.Camera.Modulation.Pan)
	v.SetDefault("camera.modulation.tilt", d.Camera.Modulation.Tilt)
	v.SetDefault("camera.modulation.zoom", d.Camera.Modulation.Zoom)

	v.SetDefault("capture.max_attempts", d.Capture.MaxAttempts)
	v.SetDefault("capture.backoff", d.Capture.Backoff)

	v.SetDefault("explore.iterations", d.Explore.Iterations)
	v.SetDefault("explore.movements", d.Explore.Movements)
	v.SetDefault("explore.bounds.pan_min", d.Explore.Bounds.PanMin)
	v.SetDefault("explore.bounds.pan_max", d.Explore.Bounds.PanMax)
	v.SetDefault("explore.bounds.tilt_min", d.Explore.Bounds.TiltMin)
	v.SetDefault("explore.bounds.tilt_max", d.Explore.Bounds.TiltMax)
	v.SetDefault("explore.bounds.zoom_min", d.Explore.Bounds.ZoomMin)
	v.SetDefault("explore.bounds.zoom_max", d.Explore.Bounds.ZoomMax)
	v.SetDefault("explore.interval", d.Explore.Interval)

	v.SetDefault("policy.greedy_probability", d.Policy.GreedyProbability)
	v.SetDefault("policy.seed", d.Policy.Seed)

	v.SetDefault("model.tag", d.Model.Tag)
	v.SetDefault("model.load_checkpoint", d.Model.LoadCheckpoint)
	v.SetDefault("model.read_checkpoint", d.Model.ReadCheckpoint)
	v.SetDefault("model.parent_model", d.Model.ParentModel)

	v.SetDefault("tracking.mode", d.Tracking.Mode)
	v.SetDefault("tracking.keep_images", d.Tracking.KeepImages)

	v.SetDefault("paths.persist", d.Paths.Persist)
	v.SetDefault("paths.collection", d.Paths.Collection)
	v.SetDefault("paths.tmp", d.Paths.Tmp)

	v.SetDefault("lock.enabled", d.Lock.Enabled)
	v.SetDefault("lock.address", d.Lock.Address)
	v.SetDefault("lock.password", d.Lock.Password)
	v.SetDefault("lock.db", d.Lock.DB)
	v.SetDefault("lock.prefix", d.Lock.Prefix)
	v.SetDefault("lock.num_slots", d.Lock.NumSlots)
	v.SetDefault("lock.slot", d.Lock.Slot)
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("lock.acquire_timeout", d.Lock.AcquireTimeout)
	v.SetDefault("lock.retry_interval", d.Lock.RetryInterval)
	v.SetDefault("lock.max_release_conflicts", d.Lock.MaxReleaseConflicts)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.broker", d.Telemetry.Broker)
	v.SetDefault("telemetry.client_id", d.Telemetry.ClientID)
	v.SetDefault("telemetry.topic_prefix", d.Telemetry.TopicPrefix)
	v.SetDefault("telemetry.username", d.Telemetry.Username)
	v.SetDefault("telemetry.password", d.Telemetry.Password)
	v.SetDefault("telemetry.qos", d.Telemetry.QoS)
	v.SetDefault("telemetry.queue_size", d.Telemetry.QueueSize)

	v.SetDefault("progress.enabled", d.Progress.Enabled)
	v.SetDefault("progress.path", d.Progress.Path)

	v.SetDefault("mount.enabled", d.Mount.Enabled)
	v.SetDefault("mount.user", d.Mount.User)
	v.SetDefault("mount.host", d.Mount.Host)
	v.SetDefault("mount.remote_dir", d.Mount.RemoteDir)
	v.SetDefault("mount.local_dir", d.Mount.LocalDir)
	v.SetDefault("mount.identity_file", d.Mount.IdentityFile)
	v.SetDefault("mount.settle", d.Mount.Settle)

	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
	v.SetDefault("tracing.output", d.Tracing.Output)

	v.SetDefault("logging.enabled", d.Logging.Enabled)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when it
// does not load.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Watcher re-loads the configuration when the config file changes. Only
// valid configurations are published.
type Watcher struct {
	mu      sync.RWMutex
	current *Config
	lastErr error
}

// Watch starts watching v's config file. onChange, if set, receives every
// valid new configuration. Without a config file the Watcher keeps initial.
func Watch(v *viper.Viper, initial *Config, onChange func(*Config)) *Watcher {
	w := &Watcher{current: initial}
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := LoadFrom(v)
		w.mu.Lock()
		w.lastErr = err
		if err == nil {
			w.current = cfg
		}
		w.mu.Unlock()
		if err == nil && onChange != nil {
			onChange(cfg)
		}
	})
	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
	}
	return w
}

// Current returns the latest valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Err returns the error from the most recent reload, if any.
func (w *Watcher) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// ActionTable builds the configured action table.
func (c *Config) ActionTable() (action.Table, error) {
	if len(c.Actions.Table) == 0 {
		return action.Default(), nil
	}
	return action.New(c.Actions.Table)
}

// Modulation returns the configured scaling, or the brand's reference
// scaling when none is configured.
func (c *Config) Modulation() device.Modulation {
	if c.Camera.Modulation != (device.Modulation{}) {
		return c.Camera.Modulation
	}
	return device.ModulationFor(c.Camera.Brand)
}

// ProgressPath returns the progress database path.
func (c *Config) ProgressPath() string {
	if c.Progress.Path != "" {
		return c.Progress.Path
	}
	return filepath.Join(c.Paths.Persist, "progress.db")
}

// LogDir returns the log directory, or "" to log to stderr.
func (c *Config) LogDir() string {
	if !c.Logging.Enabled {
		return ""
	}
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ptzexplore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ptzexplore"
	}
	return filepath.Join(home, ".config", "ptzexplore")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
