package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/ptzexplore/internal/config"
	"github.com/Iron-Ham/ptzexplore/internal/fsutil"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify ptzexplore configuration",
	Long: `View or modify ptzexplore configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  ptzexplore config set camera.address 10.0.0.12
  ptzexplore config set explore.iterations 20
  ptzexplore config set lock.ttl 45m

The value is parsed according to the key's type and the resulting
configuration is validated before it is written.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/ptzexplore/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// secretKeys are masked by config show.
var secretKeys = []string{
	"camera.password",
	"lock.password",
	"telemetry.password",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n\n")
	}

	settings := viper.AllSettings()
	for _, key := range secretKeys {
		if viper.GetString(key) != "" {
			maskSetting(settings, strings.Split(key, "."))
		}
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func maskSetting(m map[string]any, path []string) {
	if len(path) == 1 {
		if _, ok := m[path[0]]; ok {
			m[path[0]] = "********"
		}
		return
	}
	if sub, ok := m[path[0]].(map[string]any); ok {
		maskSetting(sub, path[1:])
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.ToLower(args[0])
	value := args[1]

	if !slices.Contains(viper.AllKeys(), key) {
		return fmt.Errorf("unknown configuration key: %s\nRun 'ptzexplore config show' to see valid keys", key)
	}

	typedValue, err := parseSetting(viper.Get(key), value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return err
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(cmd.OutOrStdout(), "Config saved to %s\n", configFile)
	return nil
}

// parseSetting converts value to the type of the key's current value.
func parseSetting(current any, value string) (any, error) {
	switch current.(type) {
	case bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("expected true or false")
		}
		return b, nil
	case int, int64:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("expected integer")
		}
		return n, nil
	case float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number")
		}
		return f, nil
	case time.Duration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("expected duration such as 30s or 5m")
		}
		return d, nil
	default:
		return value, nil
	}
}

const defaultConfigContent = `# ptzexplore configuration
# Every key can be overridden with PTZEXPLORE_<SECTION>_<KEY>,
# e.g. PTZEXPLORE_CAMERA_PASSWORD.

camera:
  # hanwha (or 0), axis (or 1), or simulated
  brand: hanwha
  address: ""
  username: ""
  # Prefer PTZEXPLORE_CAMERA_PASSWORD over storing it here
  password: ""
  # Wait after the home move
  home_settle: 1s

capture:
  # Attempts per capture-and-verify before giving up
  max_attempts: 10
  backoff: 1s

explore:
  # Episodes per run and commands per episode
  iterations: 10
  movements: 20
  # Range of the random start pose
  bounds:
    pan_min: 0
    pan_max: 360
    tilt_min: 0
    tilt_max: 90
    zoom_min: 1
    zoom_max: 10
  # Pause between runs of 'ptzexplore loop'
  interval: 1m

policy:
  # Chance of taking the best scored action instead of sampling
  greedy_probability: 0.2
  # 0 seeds from the clock
  seed: 0

model:
  tag: model
  load_checkpoint: true
  # File name read from world_models/<parent>/ and agents/<agent>/
  # instead of <tag>-latest.ckpt and <tag>-target_latest.ckpt
  read_checkpoint: ""
  # World model used when a ledger names none
  parent_model: ""

tracking:
  # none, positions or all
  mode: none
  keep_images: false

paths:
  persist: /data/persist
  collection: /data/collection
  # Cleared after every iteration
  tmp: /data/tmp

lock:
  enabled: true
  address: localhost:6379
  password: ""
  db: 0
  prefix: ptz
  num_slots: 1
  slot: 0
  ttl: 30m
  acquire_timeout: 10s
  retry_interval: 100ms
  max_release_conflicts: 16

telemetry:
  enabled: false
  broker: localhost:1883
  client_id: ""
  topic_prefix: ptzexplore
  username: ""
  password: ""
  qos: 0
  queue_size: 64

progress:
  enabled: true
  # Defaults to <paths.persist>/progress.db
  path: ""

mount:
  enabled: false
  user: ""
  host: ""
  remote_dir: ""
  local_dir: ""
  identity_file: /root/.ssh/id_rsa
  settle: 5s

tracing:
  # none or stdout
  exporter: none
  sample_ratio: 1
  output: ""

logging:
  enabled: true
  # Defaults to ~/.config/ptzexplore/logs
  dir: ""
  # debug, info, warn or error
  level: info
  max_size_mb: 10
  max_backups: 3
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'ptzexplore config set' to modify values", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := fsutil.WriteFileAtomic(configFile, []byte(defaultConfigContent), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to set the camera and data directories.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintf(out, "  2. $HOME/.config/ptzexplore/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_CAMERA_PASSWORD)\n", config.EnvPrefix, config.EnvPrefix)
	return nil
}
