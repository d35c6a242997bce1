package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/ptzexplore/internal/config"
	"github.com/Iron-Ham/ptzexplore/internal/testutil"
)

// executeCommand runs the root command with args on a fresh viper and
// default flag values, and returns the captured output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

type testEnv struct {
	tree       testutil.Tree
	configPath string
	redis      *miniredis.Miniredis
}

// setupTestEnvironment isolates the config directory and writes a config
// file pointing at a temporary data tree and an in-process Redis.
func setupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	tree := testutil.SetupTree(t, []string{"wm-01"}, map[string]string{
		"agent-01": "num_restart: -1\nparent_model: wm-01\n",
	})
	mr := miniredis.RunT(t)

	content := fmt.Sprintf(`camera:
  brand: simulated
  address: sim-01
  home_settle: 0s
capture:
  backoff: 0s
explore:
  iterations: 1
  movements: 2
paths:
  persist: %s
  collection: %s
  tmp: %s
lock:
  address: %s
  acquire_timeout: 200ms
  retry_interval: 10ms
logging:
  dir: %s
`, tree.Persist, tree.Collection, tree.Tmp, mr.Addr(), filepath.Join(home, "logs"))

	path := filepath.Join(home, "ptzexplore.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return &testEnv{tree: tree, configPath: path, redis: mr}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "ptzexplore" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "ptzexplore")
	}

	expectedCmds := []string{"run", "loop", "lock", "ledger", "status", "watch", "mount", "unmount", "config", "logs"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestConfigInitAndPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)

	output, err := executeCommand(t, "config", "init")
	if err != nil {
		t.Fatalf("config init failed: %v\n%s", err, output)
	}
	configFile := filepath.Join(home, "ptzexplore", "config.yaml")
	if _, err := os.Stat(configFile); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	// The generated file must load and validate.
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("generated config unreadable: %v", err)
	}
	if _, err := config.LoadFrom(v); err != nil {
		t.Fatalf("generated config invalid: %v", err)
	}

	if _, err := executeCommand(t, "config", "init"); err == nil {
		t.Error("second config init should fail")
	}

	output, err = executeCommand(t, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	if !strings.Contains(output, configFile) {
		t.Errorf("config path output missing %s:\n%s", configFile, output)
	}
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	env := setupTestEnvironment(t)
	t.Setenv("PTZEXPLORE_CAMERA_PASSWORD", "hunter2")

	output, err := executeCommand(t, "--config", env.configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if strings.Contains(output, "hunter2") {
		t.Errorf("config show leaked the camera password:\n%s", output)
	}
	if !strings.Contains(output, "sim-01") {
		t.Errorf("config show missing camera address:\n%s", output)
	}
}

func TestConfigSet(t *testing.T) {
	env := setupTestEnvironment(t)

	if _, err := executeCommand(t, "--config", env.configPath, "config", "set", "explore.iterations", "4"); err != nil {
		t.Fatalf("config set failed: %v", err)
	}
	v := viper.New()
	v.SetConfigFile(env.configPath)
	if err := v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	if got := v.GetInt("explore.iterations"); got != 4 {
		t.Errorf("explore.iterations = %d, want 4", got)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"unknown key", []string{"no.such_key", "1"}},
		{"wrong type", []string{"explore.iterations", "many"}},
		{"fails validation", []string{"explore.iterations", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", env.configPath, "config", "set"}, tt.args...)
			if _, err := executeCommand(t, args...); err == nil {
				t.Errorf("config set %v should fail", tt.args)
			}
		})
	}
}

func TestLedgerInitAndShow(t *testing.T) {
	env := setupTestEnvironment(t)

	if _, err := executeCommand(t, "--config", env.configPath, "ledger", "init", "agent-02", "--parent", "wm-01"); err != nil {
		t.Fatalf("ledger init failed: %v", err)
	}
	if _, err := os.Stat(env.tree.LedgerPath("agent-02")); err != nil {
		t.Fatalf("ledger not created: %v", err)
	}

	output, err := executeCommand(t, "--config", env.configPath, "ledger", "show", "agent-02")
	if err != nil {
		t.Fatalf("ledger show failed: %v", err)
	}
	for _, want := range []string{"num_restart:  -1", "wm-01"} {
		if !strings.Contains(output, want) {
			t.Errorf("ledger show output missing %q:\n%s", want, output)
		}
	}

	if _, err := executeCommand(t, "--config", env.configPath, "ledger", "show", "missing"); err == nil {
		t.Error("ledger show for a missing agent should fail")
	}
}

func TestRunCommand(t *testing.T) {
	testutil.SkipIfShort(t)
	env := setupTestEnvironment(t)

	output, err := executeCommand(t, "--config", env.configPath, "run", "--fresh", "--movements", "1")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "for agent-01: 2 images") {
		t.Errorf("unexpected run summary:\n%s", output)
	}

	ledger := string(testutil.ReadFile(t, env.tree.LedgerPath("agent-01")))
	if !strings.Contains(ledger, "num_images: 2") {
		t.Errorf("ledger not updated:\n%s", ledger)
	}

	output, err = executeCommand(t, "--config", env.configPath, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"agent-01", "free"} {
		if !strings.Contains(output, want) {
			t.Errorf("status output missing %q:\n%s", want, output)
		}
	}

	output, err = executeCommand(t, "--config", env.configPath, "logs", "-n", "0", "--agent", "agent-01")
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if strings.Contains(output, "No matching log entries") {
		t.Errorf("expected log entries for agent-01:\n%s", output)
	}
}

func TestLoopCommand_MaxRuns(t *testing.T) {
	testutil.SkipIfShort(t)
	env := setupTestEnvironment(t)

	output, err := executeCommand(t, "--config", env.configPath, "loop", "--fresh", "--max-runs", "2", "--interval", "1ms")
	if err != nil {
		t.Fatalf("loop failed: %v\n%s", err, output)
	}
	if got := strings.Count(output, "for agent-01:"); got != 2 {
		t.Errorf("loop printed %d run summaries, want 2:\n%s", got, output)
	}
}

func TestLockCommands(t *testing.T) {
	env := setupTestEnvironment(t)

	output, err := executeCommand(t, "--config", env.configPath, "lock", "acquire", "--holder", "node-b:7:abc")
	if err != nil {
		t.Fatalf("lock acquire failed: %v", err)
	}
	if !strings.Contains(output, "holder: node-b:7:abc") {
		t.Errorf("unexpected acquire output:\n%s", output)
	}

	output, err = executeCommand(t, "--config", env.configPath, "lock", "status")
	if err != nil {
		t.Fatalf("lock status failed: %v", err)
	}
	if !strings.Contains(output, "held") {
		t.Errorf("lock status should show the held slot:\n%s", output)
	}

	if _, err := executeCommand(t, "--config", env.configPath, "lock", "release", "--holder", "node-c:1:xyz"); err == nil {
		t.Error("release by another holder should fail")
	}
	if _, err := executeCommand(t, "--config", env.configPath, "lock", "release", "--holder", "node-b:7:abc"); err != nil {
		t.Fatalf("lock release failed: %v", err)
	}
	if env.redis.Exists("ptz:0") {
		t.Error("slot key still present after release")
	}
}
