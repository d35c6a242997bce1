// Package testutil provides fixtures shared by ptzexplore tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Iron-Ham/ptzexplore/internal/coordination"
)

// WriteFiles creates the given files under dir. Keys are relative paths.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for path, content := range files {
		fullPath := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
}

// Tree is a temporary persist/collection/tmp layout.
type Tree struct {
	Persist    string
	Collection string
	Tmp        string
}

// WorldModels returns the world model directory.
func (tr Tree) WorldModels() string { return filepath.Join(tr.Persist, "world_models") }

// Agents returns the agents directory.
func (tr Tree) Agents() string { return filepath.Join(tr.Persist, "agents") }

// LedgerPath returns the ledger file of agent.
func (tr Tree) LedgerPath(agent string) string {
	return filepath.Join(tr.Agents(), agent, "model_info.yaml")
}

// SetupTree creates a persist directory holding one directory per world
// model and one agent directory per ledgers entry, each with the given
// model_info.yaml contents. The directory is removed when the test ends.
func SetupTree(t *testing.T, worldModels []string, ledgers map[string]string) Tree {
	t.Helper()

	root := t.TempDir()
	tr := Tree{
		Persist:    filepath.Join(root, "persist"),
		Collection: filepath.Join(root, "collection"),
		Tmp:        filepath.Join(root, "tmp"),
	}
	for _, dir := range []string{tr.WorldModels(), tr.Agents()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create %s: %v", dir, err)
		}
	}
	for _, wm := range worldModels {
		if err := os.MkdirAll(filepath.Join(tr.WorldModels(), wm), 0755); err != nil {
			t.Fatalf("failed to create world model %s: %v", wm, err)
		}
	}
	files := make(map[string]string, len(ledgers))
	for agent, content := range ledgers {
		files[filepath.Join(agent, "model_info.yaml")] = content
	}
	WriteFiles(t, tr.Agents(), files)
	return tr
}

// ReadFile returns the contents of path or fails the test.
func ReadFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return data
}

// NewStore starts an in-process Redis server and returns a client for it.
// Both are shut down when the test ends.
func NewStore(t *testing.T) (*coordination.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := coordination.NewClient(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// NoSleep is a retry sleep that returns immediately unless ctx is done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// SkipIfShort skips slow tests under -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
}
