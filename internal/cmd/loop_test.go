package cmd

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/testutil"
)

func TestContinueAfter(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"missing directories", fmt.Errorf("%w: persist/world_models is missing or empty", errors.ErrPrecondition), false},
		{"invalid config", errors.NewValidationError("movements must be positive").WithField("movements"), false},
		{"camera unreachable", errors.NewDeviceError("connect", errors.ErrDeviceConnect), true},
		{"slot busy", errors.NewLockError("timed out after 1s", errors.ErrNotAcquired), true},
		{"conflict", fmt.Errorf("release: %w", errors.ErrTxConflict), true},
		{"timeout", errors.NewTimeoutError("acquire", time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := continueAfter(tt.err); got != tt.want {
				t.Errorf("continueAfter(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestLoopCommand_StopsOnPrecondition(t *testing.T) {
	testutil.SkipIfShort(t)
	env := setupTestEnvironment(t)
	if err := os.RemoveAll(env.tree.WorldModels()); err != nil {
		t.Fatal(err)
	}

	output, err := executeCommand(t, "--config", env.configPath, "loop", "--fresh", "--max-runs", "3", "--interval", "1ms")
	if err == nil {
		t.Fatalf("loop should fail when world models are missing:\n%s", output)
	}
	if got := strings.Count(output, "run failed before an agent was chosen"); got != 1 {
		t.Errorf("loop attempted %d runs, want 1:\n%s", got, output)
	}
}
