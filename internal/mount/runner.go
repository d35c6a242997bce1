package mount

import (
	"context"
	"os/exec"
	"syscall"
)

// Runner abstracts command execution so tests can script the external
// tools.
type Runner interface {
	// Run executes a command and returns combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	// Start launches a command in the background.
	Start(name string, args ...string) (Process, error)
}

// Process is a background command.
type Process interface {
	Terminate() error
}

// CLIRunner executes commands using os/exec.
type CLIRunner struct{}

// Run executes a command and returns combined output.
func (CLIRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Start launches a command without waiting for it.
func (CLIRunner) Start(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() { _ = cmd.Wait() }()
	return &cliProcess{cmd: cmd}, nil
}

type cliProcess struct {
	cmd *exec.Cmd
}

func (p *cliProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}
