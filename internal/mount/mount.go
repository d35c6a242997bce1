// Package mount attaches the shared data directory of a remote host
// through sshfs.
package mount

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/logging"
	"github.com/Iron-Ham/ptzexplore/internal/retry"
)

// Defaults for Config.
const (
	DefaultIdentityFile  = "/root/.ssh/id_rsa"
	DefaultSettle        = 5 * time.Second
	DefaultTimeout       = 30 * time.Second
	DefaultSFTPTimeout   = 10 * time.Second
	DefaultVerifyTimeout = 5 * time.Second
)

// ErrMountFailed is returned when a mount step fails.
var ErrMountFailed = errors.New("mount failed")

// Mounter attaches and detaches a remote directory.
type Mounter interface {
	Mount(ctx context.Context) error
	Unmount(ctx context.Context) error
}

// Config describes the remote directory and where to attach it.
type Config struct {
	User         string
	Host         string
	RemoteDir    string
	LocalDir     string
	IdentityFile string
	Settle       time.Duration
	Timeout      time.Duration
	SFTPTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdentityFile == "" {
		c.IdentityFile = DefaultIdentityFile
	}
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SFTPTimeout <= 0 {
		c.SFTPTimeout = DefaultSFTPTimeout
	}
	return c
}

// Validate checks the required fields.
func (c Config) Validate() error {
	for _, f := range []struct{ name, val string }{
		{"mount.user", c.User},
		{"mount.host", c.Host},
		{"mount.remote_dir", c.RemoteDir},
		{"mount.local_dir", c.LocalDir},
	} {
		if strings.TrimSpace(f.val) == "" {
			return errors.NewValidationError(f.name + " is required").WithField(f.name)
		}
	}
	return nil
}

// Remote returns the "user@host" target.
func (c Config) Remote() string { return c.User + "@" + c.Host }

// SSHFS mounts with the sshfs command.
type SSHFS struct {
	cfg    Config
	runner Runner
	logger *logging.Logger
	sleep  retry.SleepFunc

	mu   sync.Mutex
	proc Process
}

// Option configures an SSHFS mounter.
type Option func(*SSHFS)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(m *SSHFS) { m.runner = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *SSHFS) { m.logger = l }
}

// WithSleep replaces the settle wait.
func WithSleep(s retry.SleepFunc) Option {
	return func(m *SSHFS) { m.sleep = s }
}

// NewSSHFS creates a mounter for cfg.
func NewSSHFS(cfg Config, opts ...Option) *SSHFS {
	m := &SSHFS{
		cfg:    cfg.withDefaults(),
		runner: CLIRunner{},
		logger: logging.NopLogger(),
		sleep:  retry.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mount checks ssh, sftp, fuse and sshfs, prepares the local directory,
// starts sshfs in the background and verifies the mount point after the
// settle delay. A failed verification terminates sshfs.
func (m *SSHFS) Mount(ctx context.Context) error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}
	if m.Mounted(ctx) {
		m.logger.Info("already mounted", "local_dir", m.cfg.LocalDir)
		return nil
	}

	checks := []struct {
		name    string
		timeout time.Duration
		cmd     []string
	}{
		{"ssh", m.cfg.Timeout, []string{"ssh", "-i", m.cfg.IdentityFile,
			"-o", "StrictHostKeyChecking=no", "-o", "BatchMode=yes",
			m.cfg.Remote(), "echo", "ok"}},
		{"sftp", m.cfg.SFTPTimeout, []string{"sftp",
			"-o", "IdentityFile=" + m.cfg.IdentityFile,
			"-o", "StrictHostKeyChecking=no", "-o", "BatchMode=yes",
			m.cfg.Remote() + ":/"}},
		{"fuse", m.cfg.Timeout, []string{"fusermount", "-V"}},
		{"sshfs", m.cfg.Timeout, []string{"sshfs", "-V"}},
	}
	for _, c := range checks {
		if err := m.run(ctx, c.timeout, c.cmd...); err != nil {
			return fmt.Errorf("%w: %s check: %w", ErrMountFailed, c.name, err)
		}
	}

	if err := os.MkdirAll(m.cfg.LocalDir, 0777); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrMountFailed, m.cfg.LocalDir, err)
	}
	if err := os.Chmod(m.cfg.LocalDir, 0777); err != nil {
		return fmt.Errorf("%w: chmod %s: %w", ErrMountFailed, m.cfg.LocalDir, err)
	}

	proc, err := m.runner.Start("sshfs",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "IdentityFile="+m.cfg.IdentityFile,
		m.cfg.Remote()+":"+m.cfg.RemoteDir,
		m.cfg.LocalDir,
	)
	if err != nil {
		return fmt.Errorf("%w: start sshfs: %w", ErrMountFailed, err)
	}
	m.logger.Info("sshfs started", "remote", m.cfg.Remote()+":"+m.cfg.RemoteDir, "local_dir", m.cfg.LocalDir)

	if err := m.sleep(ctx, m.cfg.Settle); err != nil {
		_ = proc.Terminate()
		return fmt.Errorf("%w: %v", errors.ErrCanceled, err)
	}
	if !m.Mounted(ctx) {
		_ = proc.Terminate()
		return fmt.Errorf("%w: %s is not a mount point", ErrMountFailed, m.cfg.LocalDir)
	}

	m.mu.Lock()
	m.proc = proc
	m.mu.Unlock()
	m.logger.Info("mount verified", "local_dir", m.cfg.LocalDir)
	return nil
}

// Mounted reports whether LocalDir is a mount point.
func (m *SSHFS) Mounted(ctx context.Context) bool {
	return m.run(ctx, DefaultVerifyTimeout, "mountpoint", "-q", m.cfg.LocalDir) == nil
}

// Unmount detaches LocalDir and stops the sshfs process started by Mount.
func (m *SSHFS) Unmount(ctx context.Context) error {
	if err := m.run(ctx, m.cfg.Timeout, "fusermount", "-u", m.cfg.LocalDir); err != nil {
		m.logger.Warn("unmount failed", "local_dir", m.cfg.LocalDir, "error", err)
		return fmt.Errorf("unmount %s: %w", m.cfg.LocalDir, err)
	}

	m.mu.Lock()
	proc := m.proc
	m.proc = nil
	m.mu.Unlock()
	if proc != nil {
		_ = proc.Terminate()
	}
	m.logger.Info("unmounted", "local_dir", m.cfg.LocalDir)
	return nil
}

func (m *SSHFS) run(ctx context.Context, timeout time.Duration, cmd ...string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := m.runner.Run(ctx, cmd[0], cmd[1:]...)
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", cmd[0], err, msg)
		}
		return fmt.Errorf("%s: %w", cmd[0], err)
	}
	m.logger.Debug("command succeeded", "command", cmd[0])
	return nil
}

// Nop is a Mounter that does nothing.
type Nop struct{}

func (Nop) Mount(context.Context) error   { return nil }
func (Nop) Unmount(context.Context) error { return nil }
