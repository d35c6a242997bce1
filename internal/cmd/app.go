package cmd

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/ptzexplore/internal/config"
	"github.com/Iron-Ham/ptzexplore/internal/coordination"
	"github.com/Iron-Ham/ptzexplore/internal/event"
	"github.com/Iron-Ham/ptzexplore/internal/explore"
	"github.com/Iron-Ham/ptzexplore/internal/locker"
	"github.com/Iron-Ham/ptzexplore/internal/logging"
	"github.com/Iron-Ham/ptzexplore/internal/mount"
	"github.com/Iron-Ham/ptzexplore/internal/observability"
	"github.com/Iron-Ham/ptzexplore/internal/progress"
	"github.com/Iron-Ham/ptzexplore/internal/run"
	"github.com/Iron-Ham/ptzexplore/internal/telemetry"
)

// app holds the collaborators shared by the commands of one process.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	closers []func()
}

// loadApp loads and validates the configuration and opens the logger.
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := logging.NewLogger(cfg.LogDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.onClose(func() { _ = logger.Close() })
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close releases everything in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newLocker connects to the coordination store.
func (a *app) newLocker() *locker.Locker {
	lc := a.cfg.Lock
	client := coordination.NewClient(lc.Address,
		coordination.WithPassword(lc.Password),
		coordination.WithDB(lc.DB),
	)
	a.onClose(func() { _ = client.Close() })
	return locker.New(client, locker.Options{
		Prefix:              lc.Prefix,
		NumSlots:            lc.NumSlots,
		TTL:                 lc.TTL,
		AcquireTimeout:      lc.AcquireTimeout,
		RetryInterval:       lc.RetryInterval,
		MaxReleaseConflicts: lc.MaxReleaseConflicts,
		Logger:              a.logger,
	})
}

func (a *app) newMounter() *mount.SSHFS {
	mc := a.cfg.Mount
	return mount.NewSSHFS(mount.Config{
		User:         mc.User,
		Host:         mc.Host,
		RemoteDir:    mc.RemoteDir,
		LocalDir:     mc.LocalDir,
		IdentityFile: mc.IdentityFile,
		Settle:       mc.Settle,
	}, mount.WithLogger(a.logger))
}

func (a *app) openProgress() (*progress.Tracker, error) {
	tr, err := progress.Open(a.cfg.ProgressPath())
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = tr.Close() })
	return tr, nil
}

// stack wires tracing, telemetry and the event bus. It lives for the
// whole process so the loop command reuses one MQTT connection.
type stack struct {
	bus      *event.Bus
	locker   *locker.Locker
	holder   locker.Identity
	progress explore.ProgressRecorder
}

func (a *app) newStack(ctx context.Context) (*stack, error) {
	cfg := a.cfg
	s := &stack{bus: event.NewBus(a.logger)}

	shutdown, err := observability.Setup(observability.Config{
		Exporter:    cfg.Tracing.Exporter,
		SampleRatio: cfg.Tracing.SampleRatio,
		Output:      cfg.Tracing.Output,
	}, "ptzexplore")
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = shutdown(context.Background()) })

	if cfg.Telemetry.Enabled {
		redactor := telemetry.NewRedactor(cfg.Camera.Password, cfg.Lock.Password)
		pub, err := telemetry.Dial(ctx, telemetry.Config{
			Broker:      cfg.Telemetry.Broker,
			ClientID:    cfg.Telemetry.ClientID,
			TopicPrefix: cfg.Telemetry.TopicPrefix,
			Username:    cfg.Telemetry.Username,
			Password:    cfg.Telemetry.Password,
			QoS:         byte(cfg.Telemetry.QoS),
			QueueSize:   cfg.Telemetry.QueueSize,
		}, redactor, a.logger)
		if err != nil {
			// Telemetry is best effort.
			a.logger.Warn("telemetry disabled", "broker", cfg.Telemetry.Broker, "error", err)
		} else {
			unsubscribe := telemetry.Bridge(s.bus, pub)
			a.onClose(func() {
				unsubscribe()
				_ = pub.Close(context.Background())
			})
		}
	}

	if cfg.Progress.Enabled {
		tr, err := a.openProgress()
		if err != nil {
			return nil, err
		}
		s.progress = tr
	}

	if cfg.Lock.Enabled {
		s.locker = a.newLocker()
		s.holder = locker.NewIdentity()
	}
	return s, nil
}

// runOnce performs one exploration run with cfg.
func (s *stack) runOnce(ctx context.Context, a *app, cfg *config.Config) (*explore.Result, error) {
	opts := run.Options{
		Config:   cfg,
		Holder:   s.holder,
		Progress: s.progress,
		Bus:      s.bus,
		Logger:   a.logger,
	}
	if s.locker != nil {
		opts.Locker = s.locker
	}
	if cfg.Mount.Enabled {
		opts.Mounter = a.newMounter()
	}
	runner, err := run.New(opts)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx)
}
