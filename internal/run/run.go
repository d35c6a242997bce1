// Package run drives one exploration run end to end: pick an agent,
// load its models, take the camera slot, connect and home the camera,
// then hand everything to the episode controller.
package run

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Iron-Ham/ptzexplore/internal/action"
	"github.com/Iron-Ham/ptzexplore/internal/collect"
	"github.com/Iron-Ham/ptzexplore/internal/config"
	"github.com/Iron-Ham/ptzexplore/internal/device"
	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/event"
	"github.com/Iron-Ham/ptzexplore/internal/explore"
	"github.com/Iron-Ham/ptzexplore/internal/fsutil"
	"github.com/Iron-Ham/ptzexplore/internal/ledger"
	"github.com/Iron-Ham/ptzexplore/internal/locker"
	"github.com/Iron-Ham/ptzexplore/internal/logging"
	"github.com/Iron-Ham/ptzexplore/internal/model"
	"github.com/Iron-Ham/ptzexplore/internal/mount"
	"github.com/Iron-Ham/ptzexplore/internal/observability"
	"github.com/Iron-Ham/ptzexplore/internal/policy"
	"github.com/Iron-Ham/ptzexplore/internal/retry"
)

// Checkpoint file suffixes, prefixed with model.tag.
const (
	EncoderSuffix   = "-latest.ckpt"
	PredictorSuffix = "-target_latest.ckpt"
)

// SlotLocker is the subset of locker.Locker a run uses.
type SlotLocker interface {
	Acquire(ctx context.Context, holder locker.Identity, slot int) (*locker.Handle, error)
	Release(ctx context.Context, h *locker.Handle) (bool, error)
}

// ConnectFunc opens a camera driver.
type ConnectFunc func(ctx context.Context, brand string, creds device.Credentials) (device.Driver, error)

// Options are the collaborators of a Runner. Only Config is required.
type Options struct {
	Config *config.Config
	// Locker guards the camera slot; nil runs without a lock.
	Locker SlotLocker
	// Holder identifies this process in the lock slot.
	Holder locker.Identity
	// Mounter provides the shared data directory; nil skips mounting.
	Mounter  mount.Mounter
	Progress explore.ProgressRecorder
	Bus      *event.Bus
	Logger   *logging.Logger
	Rand     *rand.Rand
	Clock    func() time.Time
	// Connect defaults to device.Connect.
	Connect ConnectFunc
	// Sleep overrides capture backoff waits.
	Sleep retry.SleepFunc
}

// Runner performs exploration runs. It never retries a failed run.
type Runner struct {
	opts Options
}

// New returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.NewValidationError("config is required").WithField("config")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Rand == nil {
		seed := opts.Config.Policy.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		opts.Rand = rand.New(rand.NewSource(seed))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Connect == nil {
		opts.Connect = device.Connect
	}
	if opts.Locker != nil && opts.Holder == "" {
		opts.Holder = locker.NewIdentity()
	}
	return &Runner{opts: opts}, nil
}

// Run performs one run. The Result is non-nil whenever an agent was
// chosen; it reports the controller phase reached.
func (r *Runner) Run(ctx context.Context) (res *explore.Result, err error) {
	runID := uuid.NewString()
	cfg := r.opts.Config
	logger := r.opts.Logger.WithRun(runID)

	ctx, span := observability.StartSpan(ctx, "run",
		attribute.String("run_id", runID),
		attribute.String("brand", device.NormalizeBrand(cfg.Camera.Brand)),
	)
	defer func() { observability.EndSpan(span, err) }()

	if r.opts.Mounter != nil {
		if err := r.opts.Mounter.Mount(ctx); err != nil {
			logFailure(logger, "mount failed", err)
			return nil, err
		}
		defer func() {
			if uerr := r.opts.Mounter.Unmount(context.WithoutCancel(ctx)); uerr != nil {
				logger.Warn("unmount failed", "error", uerr)
			}
		}()
	}

	dirs := collect.Dirs{Persist: cfg.Paths.Persist, Collection: cfg.Paths.Collection, Tmp: cfg.Paths.Tmp}
	if err := checkPreconditions(dirs); err != nil {
		logFailure(logger, "preconditions not met", err)
		return nil, err
	}

	store := ledger.NewStore(dirs.Agents())
	agent, err := r.pickAgent(store)
	if err != nil {
		return nil, err
	}
	logger = logger.WithAgent(agent)
	span.SetAttributes(attribute.String("agent", agent))
	res = &explore.Result{RunID: runID, Agent: agent, Phase: explore.PhaseInit}

	parent, err := resolveParent(store, agent, cfg.Model.ParentModel)
	if err != nil {
		logFailure(logger, "cannot resolve parent model", err)
		return res, err
	}
	enc, pred, err := loadModels(cfg, dirs, parent, agent, r.opts.Rand)
	if err != nil {
		logFailure(logger, "cannot load models", err, "parent", parent)
		return res, err
	}
	logger.Info("models loaded", "parent", parent, "fresh", !cfg.Model.LoadCheckpoint)

	if r.opts.Locker != nil {
		h, err := r.opts.Locker.Acquire(ctx, r.opts.Holder, cfg.Lock.Slot)
		if err != nil {
			logFailure(logger, "camera slot not acquired", err, "slot", cfg.Lock.Slot)
			return res, err
		}
		r.opts.Bus.Publish(event.NewLockAcquiredEvent(h.Slot, string(h.Holder)))
		defer func() {
			released, rerr := r.opts.Locker.Release(context.WithoutCancel(ctx), h)
			if rerr != nil {
				logger.Warn("lock release failed", "slot", h.Slot, "error", rerr)
			}
			r.opts.Bus.Publish(event.NewLockReleasedEvent(h.Slot, string(h.Holder), released))
		}()
	}

	camera, err := r.connect(ctx, logger)
	if err != nil {
		return res, err
	}
	defer func() {
		for _, op := range camera.Tracker().Snapshot() {
			logger.Debug("retry stats", "op", op.Op, "calls", op.Calls, "attempts", op.Attempts,
				"failures", op.Failures, "skips", op.Skips, "exhausted", op.Exhausted)
		}
		if cerr := camera.Close(); cerr != nil {
			logger.Warn("camera close failed", "error", cerr)
		}
	}()

	if err := camera.Home(ctx, cfg.Camera.HomeSettle); err != nil {
		logFailure(logger, "home move failed", err)
		return res, err
	}

	mode, err := collect.ParseMode(cfg.Tracking.Mode)
	if err != nil {
		return res, err
	}
	table, err := cfg.ActionTable()
	if err != nil {
		return res, err
	}

	ctrl, err := explore.New(explore.Config{
		Iterations:  cfg.Explore.Iterations,
		Movements:   cfg.Explore.Movements,
		Bounds:      cfg.Explore.Bounds,
		Modulation:  cfg.Modulation(),
		ParentModel: cfg.Model.ParentModel,
	}, explore.Deps{
		Camera:    camera,
		Encoder:   enc,
		Predictor: pred,
		Selector:  policy.NewSelector(cfg.Policy.GreedyProbability, r.opts.Rand),
		Actions:   &table,
		Collector: collect.New(dirs, cfg.Tracking.KeepImages, mode, logger),
		Ledger:    store,
		Progress:  r.opts.Progress,
		Bus:       r.opts.Bus,
		Logger:    logger,
		Rand:      r.opts.Rand,
		Clock:     r.opts.Clock,
	})
	if err != nil {
		return res, err
	}
	return ctrl.Run(ctx, runID, agent)
}

// logFailure logs err at error level with its severity.
func logFailure(logger *logging.Logger, msg string, err error, args ...any) {
	args = append(args, "severity", errors.GetSeverity(err).String(), "error", err)
	logger.Error(msg, args...)
}

// connect opens and wraps the camera. A failure is published with the
// address only.
func (r *Runner) connect(ctx context.Context, logger *logging.Logger) (*device.Resilient, error) {
	cam := r.opts.Config.Camera
	brand := device.NormalizeBrand(cam.Brand)
	creds := device.Credentials{Address: cam.Address, Username: cam.Username, Password: cam.Password}

	drv, err := r.opts.Connect(ctx, brand, creds)
	if err != nil {
		logFailure(logger, "camera connection failed", err, "brand", brand, "address", cam.Address)
		r.opts.Bus.Publish(event.NewCameraConnectFailedEvent(brand, cam.Address, err.Error()))
		return nil, err
	}
	logger.Info("camera connected", "brand", brand, "address", cam.Address)

	return device.NewResilient(drv, device.ResilientOptions{
		MaxAttempts: r.opts.Config.Capture.MaxAttempts,
		Backoff:     r.opts.Config.Capture.Backoff,
		Brand:       brand,
		Address:     cam.Address,
		Logger:      logger,
		Sleep:       r.opts.Sleep,
	}), nil
}

func (r *Runner) pickAgent(store *ledger.Store) (string, error) {
	agents, err := store.Agents()
	if err != nil {
		return "", err
	}
	if len(agents) == 0 {
		return "", fmt.Errorf("%w: no agents in %s", errors.ErrPrecondition, store.Dir())
	}
	return agents[r.opts.Rand.Intn(len(agents))], nil
}

// checkPreconditions requires non-empty world model and agent directories.
func checkPreconditions(dirs collect.Dirs) error {
	for _, dir := range []string{dirs.WorldModels(), dirs.Agents()} {
		if !fsutil.NonEmptyDir(dir) {
			return fmt.Errorf("%w: %s is missing or empty", errors.ErrPrecondition, dir)
		}
	}
	return nil
}

// resolveParent names the world model behind the agent's active record.
// A ledger without one is activated in memory only.
func resolveParent(store *ledger.Store, agent, fallback string) (string, error) {
	l, err := store.Read(agent)
	if err != nil {
		return "", err
	}
	if _, err := l.Activate(fallback); err != nil {
		return "", errors.NewLedgerError("cannot activate restart record", err).WithAgent(agent)
	}
	return l.ParentModel(fallback)
}

// EncoderPath returns the encoder checkpoint of a world model.
func EncoderPath(dirs collect.Dirs, parent, tag string) string {
	return filepath.Join(dirs.WorldModels(), parent, tag+EncoderSuffix)
}

// PredictorPath returns the predictor checkpoint of an agent.
func PredictorPath(dirs collect.Dirs, agent, tag string) string {
	return filepath.Join(dirs.Agents(), agent, tag+PredictorSuffix)
}

// checkpointPaths returns the encoder and predictor files to load.
// ReadCheckpoint replaces the file name in both directories.
func checkpointPaths(m config.ModelConfig, dirs collect.Dirs, parent, agent string) (string, string, error) {
	name := m.ReadCheckpoint
	if name == "" {
		return EncoderPath(dirs, parent, m.Tag), PredictorPath(dirs, agent, m.Tag), nil
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", "", errors.NewValidationError("read_checkpoint must be a file name").
			WithField("model.read_checkpoint").WithValue(name)
	}
	return filepath.Join(dirs.WorldModels(), parent, name), filepath.Join(dirs.Agents(), agent, name), nil
}

func loadModels(cfg *config.Config, dirs collect.Dirs, parent, agent string, rng *rand.Rand) (model.Encoder, model.Predictor, error) {
	if !cfg.Model.LoadCheckpoint {
		enc, pred := model.Fresh(action.Count, rng)
		return enc, pred, nil
	}

	encPath, predPath, err := checkpointPaths(cfg.Model, dirs, parent, agent)
	if err != nil {
		return nil, nil, err
	}
	enc, err := model.LoadEncoder(encPath)
	if err != nil {
		return nil, nil, err
	}
	pred, err := model.LoadPredictor(predPath, action.Count)
	if err != nil {
		return nil, nil, err
	}
	if pred.InputDim() != enc.Dim() {
		return nil, nil, fmt.Errorf("%w: predictor takes %d features, encoder yields %d",
			errors.ErrCheckpointInvalid, pred.InputDim(), enc.Dim())
	}
	return enc, pred, nil
}
