// Package explore runs the exploration episode state machine: seek a
// random start pose, then repeatedly ask the model for an action, apply
// it to the camera and record what was seen.
package explore

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Iron-Ham/ptzexplore/internal/action"
	"github.com/Iron-Ham/ptzexplore/internal/collect"
	"github.com/Iron-Ham/ptzexplore/internal/device"
	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/event"
	"github.com/Iron-Ham/ptzexplore/internal/ledger"
	"github.com/Iron-Ham/ptzexplore/internal/logging"
	"github.com/Iron-Ham/ptzexplore/internal/model"
	"github.com/Iron-Ham/ptzexplore/internal/observability"
	"github.com/Iron-Ham/ptzexplore/internal/policy"
	"github.com/Iron-Ham/ptzexplore/internal/retry"
)

// Camera is the subset of device.Resilient the controller drives.
type Camera interface {
	MoveAbsolute(ctx context.Context, p device.Position) error
	MoveRelative(ctx context.Context, pan, tilt, zoom float64) error
	CaptureVerified(ctx context.Context, dir string, onExhausted retry.Exhaustion) (string, bool, error)
	ReadPosition(ctx context.Context) (device.Position, error)
}

// ProgressRecorder receives a row per persisted run.
type ProgressRecorder interface {
	RecordRun(ctx context.Context, agent string, images int, at time.Time) error
}

// Config holds the loop shape.
type Config struct {
	Iterations int
	Movements  int
	Bounds     device.Bounds
	Modulation device.Modulation
	// ParentModel is used when the ledger names none.
	ParentModel string
}

// Deps are the collaborators of a Controller. Camera, Encoder, Predictor,
// Selector, Actions, Collector and Ledger are required.
type Deps struct {
	Camera    Camera
	Encoder   model.Encoder
	Predictor model.Predictor
	Selector  *policy.Selector
	Actions   *action.Table
	Collector *collect.Collector
	Ledger    *ledger.Store
	Progress  ProgressRecorder
	Bus       *event.Bus
	Logger    *logging.Logger
	Rand      *rand.Rand
	Clock     func() time.Time
}

// Controller runs exploration episodes for one agent at a time.
type Controller struct {
	cfg  Config
	deps Deps
}

// New validates cfg and deps and returns a Controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	if cfg.Iterations < 1 {
		return nil, errors.NewValidationError("iterations must be at least 1").WithField("iterations").WithValue(cfg.Iterations)
	}
	if cfg.Movements < 0 {
		return nil, errors.NewValidationError("movements must not be negative").WithField("movements").WithValue(cfg.Movements)
	}
	if err := cfg.Bounds.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Camera == nil:
		return nil, errors.NewValidationError("camera is required").WithField("camera")
	case deps.Encoder == nil || deps.Predictor == nil:
		return nil, errors.NewValidationError("encoder and predictor are required").WithField("model")
	case deps.Selector == nil:
		return nil, errors.NewValidationError("selector is required").WithField("selector")
	case deps.Actions == nil:
		return nil, errors.NewValidationError("action table is required").WithField("actions")
	case deps.Collector == nil:
		return nil, errors.NewValidationError("collector is required").WithField("collector")
	case deps.Ledger == nil:
		return nil, errors.NewValidationError("ledger store is required").WithField("ledger")
	}
	if deps.Predictor.NumActions() != action.Count {
		return nil, errors.NewValidationError(
			fmt.Sprintf("predictor scores %d actions, table has %d", deps.Predictor.NumActions(), action.Count),
		).WithField("model")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Controller{cfg: cfg, deps: deps}, nil
}

// run is the mutable state of one Run call.
type run struct {
	id        string
	agent     string
	phase     Phase
	logger    *logging.Logger
	result    *Result
	haveFirst bool
}

// Run executes Iterations episodes for agent and persists the result to
// its ledger. Any failure before PERSIST leaves the ledger untouched. The
// returned Result is non-nil even on error and reports the phase reached.
func (c *Controller) Run(ctx context.Context, runID, agent string) (*Result, error) {
	r := &run{
		id:     runID,
		agent:  agent,
		phase:  PhaseInit,
		logger: c.deps.Logger.WithRun(runID).WithAgent(agent),
		result: &Result{RunID: runID, Agent: agent, Phase: PhaseInit},
	}

	ctx, span := observability.StartSpan(ctx, "explore.run",
		attribute.String("agent", agent),
		attribute.Int("iterations", c.cfg.Iterations),
		attribute.Int("movements", c.cfg.Movements),
	)
	err := c.run(ctx, r)
	observability.EndSpan(span, err)

	if err != nil {
		failedIn := r.phase
		c.transition(r, PhaseAbort)
		r.logger.Error("run aborted", "phase", string(failedIn),
			"severity", errors.GetSeverity(err).String(), "fatal", errors.IsFatal(err), "error", err)
		c.deps.Bus.Publish(event.NewRunAbortedEvent(runID, agent, string(failedIn), err.Error()))
		return r.result, err
	}
	return r.result, nil
}

func (c *Controller) run(ctx context.Context, r *run) error {
	if err := c.init(r); err != nil {
		return err
	}
	c.deps.Bus.Publish(event.NewRunStartedEvent(r.id, r.agent, c.cfg.Iterations, c.cfg.Movements))

	if err := c.deps.Collector.ResetRun(); err != nil {
		return err
	}

	for i := 0; i < c.cfg.Iterations; i++ {
		ep, err := c.iteration(ctx, r, i)
		if err != nil {
			return err
		}
		r.result.Episodes = append(r.result.Episodes, ep)
		r.result.NumImages += ep.Images
		r.result.Skipped += ep.Skipped
	}

	return c.persist(ctx, r)
}

// init checks the ledger can take this run. The activation is redone
// under the ledger lock in persist; here it only runs in memory.
func (c *Controller) init(r *run) error {
	l, err := c.deps.Ledger.Read(r.agent)
	if err != nil {
		return err
	}
	created, err := l.Activate(c.cfg.ParentModel)
	if err != nil {
		return errors.NewLedgerError("cannot activate restart record", err).WithAgent(r.agent)
	}
	r.result.RestartCreated = created
	r.logger.Info("run initialized",
		"num_restart", l.NumRestart(),
		"restart_created", created,
	)
	return nil
}

func (c *Controller) iteration(ctx context.Context, r *run, i int) (Episode, error) {
	ctx, span := observability.StartSpan(ctx, "explore.iteration", attribute.Int("iteration", i))
	ep, err := c.episode(ctx, r, i)
	observability.EndSpan(span, err)
	return ep, err
}

func (c *Controller) episode(ctx context.Context, r *run, i int) (Episode, error) {
	var ep Episode
	logger := r.logger.With("iteration", i)
	c.deps.Bus.Publish(event.NewIterationStartedEvent(r.id, i))

	if err := c.deps.Collector.BeginIteration(); err != nil {
		return ep, err
	}
	tmp := c.deps.Collector.Dirs().Tmp

	c.transition(r, PhaseSeekStart)
	if err := checkCanceled(ctx); err != nil {
		return ep, err
	}
	target := c.cfg.Bounds.Random(c.deps.Rand)
	if err := c.deps.Camera.MoveAbsolute(ctx, target); err != nil {
		return ep, err
	}
	last, _, err := c.deps.Camera.CaptureVerified(ctx, tmp, retry.Fatal)
	if err != nil {
		return ep, err
	}
	// The label pose feeds the model; the recorded pose is what the
	// camera reports after the capture.
	pos, at, err := device.ParseLabel(last)
	if err != nil {
		return ep, err
	}
	c.noteImage(r, at)
	reported, err := c.deps.Camera.ReadPosition(ctx)
	if err != nil {
		return ep, err
	}
	ep.Positions = append(ep.Positions, reported)
	logger.Debug("start image captured", "position", reported.String())

	c.transition(r, PhaseStep)
	for step := 0; step < c.cfg.Movements; step++ {
		if err := checkCanceled(ctx); err != nil {
			return ep, err
		}
		next, skipped, err := c.step(ctx, r, &ep, i, step, last, pos, tmp)
		if err != nil {
			return ep, err
		}
		if skipped {
			ep.Skipped++
			continue
		}
		last = next
		if pos, at, err = device.ParseLabel(last); err != nil {
			return ep, err
		}
		c.noteImage(r, at)
		if reported, err = c.deps.Camera.ReadPosition(ctx); err != nil {
			return ep, err
		}
		ep.Positions = append(ep.Positions, reported)
	}

	c.transition(r, PhaseDrain)
	n, err := c.deps.Collector.FinishIteration(collect.Iteration{
		Positions:  ep.Positions,
		Commands:   ep.Commands,
		Embeddings: ep.Embeddings,
		Rewards:    ep.Rewards,
	}, c.deps.Clock())
	if err != nil {
		return ep, err
	}
	ep.Images = n
	logger.Info("iteration finished", "images", n, "skipped", ep.Skipped)
	return ep, nil
}

// step decides on and applies one action. On success it returns the new
// image path. A skipped capture leaves ep unchanged apart from the caller
// counting the skip.
func (c *Controller) step(ctx context.Context, r *run, ep *Episode, iter, step int, last string, pos device.Position, tmp string) (string, bool, error) {
	obs, err := c.observe(last, pos)
	if err != nil {
		return "", false, err
	}
	values, err := c.deps.Predictor.Predict(obs.Embedding, obs.Position)
	if err != nil {
		return "", false, err
	}
	dec, err := c.deps.Selector.Select(values)
	if err != nil {
		return "", false, err
	}
	act, err := c.deps.Actions.At(dec.Index)
	if err != nil {
		return "", false, err
	}

	pan, tilt, zoom := c.cfg.Modulation.Apply(act.Pan, act.Tilt, act.Zoom)
	command := collect.FormatCommand(pan, tilt, zoom)
	if err := c.deps.Camera.MoveRelative(ctx, pan, tilt, zoom); err != nil {
		r.logger.Warn("relative move failed", "step", step, "command", command, "error", err)
	}

	path, skipped, err := c.deps.Camera.CaptureVerified(ctx, tmp, retry.Skip)
	if err != nil {
		return "", false, err
	}
	if skipped {
		r.logger.Warn("step skipped", "iteration", iter, "step", step, "action", act.Name)
		c.deps.Bus.Publish(event.NewStepSkippedEvent(r.id, iter, step, "capture attempts exhausted"))
		return "", true, nil
	}

	ep.Commands = append(ep.Commands, command)
	ep.Embeddings = append(ep.Embeddings, obs.Embedding)
	ep.Rewards = append(ep.Rewards, dec.Values)
	c.deps.Bus.Publish(event.NewStepAppliedEvent(r.id, iter, step, act.Name, string(dec.Mode), command))
	return path, false, nil
}

func (c *Controller) observe(path string, pos device.Position) (Observation, error) {
	img, err := device.LoadImage(path)
	if err != nil {
		return Observation{}, err
	}
	emb, err := c.deps.Encoder.Encode(img)
	if err != nil {
		return Observation{}, err
	}
	return Observation{Embedding: emb, Position: pos.Vector()}, nil
}

func (c *Controller) persist(ctx context.Context, r *run) error {
	c.transition(r, PhasePersist)
	if err := checkCanceled(ctx); err != nil {
		return err
	}
	res := r.result

	err := c.deps.Ledger.Update(r.agent, func(l *ledger.Ledger) error {
		if _, err := l.Activate(c.cfg.ParentModel); err != nil {
			return err
		}
		return l.AddRun(res.FirstImage, res.LastImage, res.NumImages)
	})
	if err != nil {
		return err
	}
	r.logger.Info("run persisted",
		"images", res.NumImages,
		"skipped", res.Skipped,
		"first", res.FirstImage.Format(ledger.TimeFormat),
		"last", res.LastImage.Format(ledger.TimeFormat),
	)
	c.deps.Bus.Publish(event.NewRunPersistedEvent(r.id, r.agent, res.NumImages, res.FirstImage, res.LastImage))

	if c.deps.Progress != nil {
		if err := c.deps.Progress.RecordRun(ctx, r.agent, res.NumImages, c.deps.Clock()); err != nil {
			r.logger.Warn("progress update failed", "error", err)
		}
	}

	c.transition(r, PhaseDone)
	return nil
}

func (c *Controller) noteImage(r *run, at time.Time) {
	if !r.haveFirst {
		r.result.FirstImage = at
		r.haveFirst = true
	}
	r.result.LastImage = at
}

func (c *Controller) transition(r *run, to Phase) {
	if r.phase == to {
		return
	}
	from := r.phase
	r.phase = to
	r.result.Phase = to
	r.logger.Debug("phase changed", "from", string(from), "to", string(to))
	c.deps.Bus.Publish(event.NewPhaseChangedEvent(r.id, string(from), string(to)))
}

func checkCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrCanceled, err)
	}
	return nil
}
