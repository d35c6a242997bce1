package model

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/fsutil"
)

// CheckpointVersion is written into every checkpoint.
const CheckpointVersion = 1

// Checkpoint kinds.
const (
	KindEncoder   = "encoder"
	KindPredictor = "predictor"
)

// Reference encoder parameters used for fresh models.
const (
	DefaultGrid = 8
	DefaultMean = 0.5
	DefaultStd  = 0.25
)

// Checkpoint is the on-disk msgpack document. Exactly one of Encoder or
// Predictor is set, matching Kind.
type Checkpoint struct {
	Version   int             `msgpack:"version"`
	Kind      string          `msgpack:"kind"`
	Encoder   *EncoderState   `msgpack:"encoder,omitempty"`
	Predictor *PredictorState `msgpack:"predictor,omitempty"`
}

// EncoderState holds GridEncoder parameters.
type EncoderState struct {
	Grid int     `msgpack:"grid"`
	Mean float64 `msgpack:"mean"`
	Std  float64 `msgpack:"std"`
}

// PredictorState holds LinearPredictor weights.
type PredictorState struct {
	W [][]float64 `msgpack:"w"`
	B []float64   `msgpack:"b"`
}

// SaveEncoder writes e to path.
func SaveEncoder(path string, e *GridEncoder) error {
	return save(path, &Checkpoint{
		Version: CheckpointVersion,
		Kind:    KindEncoder,
		Encoder: &EncoderState{Grid: e.Grid, Mean: e.Mean, Std: e.Std},
	})
}

// SavePredictor writes p to path.
func SavePredictor(path string, p *LinearPredictor) error {
	return save(path, &Checkpoint{
		Version:   CheckpointVersion,
		Kind:      KindPredictor,
		Predictor: &PredictorState{W: p.W, B: p.B},
	})
}

func save(path string, ckpt *Checkpoint) error {
	data, err := msgpack.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}
	return nil
}

func load(path, kind string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("checkpoint", path).WithCause(err)
		}
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	var ckpt Checkpoint
	if err := msgpack.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrCheckpointInvalid, path, err)
	}
	if ckpt.Version != CheckpointVersion {
		return nil, fmt.Errorf("%w: %s: version %d, want %d",
			errors.ErrCheckpointInvalid, path, ckpt.Version, CheckpointVersion)
	}
	if ckpt.Kind != kind {
		return nil, fmt.Errorf("%w: %s: kind %q, want %q",
			errors.ErrCheckpointInvalid, path, ckpt.Kind, kind)
	}
	return &ckpt, nil
}

// LoadEncoder reads an encoder checkpoint.
func LoadEncoder(path string) (*GridEncoder, error) {
	ckpt, err := load(path, KindEncoder)
	if err != nil {
		return nil, err
	}
	if ckpt.Encoder == nil {
		return nil, fmt.Errorf("%w: %s: missing encoder state", errors.ErrCheckpointInvalid, path)
	}
	e, err := NewGridEncoder(ckpt.Encoder.Grid, ckpt.Encoder.Mean, ckpt.Encoder.Std)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrCheckpointInvalid, path, err)
	}
	return e, nil
}

// LoadPredictor reads a predictor checkpoint and checks it scores
// numActions actions.
func LoadPredictor(path string, numActions int) (*LinearPredictor, error) {
	ckpt, err := load(path, KindPredictor)
	if err != nil {
		return nil, err
	}
	if ckpt.Predictor == nil {
		return nil, fmt.Errorf("%w: %s: missing predictor state", errors.ErrCheckpointInvalid, path)
	}
	p, err := NewLinearPredictor(ckpt.Predictor.W, ckpt.Predictor.B)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrCheckpointInvalid, path, err)
	}
	if p.NumActions() != numActions {
		return nil, fmt.Errorf("%w: %s: %d outputs, want %d",
			errors.ErrCheckpointInvalid, path, p.NumActions(), numActions)
	}
	return p, nil
}

// Fresh returns an untrained reference model pair.
func Fresh(numActions int, rng *rand.Rand) (*GridEncoder, *LinearPredictor) {
	enc := &GridEncoder{Grid: DefaultGrid, Mean: DefaultMean, Std: DefaultStd}
	return enc, RandomLinearPredictor(enc.Dim(), numActions, rng)
}
