// Package model defines the policy model consumed by the exploration
// controller and ships a small frozen reference implementation.
//
// The controller needs two things from a model: an Encoder that turns a
// captured image into an embedding, and a Predictor that scores every
// action given that embedding and the camera position. Both are frozen
// after load; nothing in this program updates weights.
package model

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// PositionDim is the length of a position vector (pan, tilt, zoom).
const PositionDim = 3

// Encoder maps an image to an embedding.
type Encoder interface {
	Encode(img image.Image) ([]float64, error)
	Dim() int
}

// Predictor maps an embedding and position to one value per action.
type Predictor interface {
	Predict(embedding, position []float64) ([]float64, error)
	NumActions() int
}

// GridEncoder averages grayscale intensity over a Grid x Grid partition of
// the image and standardizes each cell with Mean and Std.
type GridEncoder struct {
	Grid int
	Mean float64
	Std  float64
}

// NewGridEncoder validates and returns a GridEncoder.
func NewGridEncoder(grid int, mean, std float64) (*GridEncoder, error) {
	if grid <= 0 {
		return nil, errors.NewValidationError("grid must be positive").WithField("grid").WithValue(grid)
	}
	if std <= 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return nil, errors.NewValidationError("std must be positive and finite").WithField("std").WithValue(std)
	}
	return &GridEncoder{Grid: grid, Mean: mean, Std: std}, nil
}

// Dim returns Grid*Grid.
func (e *GridEncoder) Dim() int { return e.Grid * e.Grid }

// Encode implements Encoder.
func (e *GridEncoder) Encode(img image.Image) ([]float64, error) {
	if img == nil {
		return nil, errors.NewValidationError("nil image")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < e.Grid || h < e.Grid {
		return nil, errors.NewValidationError(
			fmt.Sprintf("image %dx%d smaller than grid %d", w, h, e.Grid),
		)
	}

	sums := make([]float64, e.Dim())
	counts := make([]int, e.Dim())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		gy := (y - b.Min.Y) * e.Grid / h
		for x := b.Min.X; x < b.Max.X; x++ {
			gx := (x - b.Min.X) * e.Grid / w
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			cell := gy*e.Grid + gx
			sums[cell] += float64(g.Y) / 255
			counts[cell]++
		}
	}

	out := make([]float64, e.Dim())
	for i := range out {
		out[i] = (sums[i]/float64(counts[i]) - e.Mean) / e.Std
	}
	return out, nil
}

// LinearPredictor scores actions as W·[embedding, position] + B.
type LinearPredictor struct {
	// W has one row per action, each of length embedding dim + PositionDim.
	W [][]float64
	B []float64
}

// NewLinearPredictor validates the weight shapes.
func NewLinearPredictor(w [][]float64, b []float64) (*LinearPredictor, error) {
	if len(w) == 0 || len(w) != len(b) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("weights have %d rows but %d biases", len(w), len(b)),
		).WithField("predictor")
	}
	in := len(w[0])
	if in <= PositionDim {
		return nil, errors.NewValidationError("weight rows too short").WithField("predictor")
	}
	for i, row := range w {
		if len(row) != in {
			return nil, errors.NewValidationError(
				fmt.Sprintf("row %d has %d inputs, want %d", i, len(row), in),
			).WithField("predictor")
		}
	}
	return &LinearPredictor{W: w, B: b}, nil
}

// RandomLinearPredictor builds an untrained predictor with small weights
// drawn from rng.
func RandomLinearPredictor(embeddingDim, numActions int, rng *rand.Rand) *LinearPredictor {
	in := embeddingDim + PositionDim
	scale := 1 / math.Sqrt(float64(in))
	w := make([][]float64, numActions)
	for i := range w {
		w[i] = make([]float64, in)
		for j := range w[i] {
			w[i][j] = (rng.Float64()*2 - 1) * scale
		}
	}
	return &LinearPredictor{W: w, B: make([]float64, numActions)}
}

// NumActions returns the number of output values.
func (p *LinearPredictor) NumActions() int { return len(p.W) }

// InputDim returns the expected embedding length.
func (p *LinearPredictor) InputDim() int { return len(p.W[0]) - PositionDim }

// Predict implements Predictor.
func (p *LinearPredictor) Predict(embedding, position []float64) ([]float64, error) {
	if len(embedding) != p.InputDim() {
		return nil, errors.NewValidationError(
			fmt.Sprintf("embedding has %d values, want %d", len(embedding), p.InputDim()),
		)
	}
	if len(position) != PositionDim {
		return nil, errors.NewValidationError(
			fmt.Sprintf("position has %d values, want %d", len(position), PositionDim),
		)
	}

	out := make([]float64, len(p.W))
	for i, row := range p.W {
		v := p.B[i]
		for j, x := range embedding {
			v += row[j] * x
		}
		for j, x := range position {
			v += row[len(embedding)+j] * x
		}
		out[i] = v
	}
	return out, nil
}
