package device

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Fault is an injected capture failure.
type Fault int

const (
	// FaultNone captures normally.
	FaultNone Fault = iota
	// FaultError fails the capture call without writing a file.
	FaultError
	// FaultCorrupt writes an undecodable file and reports success.
	FaultCorrupt
)

// SimConfig configures a simulated camera.
type SimConfig struct {
	Bounds Bounds
	Width  int
	Height int
	// Clock supplies capture times; defaults to time.Now.
	Clock func() time.Time
	// CaptureFault is consulted on every capture with the 1-based call
	// number. Nil means no faults.
	CaptureFault func(call int) Fault
	// PositionFault fails the given 1-based position read when it returns true.
	PositionFault func(call int) bool
}

// Simulated is an in-memory camera that renders synthetic JPEGs. It
// backs dry runs and tests.
type Simulated struct {
	mu       sync.Mutex
	cfg      SimConfig
	pos      Position
	moves    []Position
	captures int
	reads    int
	lastShot time.Time
	closed   bool
}

// NewSimulated creates a simulated camera at the lower corner of its bounds.
func NewSimulated(cfg SimConfig) *Simulated {
	if cfg.Bounds == (Bounds{}) {
		cfg.Bounds = DefaultBounds()
	}
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 48
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Simulated{
		cfg: cfg,
		pos: Position{Pan: cfg.Bounds.PanMin, Tilt: cfg.Bounds.TiltMin, Zoom: cfg.Bounds.ZoomMin},
	}
}

func init() {
	Register(BrandSimulated, connectSimulated)
}

// connectSimulated treats addresses starting with "unreachable" as a
// refused connection, for exercising connect failures end to end.
func connectSimulated(_ context.Context, creds Credentials) (Driver, error) {
	if strings.HasPrefix(creds.Address, "unreachable") {
		return nil, fmt.Errorf("dial http://%s:%s@%s: connection refused",
			creds.Username, creds.Password, creds.Address)
	}
	return NewSimulated(SimConfig{}), nil
}

// MoveAbsolute implements Driver.
func (s *Simulated) MoveAbsolute(ctx context.Context, p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.pos = s.cfg.Bounds.Clamp(p)
	s.moves = append(s.moves, s.pos)
	return nil
}

// MoveRelative implements Driver.
func (s *Simulated) MoveRelative(ctx context.Context, pan, tilt, zoom float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.pos = s.cfg.Bounds.Clamp(Position{
		Pan:  s.pos.Pan + pan,
		Tilt: s.pos.Tilt + tilt,
		Zoom: s.pos.Zoom + zoom,
	})
	s.moves = append(s.moves, s.pos)
	return nil
}

// CapturePhoto implements Driver.
func (s *Simulated) CapturePhoto(ctx context.Context, dir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	s.captures++

	fault := FaultNone
	if s.cfg.CaptureFault != nil {
		fault = s.cfg.CaptureFault(s.captures)
	}
	if fault == FaultError {
		return "", fmt.Errorf("snapshot request %d timed out", s.captures)
	}

	t := s.cfg.Clock()
	if !t.After(s.lastShot) {
		t = s.lastShot.Add(time.Microsecond)
	}
	s.lastShot = t
	path := filepath.Join(dir, Label(s.pos, t)+ImageExt)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	defer f.Close()

	if fault == FaultCorrupt {
		if _, err := f.Write([]byte("\xff\xd8\xff truncated")); err != nil {
			return path, err
		}
		return path, nil
	}
	if err := jpeg.Encode(f, s.render(), &jpeg.Options{Quality: 80}); err != nil {
		return path, fmt.Errorf("encode snapshot: %w", err)
	}
	return path, nil
}

// render draws a pose-dependent gradient so encoders see different
// embeddings at different poses.
func (s *Simulated) render() image.Image {
	w, h := s.cfg.Width, s.cfg.Height
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := s.pos.Pan*0.7 + s.pos.Tilt*1.3 + float64(x)*s.pos.Zoom/2 + float64(y)
			img.SetGray(x, y, color.Gray{Y: uint8(int(v) % 256)})
		}
	}
	return img
}

// ReadPosition implements Driver.
func (s *Simulated) ReadPosition(ctx context.Context) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return Position{}, err
	}
	s.reads++
	if s.cfg.PositionFault != nil && s.cfg.PositionFault(s.reads) {
		return Position{}, fmt.Errorf("position request %d failed", s.reads)
	}
	return s.pos, nil
}

// Close implements Driver.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulated) check(ctx context.Context) error {
	if s.closed {
		return fmt.Errorf("simulated camera is closed")
	}
	return ctx.Err()
}

// Moves returns every pose the camera moved to, in order.
func (s *Simulated) Moves() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Position(nil), s.moves...)
}

// Captures returns the number of capture calls so far.
func (s *Simulated) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// Closed reports whether Close was called.
func (s *Simulated) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
