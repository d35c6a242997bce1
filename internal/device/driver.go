package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// Driver is a connected camera.
type Driver interface {
	// MoveAbsolute moves to an absolute pose.
	MoveAbsolute(ctx context.Context, p Position) error
	// MoveRelative moves by the given deltas.
	MoveRelative(ctx context.Context, pan, tilt, zoom float64) error
	// CapturePhoto writes a snapshot into dir, named by Label, and returns
	// its path. A partially written file may be returned with an error.
	CapturePhoto(ctx context.Context, dir string) (string, error)
	// ReadPosition returns the current pose.
	ReadPosition(ctx context.Context) (Position, error)
	// Close releases the connection.
	Close() error
}

// Brand names.
const (
	BrandHanwha    = "hanwha"
	BrandAxis      = "axis"
	BrandSimulated = "simulated"
)

var brandNumbers = map[string]string{
	"0": BrandHanwha,
	"1": BrandAxis,
}

// NormalizeBrand maps brand names and their legacy numbers (0 hanwha,
// 1 axis) to a lowercase brand name.
func NormalizeBrand(brand string) string {
	b := strings.ToLower(strings.TrimSpace(brand))
	if name, ok := brandNumbers[b]; ok {
		return name
	}
	return b
}

// Credentials address one camera.
type Credentials struct {
	Address  string
	Username string
	Password string
}

// String never includes the password.
func (c Credentials) String() string {
	return fmt.Sprintf("%s@%s", c.Username, c.Address)
}

// Connector constructs a Driver for one brand.
type Connector func(ctx context.Context, creds Credentials) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Connector)
)

// Register makes a connector available under brand. Registering the same
// brand twice replaces the earlier connector.
func Register(brand string, c Connector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[NormalizeBrand(brand)] = c
}

// Brands returns the registered brand names, sorted.
func Brands() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for b := range registry {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Connect constructs a driver for brand. It is attempted once. Errors
// match errors.ErrUnknownBrand or errors.ErrDeviceConnect and never carry
// the password.
func Connect(ctx context.Context, brand string, creds Credentials) (Driver, error) {
	name := NormalizeBrand(brand)

	registryMu.RLock()
	connector, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.NewDeviceError("connect", errors.ErrUnknownBrand).
			WithBrand(name).
			WithAddress(creds.Address).
			WithSeverity(errors.SeverityCritical)
	}

	drv, err := connector(ctx, creds)
	if err != nil {
		return nil, errors.NewDeviceError("connect", fmt.Errorf("%w: %w", errors.ErrDeviceConnect, redact(err, creds.Password))).
			WithBrand(name).
			WithAddress(creds.Address).
			WithAttempts(1).
			WithSeverity(errors.SeverityCritical)
	}
	return drv, nil
}

// redact strips secret from err's message. The result no longer wraps err.
func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), secret, "***"))
}

// Modulation scales unmodulated action deltas into device units.
type Modulation struct {
	Pan  float64 `mapstructure:"pan"`
	Tilt float64 `mapstructure:"tilt"`
	Zoom float64 `mapstructure:"zoom"`
}

// ModulationFor returns the reference modulation for brand: pan and tilt
// doubled, zoom unchanged on hanwha and scaled by 100 on axis.
func ModulationFor(brand string) Modulation {
	m := Modulation{Pan: 2, Tilt: 2, Zoom: 1}
	if NormalizeBrand(brand) == BrandAxis {
		m.Zoom = 100
	}
	return m
}

// Apply scales the deltas.
func (m Modulation) Apply(pan, tilt, zoom float64) (float64, float64, float64) {
	return pan * m.Pan, tilt * m.Tilt, zoom * m.Zoom
}
