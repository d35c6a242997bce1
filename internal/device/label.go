package device

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// LabelTimeFormat is the capture-time layout inside image labels.
const LabelTimeFormat = "20060102-150405.000000"

// ImageExt is the extension of captured images.
const ImageExt = ".jpg"

// Label returns the file stem for an image taken at p at time t.
func Label(p Position, t time.Time) string {
	return fmt.Sprintf("%.2f_%.2f_%.2f_%s", p.Pan, p.Tilt, p.Zoom, t.Format(LabelTimeFormat))
}

// ParseLabel recovers the position and capture time from a label. It
// accepts a bare stem or an image path. The stem itself contains dots, so
// only known image extensions are stripped.
func ParseLabel(name string) (Position, time.Time, error) {
	stem := filepath.Base(name)
	for _, ext := range []string{ImageExt, ".jpeg", ".png"} {
		stem = strings.TrimSuffix(stem, ext)
	}
	parts := strings.Split(stem, "_")
	if len(parts) != 4 {
		return Position{}, time.Time{}, errors.NewValidationError(
			fmt.Sprintf("label %q has %d fields, want 4", stem, len(parts)),
		).WithField("label")
	}

	var vals [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return Position{}, time.Time{}, errors.NewValidationError(
				fmt.Sprintf("label %q: bad number %q", stem, parts[i]),
			).WithField("label")
		}
		vals[i] = v
	}

	ts, err := time.ParseInLocation(LabelTimeFormat, parts[3], time.Local)
	if err != nil {
		return Position{}, time.Time{}, errors.NewValidationError(
			fmt.Sprintf("label %q: bad time %q", stem, parts[3]),
		).WithField("label")
	}
	return Position{Pan: vals[0], Tilt: vals[1], Zoom: vals[2]}, ts, nil
}
