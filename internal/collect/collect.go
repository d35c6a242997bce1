// Package collect manages the working directories of an exploration run
// and what is retained from each iteration.
//
// Images are captured into a tmp directory. At the end of each iteration
// they are either moved into the collection directory (keep_images) or
// dropped with the tmp directory. Depending on the tracking mode, the
// iteration's positions and commands, and its embeddings and rewards, are
// written next to them.
package collect

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Iron-Ham/ptzexplore/internal/device"
	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/fsutil"
	"github.com/Iron-Ham/ptzexplore/internal/logging"
)

// StampFormat names per-iteration tracking files.
const StampFormat = "2006-01-02_15:04:05.000000"

// TrackingMode selects what is written per iteration.
type TrackingMode string

const (
	// TrackNone keeps bookkeeping in memory only.
	TrackNone TrackingMode = "none"
	// TrackPositions writes positions and commands.
	TrackPositions TrackingMode = "positions"
	// TrackAll also archives embeddings and rewards.
	TrackAll TrackingMode = "all"
)

// ValidModes lists the accepted tracking modes.
func ValidModes() []string {
	return []string{string(TrackNone), string(TrackPositions), string(TrackAll)}
}

// ParseMode validates a tracking mode string. Empty means TrackNone.
func ParseMode(s string) (TrackingMode, error) {
	switch m := TrackingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return TrackNone, nil
	case TrackNone, TrackPositions, TrackAll:
		return m, nil
	default:
		return "", errors.NewValidationError(
			fmt.Sprintf("tracking mode must be one of %s", strings.Join(ValidModes(), ", ")),
		).WithField("tracking.mode").WithValue(s)
	}
}

// Dirs are the directories of one camera node.
type Dirs struct {
	// Persist holds world_models/ and agents/ and is usually shared.
	Persist string
	// Collection receives retained images and tracking files.
	Collection string
	// Tmp holds the current iteration's captures.
	Tmp string
}

// WorldModels returns the world model directory.
func (d Dirs) WorldModels() string { return filepath.Join(d.Persist, "world_models") }

// Agents returns the agent directory.
func (d Dirs) Agents() string { return filepath.Join(d.Persist, "agents") }

// Iteration is what one iteration produced.
type Iteration struct {
	Positions  []device.Position
	Commands   []string
	Embeddings [][]float64
	Rewards    [][]float64
}

// Archive is the msgpack document written in TrackAll mode.
type Archive struct {
	Stamp      string      `msgpack:"stamp"`
	Embeddings [][]float64 `msgpack:"embeddings"`
	Rewards    [][]float64 `msgpack:"rewards"`
}

// Collector applies the retention settings.
type Collector struct {
	dirs       Dirs
	keepImages bool
	mode       TrackingMode
	logger     *logging.Logger
}

// New creates a Collector.
func New(dirs Dirs, keepImages bool, mode TrackingMode, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if mode == "" {
		mode = TrackNone
	}
	return &Collector{dirs: dirs, keepImages: keepImages, mode: mode, logger: logger}
}

// Dirs returns the configured directories.
func (c *Collector) Dirs() Dirs { return c.dirs }

// ResetRun clears the collection and tmp directories before the first
// iteration of a run.
func (c *Collector) ResetRun() error {
	for _, dir := range []string{c.dirs.Collection, c.dirs.Tmp} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(c.dirs.Collection, 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}
	return nil
}

// BeginIteration creates an empty tmp directory.
func (c *Collector) BeginIteration() error {
	if err := fsutil.ResetDir(c.dirs.Tmp); err != nil {
		return fmt.Errorf("failed to prepare tmp directory: %w", err)
	}
	return nil
}

// FinishIteration retains the iteration's images, removes the tmp
// directory and writes the tracking files. It returns the number of
// images the iteration produced.
func (c *Collector) FinishIteration(it Iteration, at time.Time) (int, error) {
	n, err := c.collectImages()
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(c.dirs.Tmp); err != nil {
		return n, fmt.Errorf("failed to remove tmp directory: %w", err)
	}

	stamp := at.Format(StampFormat)
	if c.mode == TrackPositions || c.mode == TrackAll {
		if err := c.writePositions(it.Positions, stamp); err != nil {
			return n, err
		}
		if err := c.writeCommands(it.Commands, stamp); err != nil {
			return n, err
		}
	}
	if c.mode == TrackAll {
		if err := c.writeArchive(it, stamp); err != nil {
			return n, err
		}
	}

	c.logger.Debug("iteration collected",
		"images", n,
		"kept", c.keepImages,
		"tracking", string(c.mode),
	)
	return n, nil
}

func (c *Collector) collectImages() (int, error) {
	entries, err := os.ReadDir(c.dirs.Tmp)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list tmp directory: %w", err)
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != device.ImageExt {
			continue
		}
		n++
		if !c.keepImages {
			continue
		}
		src := filepath.Join(c.dirs.Tmp, e.Name())
		dst := filepath.Join(c.dirs.Collection, e.Name())
		if err := os.Rename(src, dst); err != nil {
			return n, fmt.Errorf("failed to move %s: %w", e.Name(), err)
		}
	}
	return n, nil
}

func (c *Collector) writePositions(positions []device.Position, stamp string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"pan", "tilt", "zoom"}); err != nil {
		return err
	}
	for _, p := range positions {
		rec := []string{
			strconv.FormatFloat(p.Pan, 'f', -1, 64),
			strconv.FormatFloat(p.Tilt, 'f', -1, 64),
			strconv.FormatFloat(p.Zoom, 'f', -1, 64),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode positions: %w", err)
	}
	return c.write(PositionsFile(stamp), buf.Bytes())
}

func (c *Collector) writeCommands(cmds []string, stamp string) error {
	var b strings.Builder
	for _, cmd := range cmds {
		b.WriteString(cmd)
		b.WriteByte('\n')
	}
	return c.write(CommandsFile(stamp), []byte(b.String()))
}

func (c *Collector) writeArchive(it Iteration, stamp string) error {
	data, err := msgpack.Marshal(&Archive{
		Stamp:      stamp,
		Embeddings: it.Embeddings,
		Rewards:    it.Rewards,
	})
	if err != nil {
		return fmt.Errorf("failed to encode embeddings archive: %w", err)
	}
	return c.write(ArchiveFile(stamp), data)
}

func (c *Collector) write(name string, data []byte) error {
	if err := os.MkdirAll(c.dirs.Collection, 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(c.dirs.Collection, name), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// PositionsFile names the positions file for stamp.
func PositionsFile(stamp string) string { return "positions_" + stamp + ".csv" }

// CommandsFile names the commands file for stamp.
func CommandsFile(stamp string) string { return "commands_" + stamp + ".txt" }

// ArchiveFile names the embeddings and rewards archive for stamp.
func ArchiveFile(stamp string) string { return "embeds_rewards_" + stamp + ".msgpack" }

// ReadArchive decodes an archive written in TrackAll mode.
func ReadArchive(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Archive
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode archive %s: %w", path, err)
	}
	return &a, nil
}

// FormatCommand renders applied deltas the way commands files store them.
func FormatCommand(pan, tilt, zoom float64) string {
	return fmt.Sprintf("%.2f,%.2f,%.2f", pan, tilt, zoom)
}
