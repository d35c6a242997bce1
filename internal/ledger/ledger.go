// Package ledger reads and writes the per-agent restart ledger,
// model_info.yaml.
//
// The ledger holds a restart counter and one record per restart:
//
//	num_restart: 1
//	restart_00: {...}
//	restart_01:
//	  parent_model: wm-03
//	  start_ind: 0
//	  rew_sum: 0
//	  target_rew: 0
//	  num_steps: 0
//	  images:
//	    num_images: 240
//	    start_end: [...]
//
// Other tools write keys this program does not know about; they are kept
// verbatim on every rewrite. Only the active record (restart_<num_restart>)
// is ever modified here, and num_restart never decreases.
package ledger

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
)

// FileName is the ledger file inside an agent directory.
const FileName = "model_info.yaml"

// TimeFormat is the layout of start_end entries.
const TimeFormat = "2006-01-02_15:04:05.000000"

const (
	keyNumRestart  = "num_restart"
	keyParentModel = "parent_model"
)

// Images tracks images gathered under one restart.
type Images struct {
	StartEnd  []string       `yaml:"start_end"`
	NumImages int            `yaml:"num_images"`
	Extra     map[string]any `yaml:",inline"`
}

// RestartRecord is one restart_XX entry.
type RestartRecord struct {
	StartInd    int            `yaml:"start_ind"`
	RewSum      float64        `yaml:"rew_sum"`
	TargetRew   float64        `yaml:"target_rew"`
	NumSteps    int            `yaml:"num_steps"`
	ParentModel string         `yaml:"parent_model,omitempty"`
	Images      *Images        `yaml:"images,omitempty"`
	Extra       map[string]any `yaml:",inline"`
}

// RecordKey returns the key of restart n, e.g. restart_03.
func RecordKey(n int) string {
	return fmt.Sprintf("restart_%02d", n)
}

// Ledger is a decoded model_info.yaml. The document is kept as a yaml
// node tree so unknown keys, key order and comments survive a rewrite.
type Ledger struct {
	root *yaml.Node
}

// Parse decodes ledger bytes.
func Parse(data []byte) (*Ledger, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrLedgerCorrupted, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping", errors.ErrLedgerCorrupted)
	}
	l := &Ledger{root: doc.Content[0]}
	if l.get(keyNumRestart) == nil {
		return nil, fmt.Errorf("%w: missing %s", errors.ErrLedgerCorrupted, keyNumRestart)
	}
	if _, err := l.numRestart(); err != nil {
		return nil, err
	}
	return l, nil
}

// New returns a ledger with no restarts yet (num_restart = -1).
func New() *Ledger {
	l := &Ledger{root: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
	_ = l.set(keyNumRestart, -1)
	return l
}

// Marshal encodes the ledger with two-space indentation.
func (l *Ledger) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(l.root); err != nil {
		return nil, fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode ledger: %w", err)
	}
	return buf.Bytes(), nil
}

// Keys returns the top-level keys in document order.
func (l *Ledger) Keys() []string {
	keys := make([]string, 0, len(l.root.Content)/2)
	for i := 0; i+1 < len(l.root.Content); i += 2 {
		keys = append(keys, l.root.Content[i].Value)
	}
	return keys
}

func (l *Ledger) get(key string) *yaml.Node {
	for i := 0; i+1 < len(l.root.Content); i += 2 {
		if l.root.Content[i].Value == key {
			return l.root.Content[i+1]
		}
	}
	return nil
}

func (l *Ledger) set(key string, v any) error {
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	for i := 0; i+1 < len(l.root.Content); i += 2 {
		if l.root.Content[i].Value == key {
			l.root.Content[i+1] = &node
			return nil
		}
	}
	l.root.Content = append(l.root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&node,
	)
	return nil
}

func (l *Ledger) numRestart() (int, error) {
	var n int
	if err := l.get(keyNumRestart).Decode(&n); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errors.ErrLedgerCorrupted, keyNumRestart, err)
	}
	return n, nil
}

// NumRestart returns the active restart index; negative means none yet.
func (l *Ledger) NumRestart() int {
	n, _ := l.numRestart()
	return n
}

// Record decodes restart n.
func (l *Ledger) Record(n int) (*RestartRecord, error) {
	node := l.get(RecordKey(n))
	if node == nil {
		return nil, fmt.Errorf("%w: %s missing", errors.ErrLedgerCorrupted, RecordKey(n))
	}
	var rec RestartRecord
	if err := node.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrLedgerCorrupted, RecordKey(n), err)
	}
	return &rec, nil
}

// Active decodes the active restart record.
func (l *Ledger) Active() (*RestartRecord, error) {
	n := l.NumRestart()
	if n < 0 {
		return nil, errors.NewValidationError("ledger has no active restart").WithField(keyNumRestart)
	}
	return l.Record(n)
}

// SetActive replaces the active record. Extra keys carried in rec are
// written back unchanged.
func (l *Ledger) SetActive(rec *RestartRecord) error {
	n := l.NumRestart()
	if n < 0 {
		return errors.NewValidationError("ledger has no active restart").WithField(keyNumRestart)
	}
	return l.set(RecordKey(n), rec)
}

// DefaultParent returns the top-level parent_model key, if present.
func (l *Ledger) DefaultParent() string {
	node := l.get(keyParentModel)
	if node == nil {
		return ""
	}
	var s string
	_ = node.Decode(&s)
	return s
}

// Activate makes sure an active record exists. When num_restart is
// negative it sets it to 0 and creates restart_00 with zeroed counters
// and the given parent. It reports whether a record was created.
func (l *Ledger) Activate(parent string) (bool, error) {
	if l.NumRestart() >= 0 {
		if _, err := l.Active(); err != nil {
			return false, err
		}
		return false, nil
	}
	if parent == "" {
		parent = l.DefaultParent()
	}
	if parent == "" {
		return false, fmt.Errorf("%w: cannot create restart 0", errors.ErrNoParentModel)
	}

	if err := l.set(keyNumRestart, 0); err != nil {
		return false, err
	}
	rec := &RestartRecord{
		ParentModel: parent,
		Images:      &Images{StartEnd: []string{}},
	}
	if err := l.set(RecordKey(0), rec); err != nil {
		return false, err
	}
	return true, nil
}

// ParentModel resolves the world model behind the active record: the
// record's parent_model, else the top-level parent_model, else fallback.
func (l *Ledger) ParentModel(fallback string) (string, error) {
	rec, err := l.Active()
	if err != nil {
		return "", err
	}
	for _, p := range []string{rec.ParentModel, l.DefaultParent(), fallback} {
		if p != "" {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", errors.ErrNoParentModel, RecordKey(l.NumRestart()))
}

// AddRun appends a run's first and last image times to the active
// record's start_end and adds numImages to its count.
func (l *Ledger) AddRun(first, last time.Time, numImages int) error {
	rec, err := l.Active()
	if err != nil {
		return err
	}
	if rec.Images == nil {
		rec.Images = &Images{}
	}
	rec.Images.StartEnd = append(rec.Images.StartEnd, first.Format(TimeFormat), last.Format(TimeFormat))
	rec.Images.NumImages += numImages
	return l.SetActive(rec)
}
