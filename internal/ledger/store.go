package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Iron-Ham/ptzexplore/internal/errors"
	"github.com/Iron-Ham/ptzexplore/internal/fsutil"
)

const lockFileName = ".model_info.lock"

// Store locates ledgers under an agents directory, one subdirectory per
// agent.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at the agents directory.
func NewStore(agentsDir string) *Store {
	return &Store{dir: agentsDir}
}

// Dir returns the agents directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the ledger path for agent.
func (s *Store) Path(agent string) string {
	return filepath.Join(s.dir, agent, FileName)
}

// Agents lists agent directory names, sorted.
func (s *Store) Agents() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("agents directory", s.dir).WithCause(err)
		}
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	var agents []string
	for _, e := range entries {
		if e.IsDir() {
			agents = append(agents, e.Name())
		}
	}
	sort.Strings(agents)
	return agents, nil
}

// Read loads the ledger for agent.
func (s *Store) Read(agent string) (*Ledger, error) {
	path := s.Path(agent)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("ledger", path).WithCause(err)
		}
		return nil, errors.NewLedgerError("read failed", err).WithAgent(agent).WithPath(path)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, errors.NewLedgerError("parse failed", err).WithAgent(agent).WithPath(path)
	}
	return l, nil
}

// Write replaces the ledger for agent atomically.
func (s *Store) Write(agent string, l *Ledger) error {
	path := s.Path(agent)
	data, err := l.Marshal()
	if err != nil {
		return errors.NewLedgerError("encode failed", err).WithAgent(agent).WithPath(path)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0644); err != nil {
		return errors.NewLedgerError("write failed", err).WithAgent(agent).WithPath(path)
	}
	return nil
}

// Update re-reads the ledger under an exclusive file lock, applies fn and
// writes the result. Nothing is written when fn returns an error.
func (s *Store) Update(agent string, fn func(*Ledger) error) error {
	fl := fsutil.NewFileLock(filepath.Join(s.dir, agent), lockFileName)
	if err := fl.Lock(); err != nil {
		return errors.NewLedgerError("lock failed", err).WithAgent(agent).WithPath(fl.Path())
	}
	defer func() { _ = fl.Unlock() }()

	l, err := s.Read(agent)
	if err != nil {
		return err
	}
	if err := fn(l); err != nil {
		return err
	}
	return s.Write(agent, l)
}

// Init creates the agent directory and a fresh ledger naming parent as
// the default world model. An existing ledger is left alone and reported
// as an error.
func (s *Store) Init(agent, parent string) error {
	dir := filepath.Join(s.dir, agent)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewLedgerError("create agent directory failed", err).WithAgent(agent).WithPath(dir)
	}
	if _, err := os.Stat(s.Path(agent)); err == nil {
		return errors.NewLedgerError("ledger already exists", errors.ErrInvalidInput).WithAgent(agent).WithPath(s.Path(agent))
	}
	l := New()
	if parent != "" {
		if err := l.set(keyParentModel, parent); err != nil {
			return err
		}
	}
	return s.Write(agent, l)
}
