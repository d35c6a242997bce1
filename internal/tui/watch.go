package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/ptzexplore/internal/locker"
	"github.com/Iron-Ham/ptzexplore/internal/progress"
)

// DefaultWidth is used until the terminal reports its size.
const DefaultWidth = 80

// Snapshot is one poll of the lock slots and progress table.
type Snapshot struct {
	Slots    []locker.SlotStatus
	Progress []progress.Row
	At       time.Time
	Err      error
}

// SourceFunc produces a Snapshot. It must return within the context.
type SourceFunc func(ctx context.Context) Snapshot

type tickMsg time.Time

type keyMap struct {
	Refresh key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) help() string {
	parts := make([]string, 0, 2)
	for _, b := range []key.Binding{k.Refresh, k.Quit} {
		parts = append(parts, b.Help().Key+" "+b.Help().Desc)
	}
	return strings.Join(parts, "  ")
}

type snapshotMsg Snapshot

// Model is the watch view.
type Model struct {
	source   SourceFunc
	interval time.Duration
	width    int
	snap     Snapshot
	spinner  spinner.Model
	loaded   bool
	quitting bool
}

// NewModel returns a watch model polling source every interval.
func NewModel(source SourceFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		source:   source,
		interval: interval,
		width:    DefaultWidth,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(Muted)),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick(), m.spinner.Tick)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetch() tea.Cmd {
	source, timeout := m.source, m.interval
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return snapshotMsg(source(ctx))
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			return m, m.fetch()
		}
		return m, nil

	case spinner.TickMsg:
		// The spinner stops once the first snapshot arrives.
		if m.loaded {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case snapshotMsg:
		m.snap = Snapshot(msg)
		m.loaded = true
		return m, nil
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(Title.Render("ptzexplore"))
	b.WriteString("\n")

	if !m.loaded {
		b.WriteString(m.spinner.View() + " " + Muted.Render("loading..."))
		b.WriteString("\n")
		return b.String()
	}

	inner := m.width - 4
	b.WriteString(Box.Render(RenderSlots(m.snap.Slots, inner)))
	b.WriteString("\n")
	b.WriteString(Box.Render(RenderProgress(m.snap.Progress, m.snap.At)))
	b.WriteString("\n")

	if m.snap.Err != nil {
		b.WriteString(Error.Render(fmt.Sprintf("error: %v", m.snap.Err)))
		b.WriteString("\n")
	}
	b.WriteString(Help.Render(fmt.Sprintf("updated %s  %s", m.snap.At.Format("15:04:05"), keys.help())))
	return b.String()
}

// Run shows the watch view until the user quits.
func Run(source SourceFunc, interval time.Duration) error {
	p := tea.NewProgram(NewModel(source, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
