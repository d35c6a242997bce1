package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/ptzexplore/internal/locker"
	"github.com/Iron-Ham/ptzexplore/internal/progress"
	"github.com/Iron-Ham/ptzexplore/internal/util"
)

// Column widths. The holder column takes whatever is left.
const (
	slotWidth      = 6
	stateWidth     = 6
	remainingWidth = 10
	agentWidth     = 20
	countWidth     = 8
	minHolderWidth = 16
)

func cell(s string, width int) string {
	return lipgloss.NewStyle().Width(width).MaxWidth(width).Render(util.TruncateANSI(s, width-1))
}

func row(cells ...string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

// RenderSlots renders one line per lock slot within width columns.
func RenderSlots(slots []locker.SlotStatus, width int) string {
	holderWidth := width - slotWidth - stateWidth - remainingWidth
	if holderWidth < minHolderWidth {
		holderWidth = minHolderWidth
	}

	lines := []string{Header.Render(row(
		cell("SLOT", slotWidth),
		cell("STATE", stateWidth),
		cell("EXPIRES", remainingWidth),
		cell("HOLDER", holderWidth),
	))}
	if len(slots) == 0 {
		lines = append(lines, Muted.Render("no slots"))
	}
	for _, s := range slots {
		state, holder, remaining := Free.Render("free"), "", ""
		if s.Held {
			state = Held.Render("held")
			holder = util.ShortIdentity(string(s.Holder), holderWidth-1)
			remaining = FormatDuration(s.Remaining)
		}
		lines = append(lines, row(
			cell(fmt.Sprintf("%d", s.Slot), slotWidth),
			cell(state, stateWidth),
			cell(remaining, remainingWidth),
			cell(holder, holderWidth),
		))
	}
	return strings.Join(lines, "\n")
}

// RenderProgress renders one line per agent with the time since its last
// run relative to now.
func RenderProgress(rows []progress.Row, now time.Time) string {
	lines := []string{Header.Render(row(
		cell("AGENT", agentWidth),
		cell("RUNS", countWidth),
		cell("IMAGES", countWidth),
		cell("LAST RUN", remainingWidth+4),
	))}
	if len(rows) == 0 {
		lines = append(lines, Muted.Render("no runs recorded"))
	}
	var runs, images int
	for _, r := range rows {
		runs += r.Runs
		images += r.Images
		lines = append(lines, row(
			cell(r.Agent, agentWidth),
			cell(fmt.Sprintf("%d", r.Runs), countWidth),
			cell(fmt.Sprintf("%d", r.Images), countWidth),
			cell(FormatAge(now, r.LastRunAt), remainingWidth+4),
		))
	}
	if len(rows) > 1 {
		lines = append(lines, Muted.Render(row(
			cell("total", agentWidth),
			cell(fmt.Sprintf("%d", runs), countWidth),
			cell(fmt.Sprintf("%d", images), countWidth),
		)))
	}
	return strings.Join(lines, "\n")
}

// FormatDuration renders d at second precision, e.g. "29m58s".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

// FormatAge renders how long ago t was, e.g. "5m ago".
func FormatAge(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
