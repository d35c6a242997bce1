// Package util provides shared utility functions used across the codebase.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// TruncateANSI truncates a string to maxWidth visual columns, adding "..." if truncated.
// ANSI escape codes and wide characters are accounted for, so styled cells
// can be truncated after rendering.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate includes the tail in the final width calculation
	return ansi.Truncate(s, maxWidth, "...")
}

// ShortIdentity shortens a lock holder identity of the form host:pid:uuid
// to at most maxWidth columns. The host and pid are kept and the uuid is
// cut first, since it only disambiguates restarts of the same process.
func ShortIdentity(id string, maxWidth int) string {
	if ansi.StringWidth(id) <= maxWidth {
		return id
	}
	i := strings.LastIndex(id, ":")
	if i <= 0 {
		return TruncateANSI(id, maxWidth)
	}
	head := id[:i+1]
	if room := maxWidth - ansi.StringWidth(head); room > 3 {
		return head + ansi.Truncate(id[i+1:], room, "...")
	}
	return TruncateANSI(head[:len(head)-1], maxWidth)
}
