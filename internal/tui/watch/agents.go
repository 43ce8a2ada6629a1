package watch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderAgents shows the registry snapshot from /agents polling,
// grouped by zone.
func renderAgents(agents []agentEntry, theme Theme, width int) string {
	innerWidth := width - 4

	if len(agents) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("AGENTS"),
			theme.Dim.Render("  No agents registered..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	byZone := make(map[string][]agentEntry)
	for _, a := range agents {
		byZone[a.Zone] = append(byZone[a.Zone], a)
	}
	zones := make([]string, 0, len(byZone))
	for z := range byZone {
		zones = append(zones, z)
	}
	sort.Strings(zones)

	var lines []string
	for _, zone := range zones {
		pool := byZone[zone]
		busy := 0
		for _, a := range pool {
			if a.Reserved {
				busy++
			}
		}

		lines = append(lines, fmt.Sprintf(" %s  %s",
			theme.Header.Render(zone),
			theme.Dim.Render(fmt.Sprintf("(%d/%d busy)", busy, len(pool))),
		))

		for _, a := range pool {
			var state string
			if a.Reserved {
				if a.SessionID != "" {
					sess := a.SessionID
					if len(sess) > 8 {
						sess = sess[:8]
					}
					state = theme.StatusRunning.Render("session " + sess)
				} else {
					state = theme.StatusRunning.Render("busy")
				}
			} else {
				state = theme.StatusOK.Render("idle")
			}
			lines = append(lines, fmt.Sprintf("    %s %s %s",
				a.Agent,
				theme.Dim.Render(a.URL),
				state,
			))
		}
	}

	agentsText := strings.Join(lines, "\n")
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("AGENTS"),
		agentsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}
