package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks control-plane health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	AgentCount    int
	Connected     bool
	LastCheck     time.Time
}

// summary maps the raw health fields onto a badge for the stats line.
func (h HealthState) summary(theme Theme) (icon, label string) {
	switch {
	case !h.Connected:
		return "🔌", theme.StatusFailed.Render("CONNECTING")
	case h.Status != "ok" && h.Status != "":
		return "⚠️", theme.StatusFailed.Render("DEGRADED")
	default:
		return "✅", theme.StatusOK.Render("HEALTHY")
	}
}

func renderHeader(health HealthState, ticker Ticker, spinner Spinner, theme Theme, width int) string {
	innerWidth := width - 4

	title := fmt.Sprintf(" COMMANDEER WATCH %s", theme.Highlight.Render(ticker.Current()))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))

	// Title left, wall clock right.
	gap := innerWidth - lipgloss.Width(title) - lipgloss.Width(clock) - 4
	if gap < 1 {
		gap = 1
	}
	titleLine := title + strings.Repeat(" ", gap) + clock + " "

	icon, label := health.summary(theme)
	statsLine := fmt.Sprintf(" %s %s  ⏱ %s  Agents: %d",
		icon, label,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.AgentCount)

	lastEvent := "never"
	if at := spinner.LastEvent(); !at.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(at).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, spinner.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	s := int(d.Seconds())
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %dm", s/3600, s%3600/60)
	}
}
