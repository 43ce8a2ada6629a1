package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/opsfleet/commandeer/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	// Color the event type based on category
	var typeStyle lipgloss.Style
	switch {
	case e.Type == events.TypeSessionOpened:
		typeStyle = theme.StatusOK
	case e.Type == events.TypeSessionClosed:
		typeStyle = theme.StatusQueued
	case e.Type == events.TypeWatchdogTimeout:
		typeStyle = theme.StatusFailed
	case e.Type == events.TypeCommandStatus:
		typeStyle = theme.StatusRunning
	case strings.HasPrefix(e.Type, "watchdog"):
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))

	desc := extractEventDesc(e)

	return fmt.Sprintf("%s %s %s", ts, typeName, desc)
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if commandID, ok := data["command_id"].(string); ok {
		if len(commandID) > 8 {
			commandID = commandID[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", commandID))
	}

	if zone, ok := data["zone"].(string); ok && zone != "" {
		target := zone
		if agent, ok := data["agent"].(string); ok && agent != "" {
			target = zone + "/" + agent
		}
		parts = append(parts, target)
	}

	if sessionID, ok := data["session_id"].(string); ok && sessionID != "" {
		if len(sessionID) > 8 {
			sessionID = sessionID[:8]
		}
		parts = append(parts, "session:"+sessionID)
	}

	if status, ok := data["status"].(string); ok {
		parts = append(parts, status)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
