package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/opsfleet/commandeer/internal/events"
)

// ZoneState tracks per-zone command activity discovered from events.
type ZoneState struct {
	Name           string
	ActiveCommands map[string]*CommandState
	LastStatus     string // last terminal command status
	LastDone       time.Time
}

// CommandState tracks an individual command.
type CommandState struct {
	ID        string
	Zone      string
	Agent     string
	Type      string
	SessionID string
	Status    string
	StartTime time.Time
	EndTime   time.Time
}

var terminalStatuses = map[string]bool{
	"EXECUTED":  true,
	"EXCEPTION": true,
	"KILLED":    true,
	"STOPPED":   true,
	"REJECTED":  true,
	"TIMEOUT":   true,
}

// updateZoneState processes an event and updates zone/command tracking.
func updateZoneState(zones map[string]*ZoneState, commands map[string]*CommandState, e events.Event) {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	commandID, _ := data["command_id"].(string)
	if commandID == "" {
		return
	}

	switch e.Type {
	case events.TypeCommandSubmitted:
		cmd, ok := commands[commandID]
		if !ok {
			cmd = &CommandState{ID: commandID, StartTime: time.Now()}
			commands[commandID] = cmd
		}

		if zone, ok := data["zone"].(string); ok {
			cmd.Zone = zone
		}
		if agent, ok := data["agent"].(string); ok {
			cmd.Agent = agent
		}
		if typ, ok := data["type"].(string); ok {
			cmd.Type = typ
		}
		if sessionID, ok := data["session_id"].(string); ok {
			cmd.SessionID = sessionID
		}
		if cmd.Status == "" {
			cmd.Status = "PENDING"
		}

		if cmd.Zone != "" {
			z := getOrCreateZone(zones, cmd.Zone)
			z.ActiveCommands[commandID] = cmd
		}

	case events.TypeCommandStatus, events.TypeWatchdogTimeout:
		cmd, ok := commands[commandID]
		if !ok {
			cmd = &CommandState{ID: commandID, StartTime: time.Now()}
			if zone, ok := data["zone"].(string); ok {
				cmd.Zone = zone
			}
			if agent, ok := data["agent"].(string); ok {
				cmd.Agent = agent
			}
			commands[commandID] = cmd
			if cmd.Zone != "" {
				getOrCreateZone(zones, cmd.Zone).ActiveCommands[commandID] = cmd
			}
		}

		status, _ := data["status"].(string)
		if e.Type == events.TypeWatchdogTimeout {
			status = "TIMEOUT"
		}
		if status == "" {
			return
		}
		cmd.Status = status

		if terminalStatuses[status] {
			cmd.EndTime = time.Now()
			if z, ok := zones[cmd.Zone]; ok {
				delete(z.ActiveCommands, commandID)
				z.LastStatus = status
				z.LastDone = time.Now()
			}
			delete(commands, commandID)
		}
	}
}

func getOrCreateZone(zones map[string]*ZoneState, name string) *ZoneState {
	z, ok := zones[name]
	if !ok {
		z = &ZoneState{
			Name:           name,
			ActiveCommands: make(map[string]*CommandState),
		}
		zones[name] = z
	}
	return z
}

// sortedZoneNames returns zone names in stable sorted order.
func sortedZoneNames(zones map[string]*ZoneState) []string {
	names := make([]string, 0, len(zones))
	for name := range zones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderZones(zones map[string]*ZoneState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(zones) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("COMMANDS"),
			theme.Dim.Render("  No command activity yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	names := sortedZoneNames(zones)

	var lines []string
	for i, name := range names {
		z := zones[name]
		lines = append(lines, renderZoneRow(i+1, z, i == selected, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("COMMANDS")}, lines...)...,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func renderZoneRow(num int, z *ZoneState, isSelected bool, theme Theme) string {
	activeCount := len(z.ActiveCommands)

	var statusStr string
	if activeCount > 0 {
		statusStr = theme.StatusRunning.Render(fmt.Sprintf("[%d active]", activeCount))
	} else {
		statusStr = theme.Dim.Render("[idle]")
	}

	var lastDoneStr string
	if !z.LastDone.IsZero() {
		ago := time.Since(z.LastDone).Round(time.Second)
		icon := statusIcon(z.LastStatus, theme)
		lastDoneStr = fmt.Sprintf("Last: %s %s", formatAgo(ago), icon)
	}

	nameStyle := lipgloss.NewStyle()
	if isSelected {
		nameStyle = nameStyle.Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	}

	var line strings.Builder
	line.WriteString(fmt.Sprintf(" %d. %s  %s  %s",
		num,
		nameStyle.Render(fmt.Sprintf("%-24s", z.Name)),
		statusStr,
		lastDoneStr,
	))

	// Show active commands underneath, stable by ID.
	if activeCount > 0 {
		ids := make([]string, 0, activeCount)
		for id := range z.ActiveCommands {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			cmd := z.ActiveCommands[id]
			duration := "-"
			if !cmd.StartTime.IsZero() {
				duration = time.Since(cmd.StartTime).Round(time.Second).String()
			}

			shortID := cmd.ID
			if len(shortID) > 8 {
				shortID = shortID[:8]
			}

			target := cmd.Agent
			if target == "" {
				target = "?"
			}
			desc := cmd.Type
			if cmd.SessionID != "" {
				sess := cmd.SessionID
				if len(sess) > 8 {
					sess = sess[:8]
				}
				desc += " @" + sess
			}

			cmdLine := fmt.Sprintf("    └─ %s %s → %s %s %s",
				theme.Highlight.Render(shortID),
				desc,
				target,
				renderStatus(cmd.Status, theme),
				theme.Dim.Render(duration),
			)
			line.WriteString("\n" + cmdLine)
		}
	}

	return line.String()
}

func renderStatus(status string, theme Theme) string {
	switch status {
	case "EXECUTED":
		return theme.StatusOK.Render(status)
	case "RUNNING", "SENT":
		return theme.StatusRunning.Render(status)
	case "EXCEPTION", "REJECTED", "TIMEOUT", "KILLED":
		return theme.StatusFailed.Render(status)
	case "PENDING":
		return theme.StatusQueued.Render(status)
	default:
		return theme.Dim.Render(status)
	}
}

func statusIcon(status string, theme Theme) string {
	switch status {
	case "EXECUTED":
		return theme.StatusOK.Render("✅")
	case "EXCEPTION", "REJECTED", "KILLED":
		return theme.StatusFailed.Render("❌")
	case "TIMEOUT":
		return theme.StatusFailed.Render("⏱")
	case "STOPPED":
		return theme.Dim.Render("■")
	default:
		return ""
	}
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
