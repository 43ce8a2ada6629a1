// Package inspect renders offline reports for a stored command,
// including the history of the session it ran in.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opsfleet/commandeer/internal/store"
)

// Report is the structured JSON representation of a command report.
type Report struct {
	CommandID string `json:"command_id"`
	Zone      string `json:"zone"`
	Agent     string `json:"agent,omitempty"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Steps     []Step `json:"steps,omitempty"`
}

// Step is one command in the session history, oldest first.
type Step struct {
	Hop       int               `json:"hop"`
	CommandID string            `json:"command_id"`
	Type      string            `json:"type"`
	Status    string            `json:"status"`
	Payload   string            `json:"payload,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// BuildReport renders a terminal-friendly report for a command.
func BuildReport(ctx context.Context, st *store.Store, commandID string) (string, error) {
	report, err := gatherReportData(ctx, st, commandID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Command Report\n")
	fmt.Fprintf(&out, "Command ID  : %s\n", report.CommandID)
	fmt.Fprintf(&out, "Target      : %s\n", renderTarget(report.Zone, report.Agent))
	fmt.Fprintf(&out, "Type        : %s\n", report.Type)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	if report.SessionID != "" {
		fmt.Fprintf(&out, "Session ID  : %s\n", report.SessionID)
	} else {
		fmt.Fprintf(&out, "Session ID  : <none>\n")
	}
	fmt.Fprintf(&out, "Created     : %s\n", report.CreatedAt)
	fmt.Fprintf(&out, "Updated     : %s\n", report.UpdatedAt)
	fmt.Fprintf(&out, "\n")

	if len(report.Steps) == 0 {
		fmt.Fprintf(&out, "No session history.\n")
		return out.String(), nil
	}

	fmt.Fprintf(&out, "Session history (%d command(s)):\n\n", len(report.Steps))
	for _, step := range report.Steps {
		marker := " "
		if step.CommandID == report.CommandID {
			marker = "*"
		}
		fmt.Fprintf(&out, "[%d]%s %s  %s (%s)\n", step.Hop, marker, step.CommandID, step.Type, step.Status)
		if step.Payload != "" {
			fmt.Fprintf(&out, "     payload : %s\n", step.Payload)
		}
		if len(step.Outputs) == 0 {
			fmt.Fprintf(&out, "     outputs : <none>\n")
		} else {
			fmt.Fprintf(&out, "     outputs :\n")
			keys := make([]string, 0, len(step.Outputs))
			for k := range step.Outputs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&out, "       %s=%s\n", k, step.Outputs[k])
			}
		}
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, st *store.Store, commandID string) (string, error) {
	report, err := gatherReportData(ctx, st, commandID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, st *store.Store, commandID string) (*Report, error) {
	if strings.TrimSpace(commandID) == "" {
		return nil, fmt.Errorf("command_id is required")
	}

	root, err := st.Get(ctx, commandID)
	if err != nil {
		return nil, fmt.Errorf("load command %q: %w", commandID, err)
	}

	report := &Report{
		CommandID: root.ID,
		Zone:      root.Zone,
		Agent:     root.Agent,
		Type:      string(root.Type),
		Status:    string(root.Status),
		SessionID: root.SessionID,
		CreatedAt: root.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: root.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if root.SessionID == "" {
		return report, nil
	}

	history, err := st.ListBySession(ctx, root.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session history: %w", err)
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})

	report.Steps = make([]Step, 0, len(history))
	for idx, c := range history {
		report.Steps = append(report.Steps, Step{
			Hop:       idx + 1,
			CommandID: c.ID,
			Type:      string(c.Type),
			Status:    string(c.Status),
			Payload:   c.Payload,
			Outputs:   c.Outputs,
			CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return report, nil
}

func renderTarget(zone, agent string) string {
	if agent == "" {
		return zone
	}
	return zone + "/" + agent
}
