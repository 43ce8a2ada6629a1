package api

import (
	"github.com/opsfleet/commandeer/internal/command"
)

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Agents        int    `json:"agents"`
}

// ReportRequest is the POST /command/{id}/report body.
type ReportRequest struct {
	Status  command.Status    `json:"status"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// CommandListResponse is the GET /commands body.
type CommandListResponse struct {
	Commands []*command.Command `json:"commands"`
	Count    int                `json:"count"`
}

// AgentInfo is one registry entry in the GET /agents body.
type AgentInfo struct {
	Zone      string `json:"zone"`
	Agent     string `json:"agent"`
	URL       string `json:"url"`
	Reserved  bool   `json:"reserved"`
	SessionID string `json:"session_id,omitempty"`
}

// AgentListResponse is the GET /agents body.
type AgentListResponse struct {
	Agents []AgentInfo `json:"agents"`
	Count  int         `json:"count"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
