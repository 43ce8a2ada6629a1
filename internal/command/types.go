package command

import (
	"strings"
	"time"
)

// Type identifies what a command asks an agent to do.
type Type string

const (
	TypeCreateSession Type = "CREATE_SESSION"
	TypeRunShell      Type = "RUN_SHELL"
	TypeKill          Type = "KILL"
	TypeStop          Type = "STOP"
	TypeShutdown      Type = "SHUTDOWN"
	TypeDeleteSession Type = "DELETE_SESSION"
)

// KnownType reports whether t is a member of the closed command type set.
func KnownType(t Type) bool {
	switch t {
	case TypeCreateSession, TypeRunShell, TypeKill, TypeStop, TypeShutdown, TypeDeleteSession:
		return true
	}
	return false
}

// ClosesSession reports whether a terminal outcome of this command type
// tears down the session it ran in.
func (t Type) ClosesSession() bool {
	return t == TypeShutdown || t == TypeKill || t == TypeDeleteSession
}

// AgentPath identifies a worker within a zone. An empty Agent means
// "any idle agent in the zone".
type AgentPath struct {
	Zone  string `json:"zone"`
	Agent string `json:"agent,omitempty"`
}

func (p AgentPath) String() string {
	if p.Agent == "" {
		return p.Zone
	}
	return p.Zone + "/" + p.Agent
}

// ParseAgentPath parses "zone" or "zone/agent".
func ParseAgentPath(s string) AgentPath {
	zone, agent, _ := strings.Cut(s, "/")
	return AgentPath{Zone: zone, Agent: agent}
}

// Command is the unit of work tracked by the control plane.
type Command struct {
	ID              string            `json:"id"`
	Zone            string            `json:"zone"`
	Agent           string            `json:"agent,omitempty"`
	Type            Type              `json:"type"`
	Payload         string            `json:"payload,omitempty"`
	Status          Status            `json:"status"`
	SessionID       string            `json:"session_id,omitempty"`
	Inputs          map[string]string `json:"inputs,omitempty"`
	OutputEnvFilter []string          `json:"output_env_filter,omitempty"`
	Outputs         map[string]string `json:"outputs,omitempty"`
	WorkingDir      string            `json:"working_dir,omitempty"`
	LogPath         string            `json:"log_path,omitempty"`
	TimeoutSeconds  int               `json:"timeout_seconds,omitempty"`
	Webhook         string            `json:"webhook,omitempty"`
	Extra           string            `json:"extra,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Path returns the command's agent path as known so far.
func (c *Command) Path() AgentPath {
	return AgentPath{Zone: c.Zone, Agent: c.Agent}
}

// Deadline returns when the command becomes overdue, measured from its
// last status change. ok is false when no timeout is configured.
func (c *Command) Deadline() (time.Time, bool) {
	if c.TimeoutSeconds <= 0 {
		return time.Time{}, false
	}
	return c.UpdatedAt.Add(time.Duration(c.TimeoutSeconds) * time.Second), true
}

// Draft is the caller-supplied shape of a command before dispatch
// assigns identity, agent, and session.
type Draft struct {
	Zone            string            `json:"zone"`
	Agent           string            `json:"agent,omitempty"`
	Type            Type              `json:"type"`
	Payload         string            `json:"payload,omitempty"`
	SessionID       string            `json:"session_id,omitempty"`
	Inputs          map[string]string `json:"inputs,omitempty"`
	OutputEnvFilter []string          `json:"output_env_filter,omitempty"`
	WorkingDir      string            `json:"working_dir,omitempty"`
	LogPath         string            `json:"log_path,omitempty"`
	TimeoutSeconds  int               `json:"timeout_seconds,omitempty"`
	Webhook         string            `json:"webhook,omitempty"`
	Extra           string            `json:"extra,omitempty"`
}
