// Package notify delivers one-shot webhook notifications when a
// command reaches a terminal status. Best effort: failures are logged
// and never retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsfleet/commandeer/internal/command"
	"github.com/opsfleet/commandeer/internal/log"
)

// Notifier posts terminal command state to the command's webhook URL.
type Notifier struct {
	client *http.Client
	secret string
	logger *slog.Logger
}

// New builds a Notifier. secret, when non-empty, enables HMAC-SHA256
// payload signing so receivers can verify origin.
func New(timeout time.Duration, secret string) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		secret: secret,
		logger: log.WithComponent("notify"),
	}
}

// payload is the wire shape delivered to webhook receivers.
type payload struct {
	ID        string            `json:"id"`
	Zone      string            `json:"zone"`
	Agent     string            `json:"agent,omitempty"`
	Type      command.Type      `json:"type"`
	Status    command.Status    `json:"status"`
	SessionID string            `json:"session_id,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty"`
	Extra     string            `json:"extra,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Notify delivers cmd's final state to its webhook. No-op without a
// webhook URL. The error return is informational; callers must not
// retry on it.
func (n *Notifier) Notify(ctx context.Context, cmd *command.Command) error {
	if cmd.Webhook == "" {
		return nil
	}

	body, err := json.Marshal(payload{
		ID:        cmd.ID,
		Zone:      cmd.Zone,
		Agent:     cmd.Agent,
		Type:      cmd.Type,
		Status:    cmd.Status,
		SessionID: cmd.SessionID,
		Outputs:   cmd.Outputs,
		Extra:     cmd.Extra,
		UpdatedAt: cmd.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cmd.Webhook, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("webhook request build failed", "command_id", cmd.ID, "error", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set("X-Commandeer-Signature", signPayload(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "command_id", cmd.ID, "webhook", cmd.Webhook, "error", err)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Warn("webhook delivery rejected", "command_id", cmd.ID, "webhook", cmd.Webhook, "status", resp.StatusCode)
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}

	n.logger.Debug("webhook delivered", "command_id", cmd.ID, "status", cmd.Status)
	return nil
}
