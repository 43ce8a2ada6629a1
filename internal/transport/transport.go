// Package transport pushes commands to agents. The coordinator only
// sees the Transport interface; the wire details live here.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsfleet/commandeer/internal/command"
)

// ErrUnreachable means the agent could not accept the command. The
// coordinator maps this onto the REJECTED terminal status rather than
// surfacing it as an error.
var ErrUnreachable = errors.New("agent unreachable")

// Transport delivers a command to the agent at url.
type Transport interface {
	Deliver(ctx context.Context, url string, cmd *command.Command) error
}

// HTTP posts commands to each agent's registered callback endpoint.
type HTTP struct {
	client *http.Client
}

// NewHTTP builds a transport with the given per-delivery timeout.
func NewHTTP(timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{client: &http.Client{Timeout: timeout}}
}

// Deliver POSTs the command JSON to url/command. Connection failures
// and non-2xx responses both count as unreachable: either way the
// agent did not take the command.
func (t *HTTP) Deliver(ctx context.Context, url string, cmd *command.Command) error {
	if url == "" {
		return fmt.Errorf("%w: agent has no delivery endpoint", ErrUnreachable)
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command %s: %w", cmd.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/command", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: agent returned %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}
