// Package doctor validates commandeer configuration beyond the basic
// syntax checks done at load time: zone/agent wiring, token scopes,
// and settings that are legal but probably mistakes.
package doctor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/opsfleet/commandeer/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateZones(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnNotifyConfig(r)
	d.warnSuspiciousIntervals(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Store.Path == "" {
		d.addError(r, "service", "store.path", "store.path is required")
	}
	if d.cfg.Service.WatchdogInterval <= 0 {
		d.addError(r, "service", "service.watchdog_interval", "watchdog_interval must be positive")
	}
	switch d.cfg.Service.NoAgentPolicy {
	case "fail", "queue":
	default:
		d.addError(r, "service", "service.no_agent_policy",
			fmt.Sprintf("no_agent_policy %q is invalid (expected fail or queue)", d.cfg.Service.NoAgentPolicy))
	}
}

// validateZones checks agent wiring: names, parseable URLs, and
// duplicate endpoints that would double-dispatch.
func (d *Doctor) validateZones(r *Result) {
	if len(d.cfg.Zones) == 0 {
		d.addWarning(r, "zones", "zones", "no zones configured; every submit will be rejected")
		return
	}

	seenURLs := make(map[string]string)
	for zone, zc := range d.cfg.Zones {
		if len(zc.Agents) == 0 {
			d.addWarning(r, "zones", fmt.Sprintf("zones.%s", zone),
				fmt.Sprintf("zone %q has no agents; commands targeting it cannot dispatch", zone))
			continue
		}
		for i, a := range zc.Agents {
			field := fmt.Sprintf("zones.%s.agents[%d]", zone, i)
			if a.Name == "" {
				d.addError(r, "zones", field+".name", "agent name is required")
			}
			if a.URL == "" {
				d.addError(r, "zones", field+".url", "agent url is required")
				continue
			}
			u, err := url.Parse(a.URL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				d.addError(r, "zones", field+".url",
					fmt.Sprintf("agent url %q is not an absolute URL", a.URL))
				continue
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				d.addError(r, "zones", field+".url",
					fmt.Sprintf("agent url %q has unsupported scheme %q", a.URL, u.Scheme))
			}
			if prev, dup := seenURLs[a.URL]; dup {
				d.addWarning(r, "zones", field+".url",
					fmt.Sprintf("agent url %q already used by %s", a.URL, prev))
			}
			seenURLs[a.URL] = fmt.Sprintf("%s/%s", zone, a.Name)
		}
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "api", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth.api_key",
			"api_key grants full access; prefer tokens array with scopes")
	}
}

var knownScopeResources = map[string]struct{}{
	"commands": {},
	"agents":   {},
	"events":   {},
}

// validateTokenScopes checks that every scope is one the API enforces.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			d.validateSingleScope(r, scope, field)
		}
	}
}

func (d *Doctor) validateSingleScope(r *Result, scope, field string) {
	if scope == "*" {
		return
	}

	parts := strings.SplitN(scope, ":", 2)
	if len(parts) < 2 {
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("invalid scope %q (expected format: resource:access)", scope))
		return
	}

	resource, access := parts[0], parts[1]
	if _, ok := knownScopeResources[resource]; !ok {
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("scope %q references unknown resource %q", scope, resource))
		return
	}
	if access != "ro" && access != "rw" {
		d.addError(r, "token_scopes", field,
			fmt.Sprintf("scope %q: invalid access type %q (expected ro or rw)", scope, access))
	}
}

func (d *Doctor) warnNotifyConfig(r *Result) {
	if d.cfg.Notify.Secret == "" {
		d.addWarning(r, "notify", "notify.secret",
			"no webhook secret configured; completion deliveries will be unsigned")
	}
	if d.cfg.Notify.Timeout <= 0 {
		d.addError(r, "notify", "notify.timeout", "notify.timeout must be positive")
	}
}

func (d *Doctor) warnSuspiciousIntervals(r *Result) {
	if d.cfg.Service.WatchdogInterval > 0 && d.cfg.Service.WatchdogInterval < time.Second {
		d.addWarning(r, "service", "service.watchdog_interval",
			fmt.Sprintf("watchdog_interval %s is very short (< 1s)", d.cfg.Service.WatchdogInterval))
	}
	if d.cfg.Service.WatchdogInterval > time.Minute {
		d.addWarning(r, "service", "service.watchdog_interval",
			fmt.Sprintf("watchdog_interval %s is long; timeouts will fire late", d.cfg.Service.WatchdogInterval))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
