package doctor

import (
	"strings"
	"testing"
	"time"

	"github.com/opsfleet/commandeer/internal/config"
)

func validConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Notify.Secret = "hunter2"
	cfg.Zones = map[string]config.ZoneConfig{
		"zone-1": {
			Agents: []config.AgentConfig{
				{Name: "agent-1", URL: "http://10.0.0.1:9000"},
				{Name: "agent-2", URL: "http://10.0.0.2:9000"},
			},
		},
	}
	return cfg
}

func hasIssue(issues []Issue, category, fieldSubstr string) bool {
	for _, i := range issues {
		if i.Category == category && strings.Contains(i.Field, fieldSubstr) {
			return true
		}
	}
	return false
}

func TestValidateCleanConfig(t *testing.T) {
	r := New(validConfig()).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %+v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %+v", r.Warnings)
	}
}

func TestValidateServiceErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Path = ""
	cfg.Service.WatchdogInterval = 0
	cfg.Service.NoAgentPolicy = "explode"

	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "service", "store.path") {
		t.Errorf("missing store.path error: %+v", r.Errors)
	}
	if !hasIssue(r.Errors, "service", "watchdog_interval") {
		t.Errorf("missing watchdog_interval error: %+v", r.Errors)
	}
	if !hasIssue(r.Errors, "service", "no_agent_policy") {
		t.Errorf("missing no_agent_policy error: %+v", r.Errors)
	}
}

func TestValidateZoneAgentURLs(t *testing.T) {
	cfg := validConfig()
	cfg.Zones["zone-1"] = config.ZoneConfig{
		Agents: []config.AgentConfig{
			{Name: "agent-1", URL: "not-a-url"},
			{Name: "agent-2", URL: "ftp://10.0.0.2"},
			{Name: "", URL: "http://10.0.0.3:9000"},
		},
	}

	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "zones", "agents[0].url") {
		t.Errorf("missing relative-url error: %+v", r.Errors)
	}
	if !hasIssue(r.Errors, "zones", "agents[1].url") {
		t.Errorf("missing scheme error: %+v", r.Errors)
	}
	if !hasIssue(r.Errors, "zones", "agents[2].name") {
		t.Errorf("missing name error: %+v", r.Errors)
	}
}

func TestValidateDuplicateAgentURLWarns(t *testing.T) {
	cfg := validConfig()
	cfg.Zones["zone-2"] = config.ZoneConfig{
		Agents: []config.AgentConfig{
			{Name: "agent-9", URL: "http://10.0.0.1:9000"}, // same as zone-1/agent-1
		},
	}

	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("duplicates are a warning, not an error: %+v", r.Errors)
	}
	if !hasIssue(r.Warnings, "zones", "url") {
		t.Errorf("missing duplicate-url warning: %+v", r.Warnings)
	}
}

func TestValidateEmptyZonesWarns(t *testing.T) {
	cfg := validConfig()
	cfg.Zones = nil

	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("no zones is a warning, not an error: %+v", r.Errors)
	}
	if !hasIssue(r.Warnings, "zones", "zones") {
		t.Errorf("missing empty-zones warning: %+v", r.Warnings)
	}
}

func TestValidateAPIAuth(t *testing.T) {
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Listen = ""

	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "api", "api.listen") {
		t.Errorf("missing listen error: %+v", r.Errors)
	}
	if !hasIssue(r.Warnings, "api", "api.auth") {
		t.Errorf("missing no-auth warning: %+v", r.Warnings)
	}
}

func TestValidateTokenScopes(t *testing.T) {
	cfg := validConfig()
	cfg.API.Enabled = true
	cfg.API.Auth.Tokens = []config.APIToken{
		{Token: "tok-1", Scopes: []string{"commands:rw", "events:ro", "*"}},
		{Token: "tok-2", Scopes: []string{"jobs:ro"}},
		{Token: "tok-3", Scopes: []string{"commands:execute"}},
		{Token: "tok-4", Scopes: []string{"admin"}},
		{Token: "", Scopes: []string{"commands:ro"}},
	}

	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "token_scopes", "tokens[1].scopes[0]") {
		t.Errorf("unknown resource should error: %+v", r.Errors)
	}
	if !hasIssue(r.Errors, "token_scopes", "tokens[2].scopes[0]") {
		t.Errorf("unknown access type should error: %+v", r.Errors)
	}
	if !hasIssue(r.Errors, "token_scopes", "tokens[3].scopes[0]") {
		t.Errorf("scope without colon should error: %+v", r.Errors)
	}
	if !hasIssue(r.Warnings, "token_scopes", "tokens[4].token") {
		t.Errorf("empty token should warn: %+v", r.Warnings)
	}
	if hasIssue(r.Errors, "token_scopes", "tokens[0]") {
		t.Errorf("valid scopes flagged: %+v", r.Errors)
	}
}

func TestValidateNotify(t *testing.T) {
	cfg := validConfig()
	cfg.Notify.Secret = ""
	cfg.Notify.Timeout = 0

	r := New(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	if !hasIssue(r.Errors, "notify", "notify.timeout") {
		t.Errorf("missing timeout error: %+v", r.Errors)
	}
	if !hasIssue(r.Warnings, "notify", "notify.secret") {
		t.Errorf("missing unsigned-delivery warning: %+v", r.Warnings)
	}
}

func TestWarnSuspiciousWatchdogInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Service.WatchdogInterval = 500 * time.Millisecond

	r := New(cfg).Validate()
	if !r.Valid {
		t.Fatalf("short interval is a warning: %+v", r.Errors)
	}
	if !hasIssue(r.Warnings, "service", "watchdog_interval") {
		t.Errorf("missing short-interval warning: %+v", r.Warnings)
	}
}

func TestFormatHuman(t *testing.T) {
	cfg := validConfig()
	out := FormatHuman(New(cfg).Validate())
	if out != "Configuration valid.\n" {
		t.Errorf("clean report = %q", out)
	}

	cfg.Store.Path = ""
	cfg.Notify.Secret = ""
	out = FormatHuman(New(cfg).Validate())
	if !strings.Contains(out, "Configuration invalid") {
		t.Errorf("report missing invalid banner: %q", out)
	}
	if !strings.Contains(out, "ERROR [service] store.path") {
		t.Errorf("report missing error line: %q", out)
	}
	if !strings.Contains(out, "WARN  [notify] notify.secret") {
		t.Errorf("report missing warning line: %q", out)
	}
}

func TestFormatJSON(t *testing.T) {
	out, err := FormatJSON(New(validConfig()).Validate())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Errorf("json report = %q", out)
	}
}
