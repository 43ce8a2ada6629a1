package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opsfleet/commandeer/internal/command"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	configPath := filepath.Join(dir, "config.yaml")
	configYAML := `
service:
  name: test-commandeer
  watchdog_interval: 5s
store:
  path: ./data/commands.db
notify:
  secret: test-secret
zones:
  zone-1:
    agents:
      - name: agent-1
        url: http://localhost:9001
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"bogus"})
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: bogus") {
		t.Fatalf("stderr missing unknown command notice: %s", stderr)
	}
}

func TestRunCLINoArgsShowsUsage(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI(nil)
	})
	if code != 1 {
		t.Fatalf("runCLI() code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Fatalf("stdout missing usage: %s", stdout)
	}
}

func TestRunVersionPlainText(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef", "2026-01-02T03:04:05Z")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion(nil)
	})
	if code != 0 {
		t.Fatalf("runVersion() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "commandeer 1.2.3") {
		t.Fatalf("stdout missing version line: %s", stdout)
	}
	if !strings.Contains(stdout, "commit: 0123456789ab") {
		t.Fatalf("stdout missing shortened commit: %s", stdout)
	}
	if !strings.Contains(stdout, "built_at: 2026-01-02T03:04:05Z") {
		t.Fatalf("stdout missing build time: %s", stdout)
	}
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "abc123", "2026-01-02T03:04:05Z")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"--json"})
	})
	if code != 0 {
		t.Fatalf("runVersion() code = %d, stderr: %s", code, stderr)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version JSON did not parse: %v\n%s", err, stdout)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" {
		t.Fatalf("version info = %+v", info)
	}
}

func TestRunVersionRejectsPositionalArgs(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"extra"})
	})
	if code != 1 {
		t.Fatalf("runVersion() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Usage: commandeer version") {
		t.Fatalf("stderr missing usage: %s", stderr)
	}
}

func TestRunSystemNounActionHelp(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runSystemNoun([]string{"start", "--help"})
	})
	if code != 0 {
		t.Fatalf("runSystemNoun() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Usage: commandeer system start") {
		t.Fatalf("stdout missing start action help usage: %s", stdout)
	}
}

func TestRunConfigNounHelp(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"--help"})
	})
	if code != 0 {
		t.Fatalf("runConfigNoun() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Usage: commandeer config <action>") {
		t.Fatalf("stdout missing action terminology: %s", stdout)
	}
}

func TestRunConfigNounUnknownAction(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigNoun([]string{"bogus"})
	})
	if code != 1 {
		t.Fatalf("runConfigNoun() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown config action: bogus") {
		t.Fatalf("stderr missing unknown action notice: %s", stderr)
	}
}

func TestRunConfigCheckValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeTestConfig(t, tmpDir)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Configuration check PASSED") {
		t.Fatalf("stdout missing pass line: %s", stdout)
	}
	if !strings.Contains(stdout, "zones: 1, agents: 1") {
		t.Fatalf("stdout missing inventory line: %s", stdout)
	}
}

func TestRunConfigCheckInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("service:\n  no_agent_policy: explode\n"), 0644); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Configuration check FAILED") {
		t.Fatalf("stderr missing failure line: %s", stderr)
	}
}

func TestRunConfigLockThenCheck(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeTestConfig(t, tmpDir)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigLock() code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Locked") {
		t.Fatalf("stdout missing lock confirmation: %s", stdout)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".checksums")); err != nil {
		t.Fatalf("expected .checksums to be written: %v", err)
	}

	// The locked config still passes integrity verification on load.
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 0 {
		t.Fatalf("runConfigCheck() after lock code = %d, stderr: %s", code, stderr)
	}

	// Tampering after lock is caught.
	if err := os.WriteFile(configPath, []byte("service:\n  name: tampered\n"), 0644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", configPath})
	})
	if code != 1 {
		t.Fatalf("runConfigCheck() on tampered config code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "tampering") {
		t.Fatalf("stderr missing tampering notice: %s", stderr)
	}
}

// newFakeControlPlane serves just enough of the API for the client
// subcommands: bearer auth, POST /command, GET /command/{id}, GET /commands.
func newFakeControlPlane(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stored := &command.Command{
		ID:        "cmd-stored",
		Zone:      "zone-1",
		Agent:     "agent-1",
		Type:      command.TypeRunShell,
		Payload:   "make test",
		Status:    command.StatusExecuted,
		SessionID: "sess-1",
		Outputs:   map[string]string{"EXIT_CODE": "0"},
		CreatedAt: now,
		UpdatedAt: now.Add(time.Minute),
	}

	mux := http.NewServeMux()
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"missing or invalid bearer token"}`))
			return
		}

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/command":
			var draft command.Draft
			if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid JSON body"}`))
				return
			}
			if draft.Zone == "zone-missing" {
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error":"unknown zone: zone-missing"}`))
				return
			}
			accepted := command.Command{
				ID:        "cmd-accepted",
				Zone:      draft.Zone,
				Agent:     "agent-1",
				Type:      draft.Type,
				Payload:   draft.Payload,
				Status:    command.StatusSent,
				Inputs:    draft.Inputs,
				CreatedAt: now,
				UpdatedAt: now,
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(accepted)

		case r.Method == http.MethodGet && r.URL.Path == "/command/"+stored.ID:
			_ = json.NewEncoder(w).Encode(stored)

		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/command/"):
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"command not found"}`))

		case r.Method == http.MethodGet && r.URL.Path == "/commands":
			cmds := []*command.Command{stored}
			if r.URL.Query().Get("status") == "PENDING" {
				cmds = nil
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"commands": cmds,
				"count":    len(cmds),
			})

		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}
	mux.HandleFunc("/", handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCommandSubmit(t *testing.T) {
	srv := newFakeControlPlane(t, "token-1")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"command", "submit",
			"--api-url", srv.URL, "--api-key", "token-1",
			"--zone", "zone-1", "--type", "run_shell", "--payload", "make build",
			"--input", "BRANCH=main"})
	})
	if code != 0 {
		t.Fatalf("submit code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Submitted cmd-accepted") {
		t.Fatalf("stdout missing submitted id: %s", stdout)
	}
	if !strings.Contains(stdout, "status: SENT") || !strings.Contains(stdout, "target: zone-1/agent-1") {
		t.Fatalf("stdout missing summary: %s", stdout)
	}
}

func TestRunCommandSubmitRequiresType(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"command", "submit", "--api-key", "token-1"})
	})
	if code != 1 {
		t.Fatalf("submit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "--type is required") {
		t.Fatalf("stderr missing type requirement: %s", stderr)
	}
}

func TestRunCommandSubmitSurfacesAPIError(t *testing.T) {
	srv := newFakeControlPlane(t, "token-1")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"command", "submit",
			"--api-url", srv.URL, "--api-key", "token-1",
			"--zone", "zone-missing", "--type", "RUN_SHELL"})
	})
	if code != 1 {
		t.Fatalf("submit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "unknown zone: zone-missing") {
		t.Fatalf("stderr missing API error: %s", stderr)
	}
}

func TestRunCommandGet(t *testing.T) {
	srv := newFakeControlPlane(t, "token-1")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"command", "get",
			"--api-url", srv.URL, "--api-key", "token-1", "--id", "cmd-stored"})
	})
	if code != 0 {
		t.Fatalf("get code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "Command cmd-stored") {
		t.Fatalf("stdout missing command id: %s", stdout)
	}
	if !strings.Contains(stdout, "session: sess-1") {
		t.Fatalf("stdout missing session: %s", stdout)
	}
	if !strings.Contains(stdout, "output EXIT_CODE=0") {
		t.Fatalf("stdout missing outputs: %s", stdout)
	}
}

func TestRunCommandGetNotFound(t *testing.T) {
	srv := newFakeControlPlane(t, "token-1")

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"command", "get",
			"--api-url", srv.URL, "--api-key", "token-1", "--id", "cmd-nope"})
	})
	if code != 1 {
		t.Fatalf("get code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "command not found") {
		t.Fatalf("stderr missing not-found error: %s", stderr)
	}
}

func TestRunCommandGetJSON(t *testing.T) {
	srv := newFakeControlPlane(t, "token-1")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"command", "get",
			"--api-url", srv.URL, "--api-key", "token-1", "--id", "cmd-stored", "--json"})
	})
	if code != 0 {
		t.Fatalf("get code = %d, stderr: %s", code, stderr)
	}

	var cmd command.Command
	if err := json.Unmarshal([]byte(stdout), &cmd); err != nil {
		t.Fatalf("command JSON did not parse: %v\n%s", err, stdout)
	}
	if cmd.ID != "cmd-stored" || cmd.Status != command.StatusExecuted {
		t.Fatalf("command = %+v", cmd)
	}
}

func TestRunCommandList(t *testing.T) {
	srv := newFakeControlPlane(t, "token-1")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"command", "list",
			"--api-url", srv.URL, "--api-key", "token-1", "--zone", "zone-1"})
	})
	if code != 0 {
		t.Fatalf("list code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "cmd-stored") || !strings.Contains(stdout, "1 command(s)") {
		t.Fatalf("stdout missing listing: %s", stdout)
	}

	// A filter that matches nothing reports an empty listing.
	code, stdout, stderr = captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"command", "list",
			"--api-url", srv.URL, "--api-key", "token-1", "--status", "PENDING"})
	})
	if code != 0 {
		t.Fatalf("empty list code = %d, stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "No commands matched.") {
		t.Fatalf("stdout missing empty notice: %s", stdout)
	}
}

func TestRunCommandActionsRequireAPIKey(t *testing.T) {
	t.Setenv("COMMANDEER_API_KEY", "")

	for _, action := range []string{"submit", "get", "list"} {
		code, _, stderr := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{"command", action})
		})
		if code != 1 {
			t.Fatalf("%s without key code = %d, want 1", action, code)
		}
		if !strings.Contains(stderr, "API key required") {
			t.Fatalf("%s stderr missing key requirement: %s", action, stderr)
		}
	}
}

func TestKVFlag(t *testing.T) {
	f := kvFlag{}
	if err := f.Set("KEY=value"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := f.Set("EMPTY="); err != nil {
		t.Fatalf("Set() empty value error: %v", err)
	}
	if f["KEY"] != "value" || f["EMPTY"] != "" {
		t.Fatalf("kvFlag = %v", f)
	}
	if err := f.Set("no-equals"); err == nil {
		t.Error("expected error for missing =")
	}
	if err := f.Set("=value"); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestShortenCommit(t *testing.T) {
	if got := shortenCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("shortenCommit() = %q", got)
	}
	if got := shortenCommit("abc"); got != "abc" {
		t.Errorf("shortenCommit() short input = %q", got)
	}
}

func TestNormalizeBuildTimeUTC(t *testing.T) {
	got, ok := normalizeBuildTimeUTC("2026-01-02T03:04:05+02:00")
	if !ok {
		t.Fatal("expected valid RFC3339 time to normalize")
	}
	if got != "2026-01-02T01:04:05Z" {
		t.Errorf("normalizeBuildTimeUTC() = %q", got)
	}

	if _, ok := normalizeBuildTimeUTC("unknown"); ok {
		t.Error("unknown should not normalize")
	}
	if _, ok := normalizeBuildTimeUTC("not-a-time"); ok {
		t.Error("garbage should not normalize")
	}
}
