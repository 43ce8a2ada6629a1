package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/opsfleet/commandeer/internal/api"
	"github.com/opsfleet/commandeer/internal/auth"
	"github.com/opsfleet/commandeer/internal/command"
	"github.com/opsfleet/commandeer/internal/config"
	"github.com/opsfleet/commandeer/internal/dispatch"
	"github.com/opsfleet/commandeer/internal/doctor"
	"github.com/opsfleet/commandeer/internal/events"
	"github.com/opsfleet/commandeer/internal/inspect"
	"github.com/opsfleet/commandeer/internal/lock"
	"github.com/opsfleet/commandeer/internal/log"
	"github.com/opsfleet/commandeer/internal/notify"
	"github.com/opsfleet/commandeer/internal/registry"
	"github.com/opsfleet/commandeer/internal/session"
	"github.com/opsfleet/commandeer/internal/store"
	"github.com/opsfleet/commandeer/internal/transport"
	"github.com/opsfleet/commandeer/internal/tui"
	"github.com/opsfleet/commandeer/internal/tui/watch"
	"github.com/opsfleet/commandeer/internal/watchdog"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "command":
		return runCommandNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "watch":
		return runWatch(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: commandeer version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("commandeer %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`commandeer - Agent command dispatch control plane

Usage:
  commandeer <noun> <action> [flags]

Core Resources (Nouns):
  system    Control-plane lifecycle and observation
  config    System configuration and integrity
  command   Command submission, lookup, and inspection

System Commands:
  system start      Start the control plane in foreground
  system monitor    Real-time command table TUI
  system watch      Real-time dashboard TUI

Config Commands:
  config lock       Authorize current state (update integrity hashes)
  config check      Validate syntax and integrity

Command Commands:
  command submit    Submit a command to the running control plane
  command get       Fetch one command by ID
  command list      List commands with optional filters
  command inspect   Report on a stored command and its session

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'commandeer <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "monitor":
		if hasHelpFlag(actionArgs) {
			printSystemMonitorHelp()
			return 0
		}
		return runMonitor(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	case "help":
		printSystemNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "help":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runCommandNoun(args []string) int {
	if len(args) < 1 {
		printCommandNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printCommandNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "submit":
		if hasHelpFlag(actionArgs) {
			printCommandSubmitHelp()
			return 0
		}
		return runCommandSubmit(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printCommandGetHelp()
			return 0
		}
		return runCommandGet(actionArgs)
	case "list":
		if hasHelpFlag(actionArgs) {
			printCommandListHelp()
			return 0
		}
		return runCommandList(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printCommandInspectHelp()
			return 0
		}
		return runCommandInspect(actionArgs)
	case "help":
		printCommandNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: commandeer system <action>")
	fmt.Fprintln(w, "Actions: start, monitor, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: commandeer config <action> [flags]")
	fmt.Fprintln(w, "Actions: lock, check")
}

func printSystemStartHelp() {
	fmt.Println("Usage: commandeer system start [--config PATH]")
	fmt.Println("Start the control plane in the foreground.")
}

func printSystemMonitorHelp() {
	fmt.Println("Usage: commandeer system monitor [--api-url URL] [--api-key KEY]")
	fmt.Println("Launch the real-time command table TUI.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: commandeer system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time dashboard TUI.")
	fmt.Println("Shows control-plane health, agent pools, in-flight commands, and event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Control plane API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or COMMANDEER_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate zones")
}

func printCommandNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: commandeer command <action> [flags]")
	fmt.Fprintln(w, "Actions: submit, get, list, inspect")
}

func printCommandSubmitHelp() {
	fmt.Println("Usage: commandeer command submit --type TYPE [flags]")
	fmt.Println()
	fmt.Println("Submit a command to the running control plane.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL       Control plane API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY       API Bearer Token (or COMMANDEER_API_KEY env var)")
	fmt.Println("  --type TYPE         Command type (RUN_SHELL, CREATE_SESSION, ...)")
	fmt.Println("  --zone ZONE         Target zone")
	fmt.Println("  --agent NAME        Target agent (empty = any idle agent in zone)")
	fmt.Println("  --session ID        Session to join")
	fmt.Println("  --payload TEXT      Command payload (e.g. the shell line for RUN_SHELL)")
	fmt.Println("  --input KEY=VALUE   Input variable (repeatable)")
	fmt.Println("  --output-env NAME   Environment variable to capture as output (repeatable)")
	fmt.Println("  --working-dir PATH  Working directory on the agent")
	fmt.Println("  --timeout SECONDS   Overdue threshold for the watchdog (0 = none)")
	fmt.Println("  --webhook URL       Webhook notified when the command reaches a terminal status")
	fmt.Println("  --json              Output the accepted command as JSON")
}

func printCommandGetHelp() {
	fmt.Println("Usage: commandeer command get --id COMMAND_ID [--api-url URL] [--api-key KEY] [--json]")
	fmt.Println("Fetch one command from the running control plane.")
}

func printCommandListHelp() {
	fmt.Println("Usage: commandeer command list [--zone Z] [--agent A] [--type T] [--status S] [--session ID] [--json]")
	fmt.Println("List commands from the running control plane. --type and --status repeat; filters are conjunctive.")
}

func printCommandInspectHelp() {
	fmt.Println("Usage: commandeer command inspect --id COMMAND_ID [--config PATH] [--json]")
	fmt.Println("Render a stored command and the history of its session.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: commandeer config lock [--config PATH]")
	fmt.Println("Authorize current configuration state by regenerating integrity hashes.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: commandeer config check [--config PATH]")
	fmt.Println("Validate configuration syntax and integrity.")
}

// --- ACTION IMPLEMENTATIONS ---

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Control plane API URL")
	apiKey := fs.String("api-key", os.Getenv("COMMANDEER_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or COMMANDEER_API_KEY env var.")
		return 1
	}

	m := tui.NewMonitor(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Control plane API URL")
	apiKey := fs.String("api-key", os.Getenv("COMMANDEER_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or COMMANDEER_API_KEY env var.")
		return 1
	}

	m := watch.New(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// apiClient is a thin bearer-token HTTP client for the control-plane API.
type apiClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newAPIClient(baseURL, apiKey string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("unexpected response: %s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// kvFlag collects repeated KEY=VALUE flags into a map.
type kvFlag map[string]string

func (f kvFlag) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (f kvFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected KEY=VALUE, got %q", v)
	}
	f[key] = value
	return nil
}

// listFlag collects a repeated flag's values in order.
type listFlag []string

func (f *listFlag) String() string { return strings.Join(*f, ",") }

func (f *listFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func runCommandSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Control plane API URL")
	apiKey := fs.String("api-key", os.Getenv("COMMANDEER_API_KEY"), "API Bearer Token")
	zone := fs.String("zone", "", "Target zone")
	agent := fs.String("agent", "", "Target agent (empty = any idle agent in zone)")
	cmdType := fs.String("type", "", "Command type")
	payload := fs.String("payload", "", "Command payload")
	sessionID := fs.String("session", "", "Session to join")
	workingDir := fs.String("working-dir", "", "Working directory on the agent")
	timeoutSec := fs.Int("timeout", 0, "Overdue threshold in seconds (0 = none)")
	webhook := fs.String("webhook", "", "Webhook URL notified on terminal status")
	inputs := kvFlag{}
	fs.Var(inputs, "input", "Input variable as KEY=VALUE (repeatable)")
	var outputEnv listFlag
	fs.Var(&outputEnv, "output-env", "Environment variable to capture as output (repeatable)")
	jsonOut := fs.Bool("json", false, "Output the accepted command as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or COMMANDEER_API_KEY env var.")
		return 1
	}
	if *cmdType == "" {
		fmt.Fprintln(os.Stderr, "Error: --type is required.")
		printCommandSubmitHelp()
		return 1
	}

	draft := command.Draft{
		Zone:            *zone,
		Agent:           *agent,
		Type:            command.Type(strings.ToUpper(*cmdType)),
		Payload:         *payload,
		SessionID:       *sessionID,
		Inputs:          inputs,
		OutputEnvFilter: outputEnv,
		WorkingDir:      *workingDir,
		TimeoutSeconds:  *timeoutSec,
		Webhook:         *webhook,
	}

	var cmd command.Command
	if err := newAPIClient(*apiURL, *apiKey).do(http.MethodPost, "/command", draft, &cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Submit failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(cmd)
	}
	fmt.Printf("Submitted %s\n", cmd.ID)
	printCommandSummary(&cmd)
	return 0
}

func runCommandGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Control plane API URL")
	apiKey := fs.String("api-key", os.Getenv("COMMANDEER_API_KEY"), "API Bearer Token")
	commandID := fs.String("id", "", "Command ID")
	jsonOut := fs.Bool("json", false, "Output the command as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or COMMANDEER_API_KEY env var.")
		return 1
	}
	if *commandID == "" {
		fmt.Fprintln(os.Stderr, "Error: --id is required.")
		printCommandGetHelp()
		return 1
	}

	var cmd command.Command
	if err := newAPIClient(*apiURL, *apiKey).do(http.MethodGet, "/command/"+url.PathEscape(*commandID), nil, &cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Get failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(cmd)
	}
	fmt.Printf("Command %s\n", cmd.ID)
	printCommandSummary(&cmd)
	return 0
}

func runCommandList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Control plane API URL")
	apiKey := fs.String("api-key", os.Getenv("COMMANDEER_API_KEY"), "API Bearer Token")
	zone := fs.String("zone", "", "Filter by zone")
	agent := fs.String("agent", "", "Filter by agent (requires --zone)")
	sessionID := fs.String("session", "", "Filter by session")
	var types, statuses listFlag
	fs.Var(&types, "type", "Filter by command type (repeatable)")
	fs.Var(&statuses, "status", "Filter by status (repeatable)")
	jsonOut := fs.Bool("json", false, "Output the listing as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or COMMANDEER_API_KEY env var.")
		return 1
	}

	query := url.Values{}
	if *zone != "" {
		query.Set("zone", *zone)
	}
	if *agent != "" {
		query.Set("agent", *agent)
	}
	if *sessionID != "" {
		query.Set("session", *sessionID)
	}
	for _, t := range types {
		query.Add("type", t)
	}
	for _, st := range statuses {
		query.Add("status", st)
	}
	path := "/commands"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp api.CommandListResponse
	if err := newAPIClient(*apiURL, *apiKey).do(http.MethodGet, path, nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(resp)
	}
	if resp.Count == 0 {
		fmt.Println("No commands matched.")
		return 0
	}
	fmt.Printf("%-28s  %-16s  %-10s  %-20s  %s\n", "ID", "TYPE", "STATUS", "TARGET", "UPDATED")
	for _, c := range resp.Commands {
		fmt.Printf("%-28s  %-16s  %-10s  %-20s  %s\n",
			c.ID, c.Type, c.Status, c.Path(), c.UpdatedAt.UTC().Format(time.RFC3339))
	}
	fmt.Printf("%d command(s)\n", resp.Count)
	return 0
}

func printCommandSummary(cmd *command.Command) {
	fmt.Printf("  type: %s  status: %s  target: %s\n", cmd.Type, cmd.Status, cmd.Path())
	if cmd.SessionID != "" {
		fmt.Printf("  session: %s\n", cmd.SessionID)
	}
	if len(cmd.Outputs) > 0 {
		keys := make([]string, 0, len(cmd.Outputs))
		for k := range cmd.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  output %s=%s\n", k, cmd.Outputs[k])
		}
	}
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func runCommandInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	commandID := fs.String("id", "", "Command ID to inspect")
	jsonOut := fs.Bool("json", false, "Output report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *commandID == "" {
		fmt.Fprintln(os.Stderr, "Error: --id is required.")
		printCommandInspectHelp()
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	st := store.New(db)
	var out string
	if *jsonOut {
		out, err = inspect.BuildJSONReport(ctx, st, *commandID)
	} else {
		out, err = inspect.BuildReport(ctx, st, *commandID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(out)
	if *jsonOut {
		fmt.Println()
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	absPath, err := filepath.Abs(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config path: %v\n", err)
		return 1
	}
	if info, err := os.Stat(absPath); err == nil && info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	dir := filepath.Dir(absPath)
	if err := config.GenerateChecksums(dir, []string{filepath.Base(absPath)}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksums: %v\n", err)
		return 1
	}

	fmt.Printf("Locked %s (checksums written to %s)\n", absPath, filepath.Join(dir, ".checksums"))
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output validation result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration check FAILED: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render validation JSON: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		agents := 0
		for _, zc := range cfg.Zones {
			agents += len(zc.Agents)
		}

		if result.Valid {
			fmt.Println("Configuration check PASSED.")
		} else {
			fmt.Println("Configuration check FAILED.")
		}
		fmt.Printf("  service: %s\n", cfg.Service.Name)
		fmt.Printf("  zones: %d, agents: %d\n", len(cfg.Zones), agents)
		fmt.Printf("  store: %s\n", cfg.Store.Path)
		if cfg.API.Enabled {
			fmt.Printf("  api: %s (%d scoped tokens)\n", cfg.API.Listen, len(cfg.API.Auth.Tokens))
		}
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("commandeer starting", "version", version, "config", *configPath)

	pidLockPath := filepath.Join(filepath.Dir(cfg.Store.Path), "commandeer.pid")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.Store.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Store.Path)

	reg := registry.New()
	agentCount := 0
	for zone, zc := range cfg.Zones {
		for _, a := range zc.Agents {
			path := command.AgentPath{Zone: zone, Agent: a.Name}
			if err := reg.Add(path, a.URL); err != nil {
				logger.Error("failed to register agent", "path", path, "error", err)
				return 1
			}
			agentCount++
		}
	}
	logger.Info("agent registry loaded", "zones", len(cfg.Zones), "agents", agentCount)

	hub := events.NewHub(256)
	commands := store.New(db)
	sessions := session.NewManager(reg)
	sessions.SetJournal(store.NewSessionJournal(commands))
	agentTransport := transport.NewHTTP(10 * time.Second)
	notifier := notify.New(cfg.Notify.Timeout, cfg.Notify.Secret)

	policy := dispatch.PolicyFail
	if cfg.Service.NoAgentPolicy == "queue" {
		policy = dispatch.PolicyQueue
	}
	coordinator := dispatch.New(commands, sessions, reg, agentTransport, notifier, hub, policy)

	dog := watchdog.New(commands, coordinator, hub, cfg.Service.WatchdogInterval, policy == dispatch.PolicyQueue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	dog.Start(ctx)
	defer dog.Stop()

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiConfig := api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
			Tokens: tokens,
		}
		apiServer := api.New(apiConfig, coordinator, commands, reg, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("commandeer running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("commandeer stopped")
	return 0
}
