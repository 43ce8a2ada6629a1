// Package tui holds the terminal frontends: the plain monitor (a
// scrollable command table plus event stream) and the richer watch
// dashboard under tui/watch.
package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/opsfleet/commandeer/internal/events"
)

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// --- Types ---

// CommandRow is one tracked command in the monitor table.
type CommandRow struct {
	ID        string
	Zone      string
	Agent     string
	Type      string
	Status    string
	StartTime time.Time
	EndTime   time.Time
}

type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	commands map[string]*CommandRow
	order    []string // insertion order, newest last
	eventLog []events.Event

	hubEvents chan events.Event

	health struct {
		Status        string
		UptimeSeconds int64
	}

	cmdTable table.Model

	lastTick time.Time
	mu       sync.Mutex
}

type eventMsg events.Event
type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
type errMsg error

// --- Init ---

func NewMonitor(apiURL, apiKey string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Zone/Agent", Width: 24},
			{Title: "Type", Width: 16},
			{Title: "ID", Width: 10},
			{Title: "Duration", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		commands:  make(map[string]*CommandRow),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		cmdTable:  t,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribeToEvents(),
		m.pollHealth(),
		tea.EnterAltScreen,
	)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.cmdTable.SetWidth(m.width - 6)

	case eventMsg:
		m.handleEvent(events.Event(msg))
		m.updateTable()
		return m, m.receiveNextEvent()

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return m.fetchHealth()
		})

	case errMsg:
		// Shown indirectly: the header flips to DEGRADED once health
		// polling stops succeeding.
	}

	m.cmdTable, cmd = m.cmdTable.Update(msg)
	return m, cmd
}

func (m *Model) handleEvent(e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > 50 {
		m.eventLog = m.eventLog[:50]
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	switch e.Type {
	case events.TypeCommandSubmitted:
		commandID, _ := data["command_id"].(string)
		if commandID == "" {
			return
		}
		row, ok := m.commands[commandID]
		if !ok {
			row = &CommandRow{ID: commandID, StartTime: time.Now()}
			m.commands[commandID] = row
			m.order = append(m.order, commandID)
		}

		if zone, ok := data["zone"].(string); ok {
			row.Zone = zone
		}
		if agent, ok := data["agent"].(string); ok {
			row.Agent = agent
		}
		if typ, ok := data["type"].(string); ok {
			row.Type = typ
		}
		if row.Status == "" {
			row.Status = "PENDING"
		}

	case events.TypeCommandStatus:
		commandID, _ := data["command_id"].(string)
		row, ok := m.commands[commandID]
		if !ok {
			return
		}
		if status, ok := data["status"].(string); ok {
			row.Status = status
			if isTerminal(status) {
				row.EndTime = time.Now()
			}
		}

	case events.TypeWatchdogTick:
		m.lastTick = time.Now()
	}
}

func isTerminal(status string) bool {
	switch status {
	case "EXECUTED", "EXCEPTION", "KILLED", "STOPPED", "REJECTED", "TIMEOUT":
		return true
	}
	return false
}

func (m *Model) updateTable() {
	var rows []table.Row

	// Newest first.
	for i := len(m.order) - 1; i >= 0; i-- {
		row := m.commands[m.order[i]]
		rows = append(rows, m.rowFor(row))
	}

	m.cmdTable.SetRows(rows)
}

func (m *Model) rowFor(row *CommandRow) table.Row {
	statusSym := "○"
	switch row.Status {
	case "PENDING":
		statusSym = statusQueued.Render("○")
	case "SENT":
		statusSym = statusRunning.Render("◎")
	case "RUNNING":
		statusSym = statusRunning.Render("◉")
	case "EXECUTED":
		statusSym = statusOK.Render("●")
	case "EXCEPTION", "REJECTED":
		statusSym = statusFailed.Render("∅")
	case "TIMEOUT":
		statusSym = statusFailed.Render("◑")
	case "KILLED", "STOPPED":
		statusSym = statusFailed.Render("◔")
	}

	duration := "-"
	if !row.StartTime.IsZero() {
		end := row.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		duration = end.Sub(row.StartTime).Round(time.Second).String()
	}

	target := row.Zone
	if row.Agent != "" {
		target = row.Zone + "/" + row.Agent
	}

	id := row.ID
	if len(id) > 8 {
		id = id[:8]
	}

	return table.Row{
		statusSym,
		target,
		row.Type,
		id,
		duration,
	}
}

// --- View ---

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	header := m.renderHeader()
	activeCommands := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Commands"),
			m.cmdTable.View(),
		),
	)

	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.renderEvents(),
		),
	)

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(" [q] Quit • [↑/↓] Scroll Commands")

	return docStyle.Render(
		lipgloss.JoinVertical(
			lipgloss.Left,
			header,
			activeCommands,
			eventsView,
			help,
		),
	)
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	if m.health.Status != "ok" && m.health.Status != "" {
		status = statusFailed.Render("DEGRADED")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second

	lastTick := "never"
	if !m.lastTick.IsZero() {
		lastTick = time.Since(m.lastTick).Round(time.Second).String() + " ago"
	}

	items := []string{
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Uptime: %s", uptime.String()),
		fmt.Sprintf("Watchdog: %s", lastTick),
	}

	return borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.NewStyle().Width((m.width-4)/3).Render(items[0]),
			lipgloss.NewStyle().Width((m.width-4)/3).Render(items[1]),
			lipgloss.NewStyle().Width((m.width-4)/3).Render(items[2]),
		),
	)
}

func (m Model) renderEvents() string {
	var lines []string
	for i, e := range m.eventLog {
		if i >= 10 {
			break
		}
		ts := e.At.Format("15:04:05")
		lines = append(lines, fmt.Sprintf("%s | %-18s | %s", ts, e.Type, string(e.Data)))
	}
	if len(lines) == 0 {
		return "  No events yet..."
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

// --- Commands ---

func (m Model) subscribeToEvents() tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{}
		req, _ := http.NewRequest("GET", m.apiURL+"/events", nil)
		req.Header.Set("Authorization", "Bearer "+m.apiKey)

		resp, err := client.Do(req)
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var current struct {
			id   int64
			typ  string
			data string
		}
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if current.data != "" {
					m.hubEvents <- events.Event{
						ID:   current.id,
						Type: current.typ,
						At:   time.Now(),
						Data: []byte(current.data),
					}
					current.data, current.typ = "", ""
				}
				continue
			}
			if strings.HasPrefix(line, "event: ") {
				current.typ = line[7:]
			} else if strings.HasPrefix(line, "data: ") {
				current.data = line[6:]
			}
		}
		return nil
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-m.hubEvents)
	}
}

func (m Model) pollHealth() tea.Cmd {
	return func() tea.Msg {
		return m.fetchHealth()
	}
}

func (m Model) fetchHealth() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, _ := http.NewRequest("GET", m.apiURL+"/healthz", nil)
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
