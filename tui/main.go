package main

import (
	"fmt"
	"os"
	"time"

	"tui/db"
	"tui/styles"
	"tui/views"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
)

type tab int

const (
	tabDashboard tab = iota
	tabLogs
)

type model struct {
	db            *db.Client
	activeTab     tab
	width, height int
	notification  string
	notifyUntil   time.Time

	dashboard views.Dashboard
	logs      views.Logs
}

type tickMsg time.Time
type logTickMsg time.Time

func initialModel(dbClient *db.Client, logPath string) model {
	return model{
		db:        dbClient,
		activeTab: tabDashboard,
		dashboard: views.NewDashboard(dbClient, logPath),
		logs:      views.NewLogs(dbClient),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.logs.Init(),
		tickCmd(),
		logTickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(30*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func logTickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return logTickMsg(t)
	})
}

func (m model) notify(text string) model {
	m.notification = text
	m.notifyUntil = time.Now().Add(2 * time.Second)
	return m
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
		case "L":
			m.activeTab = tabLogs
		case "tab":
			m.activeTab = (m.activeTab + 1) % 2
		case "r":
			m = m.notify("Refreshed")
			return m, m.refreshActive()
		case "s":
			if err := views.TriggerCrawl(); err != nil {
				m = m.notify("Trigger failed: " + err.Error())
			} else {
				m = m.notify("Crawl triggered!")
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.dashboard = m.dashboard.SetSize(msg.Width, msg.Height-4)
		m.logs = m.logs.SetSize(msg.Width, msg.Height-4)

	case tickMsg:
		cmds = append(cmds, m.refreshActive(), tickCmd())

	case logTickMsg:
		cmds = append(cmds, m.dashboard.RefreshLog(), logTickCmd())
	}

	// Key messages go to the active tab only, data messages to every view.
	switch msg.(type) {
	case tea.KeyMsg:
		switch m.activeTab {
		case tabDashboard:
			newDashboard, cmd := m.dashboard.Update(msg)
			m.dashboard = newDashboard.(views.Dashboard)
			cmds = append(cmds, cmd)
		case tabLogs:
			newLogs, cmd := m.logs.Update(msg)
			m.logs = newLogs.(views.Logs)
			cmds = append(cmds, cmd)
		}
	default:
		newDashboard, cmd1 := m.dashboard.Update(msg)
		m.dashboard = newDashboard.(views.Dashboard)
		cmds = append(cmds, cmd1)

		newLogs, cmd2 := m.logs.Update(msg)
		m.logs = newLogs.(views.Logs)
		cmds = append(cmds, cmd2)
	}

	return m, tea.Batch(cmds...)
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.Refresh()
	case tabLogs:
		return m.logs.Refresh()
	}
	return nil
}

func (m model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m model) renderTabs() string {
	tabNames := []string{"Dashboard", "Run Log"}
	var rendered []string
	for i, name := range tabNames {
		if tab(i) == m.activeTab {
			rendered = append(rendered, styles.TabActive.Render(name))
		} else {
			rendered = append(rendered, styles.TabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderContent() string {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.View()
	case tabLogs:
		return m.logs.View()
	}
	return ""
}

func (m model) renderStatusBar() string {
	left := "d Dash  L Run log  r Refresh  s Crawl now  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		right = styles.Notification.Render(m.notification)
	}

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 0)
	return styles.StatusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}

func main() {
	_ = godotenv.Load() // Load .env if present

	// DATABASE_URL is only set when the warehouse lives in Postgres.
	postgresURL := ""
	if os.Getenv("WAREHOUSE_DRIVER") != "sqlite" {
		postgresURL = os.Getenv("DATABASE_URL")
	}

	sqlitePath := os.Getenv("DB_PATH")
	if sqlitePath == "" {
		sqlitePath = "scraper.db"
	}

	logPath := os.Getenv("LOG_FILE")
	if logPath == "" {
		logPath = "crawler.log"
	}

	dbClient, err := db.New(postgresURL, sqlitePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	p := tea.NewProgram(
		initialModel(dbClient, logPath),
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
