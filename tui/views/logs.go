package views

import (
	"fmt"
	"strings"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var logLevels = []string{"ALL", "INFO", "WARN", "ERROR"}

type logsMsg struct {
	logs []db.CrawlLog
}

// Logs lists the run log kept in crawl_logs, newest first.
type Logs struct {
	db            *db.Client
	width, height int
	logs          []db.CrawlLog
	levelIndex    int
	scrollOffset  int
}

func NewLogs(dbClient *db.Client) Logs {
	return Logs{db: dbClient}
}

func (l Logs) Init() tea.Cmd {
	return l.Refresh()
}

func (l Logs) Refresh() tea.Cmd {
	return func() tea.Msg {
		level := logLevels[l.levelIndex]
		var levelPtr *string
		if level != "ALL" {
			levelPtr = &level
		}
		logs, _ := l.db.GetRecentLogs(200, levelPtr)
		return logsMsg{logs}
	}
}

func (l Logs) SetSize(w, h int) Logs {
	l.width = w
	l.height = h
	return l
}

func (l Logs) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case logsMsg:
		l.logs = msg.logs
		l.scrollOffset = 0

	case tea.KeyMsg:
		maxScroll := max(len(l.logs)-l.visibleLines(), 0)
		switch msg.String() {
		case "left", "h":
			if l.levelIndex > 0 {
				l.levelIndex--
				return l, l.Refresh()
			}
		case "right", "l":
			if l.levelIndex < len(logLevels)-1 {
				l.levelIndex++
				return l, l.Refresh()
			}
		case "up", "k":
			if l.scrollOffset > 0 {
				l.scrollOffset--
			}
		case "down", "j":
			if l.scrollOffset < maxScroll {
				l.scrollOffset++
			}
		case "g":
			l.scrollOffset = 0
		case "G":
			l.scrollOffset = maxScroll
		}
	}
	return l, nil
}

func (l Logs) visibleLines() int {
	if l.height-6 < 1 {
		return 10
	}
	return l.height - 6
}

func (l Logs) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Run Log"),
		l.renderFilter(),
		"",
		l.renderLogs(),
	)
}

func (l Logs) renderFilter() string {
	var parts []string
	for i, level := range logLevels {
		if i == l.levelIndex {
			parts = append(parts, styles.TabActive.Render("["+level+"]"))
		} else {
			parts = append(parts, styles.TabInactive.Render(level))
		}
	}
	return "Filter: " + strings.Join(parts, " ") + "  (←/→ to change)"
}

func (l Logs) renderLogs() string {
	if len(l.logs) == 0 {
		return styles.Muted.Render("No logs")
	}

	start := l.scrollOffset
	end := min(start+l.visibleLines(), len(l.logs))

	var lines []string
	for _, entry := range l.logs[start:end] {
		lines = append(lines, l.formatLog(entry))
	}

	header := styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", start+1, end, len(l.logs)))
	return header + "\n" + strings.Join(lines, "\n")
}

func (l Logs) formatLog(entry db.CrawlLog) string {
	var levelStyle lipgloss.Style
	switch entry.Level {
	case "INFO":
		levelStyle = styles.StatusSuccess
	case "WARN":
		levelStyle = styles.StatusPending
	case "ERROR":
		levelStyle = styles.StatusError
	default:
		levelStyle = styles.Muted
	}

	run := ""
	if entry.RunID != nil {
		run = fmt.Sprintf("#%d ", *entry.RunID)
	}
	source := ""
	if entry.Source != "" {
		source = "[" + entry.Source + "] "
	}

	return fmt.Sprintf("%s %s %s%s",
		styles.Muted.Render(entry.Timestamp.Format("01-02 15:04:05")),
		levelStyle.Render(fmt.Sprintf("%-5s", entry.Level)),
		styles.Muted.Render(run+source),
		truncate(entry.Message, l.width-30),
	)
}
