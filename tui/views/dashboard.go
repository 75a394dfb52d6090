package views

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServiceName is the systemd unit the crawler daemon runs as.
const ServiceName = "vinted_scrooper"

type dashboardDataMsg struct {
	counts db.WarehouseCounts
	runs   []db.CrawlRun
	err    error
}

type logTailMsg struct {
	lines        []string
	modTime      time.Time
	daemonActive bool
}

type Dashboard struct {
	db            *db.Client
	width, height int
	counts        db.WarehouseCounts
	runs          []db.CrawlRun
	err           error
	logLines      []string
	logPath       string
	logScroll     int       // scroll offset (0 = bottom/newest)
	logViewport   int       // visible lines
	logBuffer     int       // total lines to keep
	logModTime    time.Time // last modification time of log file
	daemonActive  bool      // whether systemd service is active
}

func NewDashboard(dbClient *db.Client, logPath string) Dashboard {
	if logPath == "" {
		logPath = "crawler.log"
	}
	return Dashboard{
		db:          dbClient,
		logPath:     logPath,
		logViewport: 20,
		logBuffer:   200,
	}
}

func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(d.Refresh(), d.RefreshLog())
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		counts, err := d.db.GetWarehouseCounts()
		runs, runErr := d.db.GetRecentRuns(10)
		if err == nil {
			err = runErr
		}
		return dashboardDataMsg{counts, runs, err}
	}
}

func (d Dashboard) RefreshLog() tea.Cmd {
	return func() tea.Msg {
		lines, modTime := readLastLines(d.logPath, d.logBuffer)
		return logTailMsg{lines, modTime, IsDaemonActive()}
	}
}

// IsDaemonActive asks systemd whether the crawler service is running.
func IsDaemonActive() bool {
	out, err := exec.Command("systemctl", "is-active", ServiceName).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

// TriggerCrawl asks a running daemon to start a crawl now.
func TriggerCrawl() error {
	return exec.Command("systemctl", "kill", "--signal=SIGUSR1", ServiceName).Run()
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	modTime := info.ModTime()

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var allLines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}

	if len(allLines) == 0 {
		return []string{"(empty log)"}, modTime
	}

	start := len(allLines) - n
	if start < 0 {
		start = 0
	}
	return allLines[start:], modTime
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	return d
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.counts = msg.counts
		d.runs = msg.runs
		d.err = msg.err
	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
		d.daemonActive = msg.daemonActive
	case tea.KeyMsg:
		maxScroll := len(d.logLines) - d.logViewport
		if maxScroll < 0 {
			maxScroll = 0
		}
		switch msg.String() {
		case "up", "k":
			d.logScroll = min(d.logScroll+1, maxScroll)
		case "down", "j":
			d.logScroll = max(d.logScroll-1, 0)
		case "pgup":
			d.logScroll = min(d.logScroll+10, maxScroll)
		case "pgdown":
			d.logScroll = max(d.logScroll-10, 0)
		case "home":
			d.logScroll = maxScroll
		case "end":
			d.logScroll = 0
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	parts := []string{
		styles.Title.Render("Dashboard") + styles.Muted.Render("warehouse: "+d.db.Warehouse()),
		d.renderStatCards(),
		"",
		d.renderLastRun(),
		"",
		styles.Title.Render("Recent Runs"),
		d.renderRunsTable(),
		"",
		d.renderLogTail(),
	}
	if d.err != nil {
		parts = append([]string{styles.StatusError.Render("DB error: " + d.err.Error())}, parts...)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (d Dashboard) renderStatCards() string {
	cards := []string{
		renderStatCard("Catalogs", fmt.Sprintf("%d", d.counts.Catalogs)),
		renderStatCard("Items", fmt.Sprintf("%d", d.counts.Items)),
		renderStatCard("Images", fmt.Sprintf("%d", d.counts.Images)),
		renderStatCard("Likes", fmt.Sprintf("%d", d.counts.Likes)),
		renderStatCard("Staged", fmt.Sprintf("%d/%d", d.counts.StagedItems, d.counts.StagedImages)),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func renderStatCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.StatValue.Render(value),
		styles.StatLabel.Render(label),
	)
	return styles.CardBorder.Width(16).Render(content)
}

func (d Dashboard) renderLastRun() string {
	if len(d.runs) == 0 {
		return styles.Muted.Render("No crawl has run yet")
	}
	r := d.runs[0]

	status, statusStyle := statusLabel(r.Status)
	took := "-"
	if r.FinishedAt != nil {
		took = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		styles.StatValue.Render(fmt.Sprintf("Run #%d (%s)", r.ID, r.Gender())),
		statusStyle.Render(status),
		styles.StatLabel.Render(fmt.Sprintf("Started: %s", relativeTime(r.StartedAt))),
		styles.StatLabel.Render(fmt.Sprintf("Took: %s", took)),
		styles.StatLabel.Render(fmt.Sprintf("Filter: %s  Vintage: %v", filterLabel(r.FilterBy), r.OnlyVintage)),
		styles.StatLabel.Render(fmt.Sprintf("Rate: %.0f%%", r.SuccessRate()*100)),
	)
	return styles.RunCardBorder.Width(36).Render(content)
}

func (d Dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return styles.Muted.Render("No runs yet")
	}

	header := fmt.Sprintf("%-5s %-6s %-10s %-9s %8s %8s %6s %8s %8s",
		"ID", "Gender", "Status", "Started", "Catalogs", "Seen", "Rate", "Uploaded", "New")
	rows := styles.TableHeader.Render(header) + "\n"

	for _, r := range d.runs {
		status, statusStyle := statusLabel(r.Status)
		row := fmt.Sprintf("%-5d %-6s %s %-9s %8d %8d %5.0f%% %8d %8d",
			r.ID,
			r.Gender(),
			statusStyle.Render(fmt.Sprintf("%-10s", truncate(status, 10))),
			r.StartedAt.Format("15:04:05"),
			r.Catalogs,
			r.Seen,
			r.SuccessRate()*100,
			r.Uploaded,
			r.Committed,
		)
		rows += row + "\n"
	}
	return rows
}

func (d Dashboard) renderLogTail() string {
	if len(d.logLines) == 0 {
		content := styles.Muted.Render("(waiting for logs...)")
		return styles.LogBox.Width(max(d.width-4, 20)).Render(content)
	}

	// Calculate visible window (from end, with scroll offset)
	total := len(d.logLines)
	endIdx := total - d.logScroll
	startIdx := max(endIdx-d.logViewport, 0)
	if endIdx > total {
		endIdx = total
	}

	maxLineWidth := d.width - 8
	var lines []string
	for _, line := range d.logLines[startIdx:endIdx] {
		lines = append(lines, styleLogLine(line, maxLineWidth))
	}

	var scrollInfo string
	switch {
	case !d.daemonActive:
		scrollInfo = styles.StatusError.Render(" ● STOPPED ")
	case d.logScroll > 0:
		scrollInfo = styles.StatusPending.Render(fmt.Sprintf(" ↑%d ", d.logScroll))
	default:
		scrollInfo = styles.StatusSuccess.Render(" ● LIVE ")
	}

	header := styles.Title.Render("Live Log") + scrollInfo +
		styles.Muted.Render(fmt.Sprintf("[%d-%d/%d]", startIdx+1, endIdx, total))

	return styles.LogBox.Width(max(d.width-4, 20)).Render(header + "\n" + strings.Join(lines, "\n"))
}

// styleLogLine colours a stdlib log line ("2006/01/02 15:04:05 file.go:12: msg").
func styleLogLine(line string, maxWidth int) string {
	line = truncate(line, maxWidth)

	if len(line) > 19 && line[4] == '/' {
		return styles.LogTimestamp.Render(line[:19]) + levelStyle(line[19:]).Render(line[19:])
	}
	return levelStyle(line).Render(line)
}

func levelStyle(s string) lipgloss.Style {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return styles.StatusError
	case strings.Contains(lower, "warn") || strings.Contains(lower, "throttl"):
		return styles.StatusPending
	}
	return styles.LogInfo
}

func statusLabel(status string) (string, lipgloss.Style) {
	switch status {
	case "completed":
		return "✓ completed", styles.StatusSuccess
	case "failed":
		return "✗ failed", styles.StatusError
	case "cancelled":
		return "✗ cancelled", styles.StatusPending
	case "running":
		return "◐ running", styles.StatusPending
	}
	return status, styles.Muted
}

func filterLabel(key string) string {
	if key == "" {
		return "none"
	}
	return key
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}
