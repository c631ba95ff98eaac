// Package tui renders the run status table live in the terminal.
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/san-kum/ribosim/internal/scheduler"
	"github.com/san-kum/ribosim/internal/tracelog"
)

var (
	title   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	header  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("238"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	keyHint = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Italic(true)
)

// StatusMsg carries a fresh status snapshot into the program.
type StatusMsg []scheduler.StatusRow

// DoneMsg tells the program the pool has drained.
type DoneMsg struct{}

type tickMsg time.Time

type Model struct {
	title   string
	rows    []scheduler.StatusRow
	updated time.Time
	started time.Time
	done    bool
	// quit is set when the user leaves before the run finishes.
	quit bool
}

func New(name string) Model {
	return Model{title: name, started: time.Now()}
}

// Quit reports whether the user asked to leave.
func (m Model) Quit() bool { return m.quit }

func (m Model) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quit = !m.done
			return m, tea.Quit
		}
	case StatusMsg:
		m.rows = msg
		m.updated = time.Now()
	case DoneMsg:
		m.done = true
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(title.Render(m.title))
	b.WriteString(dim.Render(fmt.Sprintf("  elapsed %s", tracelog.Clock(time.Since(m.started)))))
	b.WriteString("\n\n")
	b.WriteString(header.Render(fmt.Sprintf("%8s %10s %20s %12s %10s %13s", "SIM_ID", "START_LEN", "SIM_STATUS", "CURRENT_LEN", "TIME_USED", "SPEED (ns/d)")))
	b.WriteString("\n")
	for _, r := range m.rows {
		b.WriteString(renderRow(r))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.summary())
	b.WriteString("\n")
	if !m.updated.IsZero() {
		b.WriteString(dim.Render("updated " + humanize.Time(m.updated)))
		b.WriteString("  ")
	}
	b.WriteString(keyHint.Render("q: detach (the run continues)"))
	b.WriteString("\n")
	return b.String()
}

func renderRow(r scheduler.StatusRow) string {
	cur, used, speed := "--", "--", "--"
	if r.CurrentLength > 0 {
		cur = strconv.Itoa(r.CurrentLength)
	}
	if r.Started && r.Status != scheduler.StatusWait {
		used = tracelog.Clock(r.Elapsed)
	}
	if r.Speed > 0 {
		speed = humanize.FormatFloat("#,###.#", r.Speed)
	}
	status := fmt.Sprintf("%20s", r.Status)
	switch {
	case r.Status == scheduler.StatusDone:
		status = green.Render(status)
	case r.Status == scheduler.StatusCrashed:
		status = red.Render(status)
	case r.Status == scheduler.StatusWait:
		status = dim.Render(status)
	case r.Status == scheduler.StatusMinimizing:
		status = yellow.Render(status)
	default:
		status = cyan.Render(status)
	}
	return fmt.Sprintf("%8d %10d %s %12s %10s %13s", r.TrajID, r.StartLength, status, cur, used, speed)
}

func (m Model) summary() string {
	var done, crashed, running, waiting int
	for _, r := range m.rows {
		switch r.Status {
		case scheduler.StatusDone:
			done++
		case scheduler.StatusCrashed:
			crashed++
		case scheduler.StatusWait:
			waiting++
		default:
			running++
		}
	}
	return fmt.Sprintf("%s  %s  %s  %s",
		green.Render(fmt.Sprintf("%d done", done)),
		cyan.Render(fmt.Sprintf("%d running", running)),
		dim.Render(fmt.Sprintf("%d waiting", waiting)),
		red.Render(fmt.Sprintf("%d crashed", crashed)))
}
