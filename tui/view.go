package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/web/api"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	pendingStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	plannedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("237")).
		Bold(true)

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

// View renders the dashboard
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" cc-boss │ Workers: %d │ Pending: %d │ Running: %d │ Done: %d │ Failed: %d │ Cost: $%.2f ",
		m.status.Workers,
		m.status.Tasks["pending"]+m.status.Tasks["needs_fix"]+m.status.Tasks["approved"],
		m.status.Tasks["running"],
		m.status.Tasks["done"],
		m.status.Tasks["failed"],
		m.status.Metrics.TotalCostUSD)
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n\n")

	switch m.activeTab {
	case tabTasks:
		b.WriteString(m.renderTasks())
	case tabWorkers:
		b.WriteString(m.renderWorkers())
	}

	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	labels := []string{"Tasks", "Workers"}
	tabs := make([]string, len(labels))
	for i, label := range labels {
		if i == m.activeTab {
			tabs[i] = tabActiveStyle.Render(label)
		} else {
			tabs[i] = tabInactiveStyle.Render(label)
		}
	}
	return " " + strings.Join(tabs, "  ")
}

func (m Model) renderTasks() string {
	if len(m.tasks) == 0 {
		return dimmedStyle.Render("  no tasks")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Tasks"))
	b.WriteString("\n")

	visible := m.height - 10
	if visible < 5 {
		visible = 5
	}
	for i, t := range m.tasks {
		if i >= visible {
			b.WriteString(dimmedStyle.Render(fmt.Sprintf("  ... %d more", len(m.tasks)-visible)))
			b.WriteString("\n")
			break
		}

		cursor := "  "
		if i == m.selectedRow {
			cursor = "▸ "
		}
		line := fmt.Sprintf("%s%-10s p%-3d %-9s %-50s %s", cursor, shortID(t.ID), t.Priority, t.Status, t.Title, ageOf(t))
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		} else {
			line = statusStyle(t.Status).Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderWorkers() string {
	if len(m.workers) == 0 {
		return dimmedStyle.Render("  no workers")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Workers"))
	b.WriteString("\n")
	for _, w := range m.workers {
		task := w.CurrentTaskID
		if task == "" {
			task = "-"
		}
		line := fmt.Sprintf("  worker %-2d %-9s task=%s", w.WorkerID, w.State, shortID(task))
		if w.State == domain.WorkerRunning {
			line = runningStyle.Render(line)
		} else {
			line = pendingStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderStatusBar() string {
	parts := []string{"q quit", "tab switch", "j/k move", "a approve", "x reject", "r refresh"}
	bar := " " + strings.Join(parts, " │ ")
	if !m.lastRefresh.IsZero() {
		bar += fmt.Sprintf(" │ refreshed %s", humanize.Time(m.lastRefresh))
	}
	if m.fetchErr != nil {
		bar += " │ " + failedStyle.Render(m.fetchErr.Error())
	} else if m.notice != "" {
		bar += " │ " + m.notice
	}
	return statusBarStyle.Render(bar)
}

func statusStyle(status string) lipgloss.Style {
	switch domain.TaskStatus(status) {
	case domain.StatusRunning:
		return runningStyle
	case domain.StatusFailed:
		return failedStyle
	case domain.StatusPlanned, domain.StatusPlanning:
		return plannedStyle
	case domain.StatusDone:
		return dimmedStyle
	default:
		return pendingStyle
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ageOf formats a task's creation time for display
func ageOf(t api.TaskResponse) string {
	created, err := time.Parse(time.RFC3339, t.CreatedAt)
	if err != nil {
		return ""
	}
	return humanize.Time(created)
}
