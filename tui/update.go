package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
		case "j", "down":
			if m.activeTab == tabTasks && m.selectedRow < len(m.tasks)-1 {
				m.selectedRow++
			}
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
		case "a":
			if t := m.selectedTask(); t != nil && t.Status == "planned" {
				return m, m.actionCmd("/api/tasks/"+t.ID+"/approve", "approved "+t.ID)
			}
		case "x":
			if t := m.selectedTask(); t != nil && t.Status == "planned" {
				return m, m.actionCmd("/api/tasks/"+t.ID+"/reject", "rejected "+t.ID)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.fetchCmd(), tickCmd())

	case RefreshMsg:
		m.fetchErr = msg.Err
		if msg.Err == nil {
			m.tasks = msg.Tasks
			m.workers = msg.Workers
			m.status = msg.Status
			m.lastRefresh = time.Now()
			if m.selectedRow >= len(m.tasks) && len(m.tasks) > 0 {
				m.selectedRow = len(m.tasks) - 1
			}
		}

	case ActionMsg:
		if msg.Err != nil {
			m.notice = fmt.Sprintf("error: %v", msg.Err)
		} else {
			m.notice = msg.Notice
		}
		return m, m.fetchCmd()
	}

	return m, nil
}
