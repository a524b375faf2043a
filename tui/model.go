package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/web/api"
)

// Client fetches dashboard data from the HTTP API
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates an API client for the dashboard
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) get(path string, out any) error {
	resp, err := c.HTTP.Get(c.BaseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string) error {
	resp, err := c.HTTP.Post(c.BaseURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}

// Tab indexes
const (
	tabTasks = iota
	tabWorkers
	tabCount
)

// Model is the TUI application model
type Model struct {
	client *Client

	tasks   []api.TaskResponse
	workers []domain.WorkerStatus
	status  api.StatusResponse

	width       int
	height      int
	activeTab   int
	selectedRow int
	fetchErr    error
	notice      string

	lastRefresh time.Time
}

// NewModel creates a dashboard model backed by the given API client
func NewModel(client *Client) Model {
	return Model{client: client}
}

// Init starts the refresh cycle
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), tickCmd())
}

// TickMsg triggers a refresh
type TickMsg time.Time

// RefreshMsg carries freshly fetched dashboard data
type RefreshMsg struct {
	Tasks   []api.TaskResponse
	Workers []domain.WorkerStatus
	Status  api.StatusResponse
	Err     error
}

// ActionMsg reports the result of an approve or reject
type ActionMsg struct {
	Notice string
	Err    error
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var msg RefreshMsg
		if err := client.get("/api/tasks", &msg.Tasks); err != nil {
			msg.Err = err
			return msg
		}
		if err := client.get("/api/workers", &msg.Workers); err != nil {
			msg.Err = err
			return msg
		}
		if err := client.get("/api/status", &msg.Status); err != nil {
			msg.Err = err
		}
		return msg
	}
}

func (m Model) actionCmd(path, notice string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		if err := client.post(path); err != nil {
			return ActionMsg{Err: err}
		}
		return ActionMsg{Notice: notice}
	}
}

// selectedTask returns the task under the cursor, or nil
func (m Model) selectedTask() *api.TaskResponse {
	if m.activeTab != tabTasks || m.selectedRow >= len(m.tasks) {
		return nil
	}
	return &m.tasks[m.selectedRow]
}
