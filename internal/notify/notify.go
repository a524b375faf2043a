package notify

import (
	"fmt"

	"github.com/hochfrequenz/cc-boss/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	TaskID  string // Optional task reference
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// TaskFailed builds the notification for a task that exhausted its retries
func TaskFailed(task *domain.Task, errSummary string) Notification {
	return Notification{
		Title:   fmt.Sprintf("Task failed: %s", task.Title()),
		Message: errSummary,
		Type:    NotifyError,
		TaskID:  task.ID,
	}
}

// PlanReady builds the notification for a plan awaiting operator review
func PlanReady(task *domain.Task) Notification {
	return Notification{
		Title:   fmt.Sprintf("Plan ready for review: %s", task.Title()),
		Message: task.Plan,
		Type:    NotifyInfo,
		TaskID:  task.ID,
	}
}
