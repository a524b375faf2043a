package eventbus

import (
	"sync"
	"unicode/utf8"

	"github.com/hochfrequenz/cc-boss/internal/domain"
)

// Kind tags the payload carried by an Event
type Kind string

const (
	KindStream   Kind = "stream"
	KindStatus   Kind = "status"
	KindProgress Kind = "progress"
)

// Event is one unit pushed to subscribers
type Event struct {
	Kind    Kind   `json:"kind"`
	TaskID  string `json:"task_id,omitempty"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Snapshot is a point-in-time summary for polling observers and reconnecting
// push clients
type Snapshot struct {
	Workers []domain.WorkerStatus     `json:"workers"`
	Tasks   map[domain.TaskStatus]int `json:"tasks"`
}

// SnapshotFunc assembles the current snapshot on demand
type SnapshotFunc func() Snapshot

// DefaultBuffer is the per-subscriber channel depth
const DefaultBuffer = 64

// Bus fans every runner event and task-state transition out to subscribers.
// Delivery is best-effort: a publisher never blocks on a slow consumer, the
// oldest buffered event is dropped instead.
type Bus struct {
	mu       sync.Mutex
	subs     map[int]chan Event
	nextID   int
	buffer   int
	snapshot SnapshotFunc
}

// New creates a Bus with the given per-subscriber buffer depth
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// SetSnapshotFunc registers the snapshot assembler
func (b *Bus) SetSnapshotFunc(fn SnapshotFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = fn
}

// Snapshot returns the current worker and task summaries
func (b *Bus) Snapshot() Snapshot {
	b.mu.Lock()
	fn := b.snapshot
	b.mu.Unlock()

	if fn == nil {
		return Snapshot{Tasks: make(map[domain.TaskStatus]int)}
	}
	return fn()
}

// Subscribe registers a new observer and returns its id and live channel.
// The channel is closed on Unsubscribe.
func (b *Bus) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes an observer and closes its channel
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// SubscriberCount returns the number of connected observers
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish delivers an event to every subscriber without blocking. If a
// subscriber's buffer is full, its oldest event is dropped to make room.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// PublishStream forwards one decoded agent event
func (b *Bus) PublishStream(ev *domain.StreamEvent) {
	content := clip(ev.Content, 300)
	b.Publish(Event{
		Kind:    KindStream,
		TaskID:  ev.TaskID,
		Type:    ev.Type,
		Content: content,
	})
}

// PublishStatus forwards one task status transition
func (b *Bus) PublishStatus(taskID string, status domain.TaskStatus) {
	b.Publish(Event{
		Kind:   KindStatus,
		TaskID: taskID,
		Type:   "status",
		Content: string(status),
	})
}

// PublishProgress signals that the progress file changed on disk
func (b *Bus) PublishProgress(path string) {
	b.Publish(Event{
		Kind:    KindProgress,
		Type:    "progress",
		Content: path,
	})
}

// clip cuts s to at most max bytes without splitting a rune
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
