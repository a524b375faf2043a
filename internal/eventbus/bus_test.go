package eventbus

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hochfrequenz/cc-boss/internal/domain"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	bus := New(8)
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	bus.PublishStatus("task-1", domain.StatusRunning)

	ev := <-ch
	if ev.Kind != KindStatus {
		t.Errorf("kind = %q, want %q", ev.Kind, KindStatus)
	}
	if ev.TaskID != "task-1" {
		t.Errorf("task id = %q, want task-1", ev.TaskID)
	}
	if ev.Content != string(domain.StatusRunning) {
		t.Errorf("content = %q, want running", ev.Content)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := New(4)
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	// Nobody is draining the channel. Publishing well past the buffer
	// depth must not block the caller.
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Kind: KindStream, Type: "text", Content: fmt.Sprintf("ev-%d", i)})
	}

	// The buffer holds the most recent events, oldest dropped.
	var got []string
	for len(ch) > 0 {
		got = append(got, (<-ch).Content)
	}
	if len(got) != 4 {
		t.Fatalf("buffered = %d, want 4", len(got))
	}
	if got[len(got)-1] != "ev-99" {
		t.Errorf("newest buffered = %q, want ev-99", got[len(got)-1])
	}
}

func TestSlowSubscriberDoesNotStarveOthers(t *testing.T) {
	bus := New(2)
	slowID, _ := bus.Subscribe()
	defer bus.Unsubscribe(slowID)
	fastID, fast := bus.Subscribe()
	defer bus.Unsubscribe(fastID)

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Kind: KindStream, Type: "text"})
		// Drain the fast subscriber as we go.
		<-fast
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(4)
	id, ch := bus.Subscribe()
	bus.Unsubscribe(id)

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count = %d, want 0", n)
	}

	// Publishing after unsubscribe must not panic.
	bus.PublishStatus("task-1", domain.StatusDone)
	// Double unsubscribe is a no-op.
	bus.Unsubscribe(id)
}

func TestPublishStreamTruncatesContent(t *testing.T) {
	bus := New(4)
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	bus.PublishStream(&domain.StreamEvent{TaskID: "t1", Type: "text", Content: string(long)})

	ev := <-ch
	if len(ev.Content) != 300 {
		t.Errorf("content length = %d, want 300", len(ev.Content))
	}
}

func TestSnapshotWithoutFunc(t *testing.T) {
	bus := New(4)
	snap := bus.Snapshot()
	if snap.Workers != nil {
		t.Errorf("workers = %v, want nil", snap.Workers)
	}
	if snap.Tasks == nil {
		t.Error("tasks map is nil")
	}
}

func TestSnapshotFunc(t *testing.T) {
	bus := New(4)
	bus.SetSnapshotFunc(func() Snapshot {
		return Snapshot{
			Workers: []domain.WorkerStatus{{WorkerID: 1, State: domain.WorkerIdle}},
			Tasks:   map[domain.TaskStatus]int{domain.StatusPending: 3},
		}
	})

	snap := bus.Snapshot()
	if len(snap.Workers) != 1 || snap.Workers[0].WorkerID != 1 {
		t.Errorf("workers = %+v", snap.Workers)
	}
	if snap.Tasks[domain.StatusPending] != 3 {
		t.Errorf("pending = %d, want 3", snap.Tasks[domain.StatusPending])
	}
}

func TestPublishStreamTruncatesOnRuneBoundary(t *testing.T) {
	bus := New(4)
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	// One ASCII byte shifts every 3-byte rune off the 300-byte cut,
	// so a naive byte cut would split a rune at the edge
	long := "x" + strings.Repeat("語", 150)
	bus.PublishStream(&domain.StreamEvent{TaskID: "t1", Type: "text", Content: long})

	ev := <-ch
	if !utf8.ValidString(ev.Content) {
		t.Errorf("streamed content is invalid UTF-8: %q", ev.Content[:12])
	}
	if len(ev.Content) > 300 {
		t.Errorf("content length = %d, want at most 300", len(ev.Content))
	}
}
