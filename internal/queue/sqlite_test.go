package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nekrassov01/instancebot/internal/bus"
)

func openTestQueue(t *testing.T, visibility time.Duration) *SQLiteQueue {
	t.Helper()
	q, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"), visibility)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func testEvent(id string) bus.InboundEvent {
	return bus.InboundEvent{
		EventID:    id,
		Channel:    "C123",
		SenderID:   "U456",
		Text:       "how many instances are running?",
		ThreadTS:   "1724990000.000100",
		ReceivedAt: time.Now(),
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	q := openTestQueue(t, time.Minute)
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, testEvent("Ev1"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !ok {
		t.Error("first enqueue should report stored")
	}

	ok, err = q.Enqueue(ctx, testEvent("Ev1"))
	if err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	if ok {
		t.Error("duplicate event id should be dropped")
	}

	msgs, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Event.Text != "how many instances are running?" {
		t.Errorf("payload round trip mismatch: %q", msgs[0].Event.Text)
	}
}

func TestReceiveHidesInFlightMessages(t *testing.T) {
	q := openTestQueue(t, time.Minute)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testEvent("Ev1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := q.Receive(ctx, 1); err != nil {
		t.Fatalf("first receive: %v", err)
	}

	// In flight: a second receive inside the visibility window sees nothing.
	if _, err := q.Receive(ctx, 1); !errors.Is(err, ErrEmpty) {
		t.Fatalf("second receive = %v, want ErrEmpty", err)
	}
}

func TestMessageReappearsAfterVisibilityTimeout(t *testing.T) {
	q := openTestQueue(t, time.Minute)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testEvent("Ev1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := q.Receive(ctx, 1)
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if first[0].DeliveryAttempt != 1 {
		t.Errorf("first delivery attempt = %d, want 1", first[0].DeliveryAttempt)
	}

	// Advance the clock past the visibility window.
	q.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	second, err := q.Receive(ctx, 1)
	if err != nil {
		t.Fatalf("receive after timeout: %v", err)
	}
	if second[0].ID != first[0].ID {
		t.Errorf("different message came back: %s vs %s", second[0].ID, first[0].ID)
	}
	if second[0].DeliveryAttempt != 2 {
		t.Errorf("second delivery attempt = %d, want 2", second[0].DeliveryAttempt)
	}
}

func TestAckRemovesMessagePermanently(t *testing.T) {
	q := openTestQueue(t, time.Minute)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testEvent("Ev1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msgs, err := q.Receive(ctx, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	q.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := q.Receive(ctx, 1); !errors.Is(err, ErrEmpty) {
		t.Fatalf("receive after ack = %v, want ErrEmpty", err)
	}
}

func TestBuryMovesMessageToDeadLetters(t *testing.T) {
	q := openTestQueue(t, time.Minute)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, testEvent("Ev1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msgs, err := q.Receive(ctx, 1)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if err := q.Bury(ctx, msgs[0].ID, "agent run failed"); err != nil {
		t.Fatalf("bury: %v", err)
	}

	q.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := q.Receive(ctx, 1); !errors.Is(err, ErrEmpty) {
		t.Fatalf("buried message still receivable: %v", err)
	}

	letters, err := q.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("got %d dead letters, want 1", len(letters))
	}
	if letters[0].Reason != "agent run failed" {
		t.Errorf("reason = %q", letters[0].Reason)
	}
	if letters[0].Message.Event.EventID != "Ev1" {
		t.Errorf("event id = %q", letters[0].Message.Event.EventID)
	}
}

func TestReceiveOrdersByEnqueueTime(t *testing.T) {
	q := openTestQueue(t, time.Minute)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"Ev1", "Ev2", "Ev3"} {
		offset := time.Duration(i) * time.Second
		q.now = func() time.Time { return base.Add(offset) }
		if _, err := q.Enqueue(ctx, testEvent(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	q.now = func() time.Time { return base.Add(time.Minute) }
	msgs, err := q.Receive(ctx, 3)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"Ev1", "Ev2", "Ev3"} {
		if msgs[i].Event.EventID != want {
			t.Errorf("position %d = %s, want %s", i, msgs[i].Event.EventID, want)
		}
	}
}
