package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nekrassov01/instancebot/internal/agent"
	"github.com/nekrassov01/instancebot/internal/bus"
	"github.com/nekrassov01/instancebot/internal/queue"
)

// memQueue is a minimal in-memory queue for driving the consumer.
type memQueue struct {
	mu      sync.Mutex
	pending []bus.QueuedMessage
	acked   []string
	buried  map[string]string
}

func newMemQueue(msgs ...bus.QueuedMessage) *memQueue {
	return &memQueue{pending: msgs, buried: make(map[string]string)}
}

func (q *memQueue) Enqueue(ctx context.Context, event bus.InboundEvent) (bool, error) {
	return true, nil
}

func (q *memQueue) Receive(ctx context.Context, max int) ([]bus.QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, queue.ErrEmpty
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	msg.DeliveryAttempt++
	return []bus.QueuedMessage{msg}, nil
}

func (q *memQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *memQueue) Bury(ctx context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buried[id] = reason
	return nil
}

func (q *memQueue) DeadLetters(ctx context.Context) ([]queue.DeadLetter, error) {
	return nil, nil
}

type fakeRunner struct {
	result *agent.RunResult
	err    error
	runs   []agent.RunRequest
}

func (r *fakeRunner) Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	r.runs = append(r.runs, req)
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

type fakeBot struct {
	replies  []string
	failures int
	err      error
}

func (b *fakeBot) PostReply(ctx context.Context, channel, threadTS, text, phChannel, phTS string) error {
	if b.err != nil {
		return b.err
	}
	b.replies = append(b.replies, text)
	return nil
}

func (b *fakeBot) PostFailure(ctx context.Context, channel, threadTS, phChannel, phTS string) error {
	b.failures++
	return nil
}

func queuedMsg(id string, attempt int) bus.QueuedMessage {
	return bus.QueuedMessage{
		ID: id,
		Event: bus.InboundEvent{
			EventID:  "Ev-" + id,
			Channel:  "C1",
			SenderID: "U1",
			Text:     "count instances",
			ThreadTS: "111.222",
		},
		EnqueuedAt:      time.Now(),
		DeliveryAttempt: attempt,
	}
}

func newTestConsumer(q queue.Queue, r runner, b replyBot) *Consumer {
	return New(Config{
		Queue:          q,
		Loop:           r,
		Bot:            b,
		Workers:        1,
		PollInterval:   time.Millisecond,
		MessageTimeout: time.Second,
		MaxReceive:     5,
	})
}

func TestProcessSuccessAcksAndReplies(t *testing.T) {
	q := newMemQueue()
	r := &fakeRunner{result: &agent.RunResult{Content: "*Summary*\n2 running."}}
	b := &fakeBot{}
	c := newTestConsumer(q, r, b)

	c.process(context.Background(), queuedMsg("m1", 1))

	if len(b.replies) != 1 || b.replies[0] != "*Summary*\n2 running." {
		t.Errorf("replies = %v", b.replies)
	}
	if len(q.acked) != 1 || q.acked[0] != "m1" {
		t.Errorf("acked = %v", q.acked)
	}
	if len(r.runs) != 1 {
		t.Fatalf("runs = %d", len(r.runs))
	}
	if r.runs[0].SessionKey != "slack:C1:111.222" {
		t.Errorf("session key = %q", r.runs[0].SessionKey)
	}
	if r.runs[0].EventID != "Ev-m1" {
		t.Errorf("event id = %q", r.runs[0].EventID)
	}
}

func TestProcessFailureLeavesMessageUnacked(t *testing.T) {
	q := newMemQueue()
	r := &fakeRunner{err: errors.New("model unavailable")}
	b := &fakeBot{}
	c := newTestConsumer(q, r, b)

	c.process(context.Background(), queuedMsg("m1", 1))

	if len(q.acked) != 0 {
		t.Error("failed message must not be acked")
	}
	if len(q.buried) != 0 {
		t.Error("first failure must not bury")
	}
	if b.failures != 0 {
		t.Error("no failure notice before attempts are exhausted")
	}
}

func TestProcessPoisonMessageBuriedWithNotice(t *testing.T) {
	q := newMemQueue()
	r := &fakeRunner{err: errors.New("model unavailable")}
	b := &fakeBot{}
	c := newTestConsumer(q, r, b)

	c.process(context.Background(), queuedMsg("m1", 5))

	if b.failures != 1 {
		t.Errorf("failure notices = %d, want 1", b.failures)
	}
	if reason, ok := q.buried["m1"]; !ok || reason == "" {
		t.Errorf("buried = %v, want m1 with reason", q.buried)
	}
	if len(q.acked) != 0 {
		t.Error("buried message must not also be acked")
	}
}

func TestProcessReplyFailureLeavesMessageForRetry(t *testing.T) {
	q := newMemQueue()
	r := &fakeRunner{result: &agent.RunResult{Content: "ok"}}
	b := &fakeBot{err: errors.New("slack 500")}
	c := newTestConsumer(q, r, b)

	c.process(context.Background(), queuedMsg("m1", 1))

	if len(q.acked) != 0 {
		t.Error("message must stay for retry when the reply post fails")
	}
	if len(q.buried) != 0 {
		t.Error("first reply failure must not bury")
	}
}

func TestRunDrainsQueue(t *testing.T) {
	q := newMemQueue(queuedMsg("m1", 0), queuedMsg("m2", 0))
	r := &fakeRunner{result: &agent.RunResult{Content: "done"}}
	b := &fakeBot{}
	c := newTestConsumer(q, r, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		q.mu.Lock()
		acked := len(q.acked)
		q.mu.Unlock()
		if acked == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queue not drained in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}
