// Package consumer drains the dispatch queue with a fixed worker
// pool. Each message gets one agent run within a wall-clock budget;
// a failed run is left unacked so the visibility timeout returns it,
// and a message that keeps failing is buried in the dead-letter sink
// after a neutral notice to the thread.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nekrassov01/instancebot/internal/agent"
	"github.com/nekrassov01/instancebot/internal/bus"
	"github.com/nekrassov01/instancebot/internal/queue"
	"github.com/nekrassov01/instancebot/internal/sessions"
)

// runner is the agent surface the consumer drives.
type runner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// replyBot is the slice of the bot the consumer needs.
type replyBot interface {
	PostReply(ctx context.Context, channel, threadTS, text, placeholderChannel, placeholderTS string) error
	PostFailure(ctx context.Context, channel, threadTS, placeholderChannel, placeholderTS string) error
}

// Consumer polls the queue and dispatches messages to the agent.
type Consumer struct {
	queue          queue.Queue
	loop           runner
	bot            replyBot
	workers        int
	pollInterval   time.Duration
	messageTimeout time.Duration
	maxReceive     int
	tracer         trace.Tracer
}

// Config configures a Consumer.
type Config struct {
	Queue          queue.Queue
	Loop           runner
	Bot            replyBot
	Workers        int
	PollInterval   time.Duration
	MessageTimeout time.Duration
	MaxReceive     int
}

func New(cfg Config) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 5 * time.Minute
	}
	if cfg.MaxReceive <= 0 {
		cfg.MaxReceive = 5
	}
	return &Consumer{
		queue:          cfg.Queue,
		loop:           cfg.Loop,
		bot:            cfg.Bot,
		workers:        cfg.Workers,
		pollInterval:   cfg.PollInterval,
		messageTimeout: cfg.MessageTimeout,
		maxReceive:     cfg.MaxReceive,
		tracer:         otel.Tracer("instancebot/consumer"),
	}
}

// Run blocks until ctx is cancelled, polling with the worker pool.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		worker := i
		g.Go(func() error {
			return c.poll(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) poll(ctx context.Context, worker int) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		msgs, err := c.queue.Receive(ctx, 1)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			slog.Warn("queue receive failed", "worker", worker, "error", err)
			continue
		}
		for _, msg := range msgs {
			c.process(ctx, msg)
		}
	}
}

// process runs one message end to end. Ack happens only after the
// reply landed in Slack; anything before that leaves the message to
// reappear when its visibility timeout expires.
func (c *Consumer) process(ctx context.Context, msg bus.QueuedMessage) {
	ctx, cancel := context.WithTimeout(ctx, c.messageTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "consumer.process",
		trace.WithAttributes(
			attribute.String("event.id", msg.Event.EventID),
			attribute.String("slack.channel", msg.Event.Channel),
			attribute.Int("delivery.attempt", msg.DeliveryAttempt),
		))
	defer span.End()

	key := sessions.Key(msg.Event.Channel, msg.Event.ThreadTS)
	result, err := c.loop.Run(ctx, agent.RunRequest{
		SessionKey: key,
		EventID:    msg.Event.EventID,
		Message:    msg.Event.Text,
		RunID:      msg.ID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent run failed")
		slog.Error("agent run failed",
			"event", msg.Event.EventID, "attempt", msg.DeliveryAttempt, "error", err)
		c.maybeBury(ctx, msg, err)
		return
	}

	ev := msg.Event
	if err := c.bot.PostReply(ctx, ev.Channel, ev.ThreadTS, result.Content,
		ev.PlaceholderChannel, ev.PlaceholderTS); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reply post failed")
		slog.Error("reply post failed",
			"event", ev.EventID, "attempt", msg.DeliveryAttempt, "error", err)
		c.maybeBury(ctx, msg, err)
		return
	}

	if err := c.queue.Ack(ctx, msg.ID); err != nil {
		slog.Warn("ack failed", "event", ev.EventID, "error", err)
		return
	}
	slog.Info("message processed",
		"event", ev.EventID,
		"iterations", result.Iterations,
		"cached", result.Cached,
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens)
}

// maybeBury moves a message to the dead-letter sink once its delivery
// attempts are exhausted, after telling the thread something went
// wrong. Earlier attempts just let the message reappear.
func (c *Consumer) maybeBury(ctx context.Context, msg bus.QueuedMessage, cause error) {
	if msg.DeliveryAttempt < c.maxReceive {
		return
	}

	// The run context may already be cancelled or expired; burying
	// still has to happen or the message loops forever.
	buryCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		buryCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	ev := msg.Event
	if err := c.bot.PostFailure(buryCtx, ev.Channel, ev.ThreadTS,
		ev.PlaceholderChannel, ev.PlaceholderTS); err != nil {
		slog.Warn("failure notice post failed", "event", ev.EventID, "error", err)
	}
	if err := c.queue.Bury(buryCtx, msg.ID, cause.Error()); err != nil {
		slog.Error("bury failed", "event", ev.EventID, "error", err)
		return
	}
	slog.Warn("message dead-lettered",
		"event", ev.EventID, "attempts", msg.DeliveryAttempt, "cause", cause)
}
