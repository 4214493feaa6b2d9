// Package ingress terminates the Slack Events API webhook. It
// verifies the request signature, filters duplicates and retries,
// posts the placeholder message, and enqueues the event for the
// consumer. The handler never blocks on downstream work; Slack
// retries anything that takes longer than three seconds.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/nekrassov01/instancebot/internal/bus"
	"github.com/nekrassov01/instancebot/internal/queue"
)

const maxBodyBytes = 1 << 20

// placeholderPoster is the slice of the bot the ingress needs.
type placeholderPoster interface {
	PostPlaceholder(ctx context.Context, channel, threadTS string) (string, string, error)
}

// Handler serves POST /slack/events.
type Handler struct {
	signingSecret string
	queue         queue.Queue
	bot           placeholderPoster
	dedupe        *bus.DedupeCache
	limiter       *senderLimiter
	now           func() time.Time
}

// Config configures the ingress handler.
type Config struct {
	SigningSecret string
	Queue         queue.Queue
	Bot           placeholderPoster
	Dedupe        *bus.DedupeCache
	RateLimitRPM  int
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		signingSecret: cfg.SigningSecret,
		queue:         cfg.Queue,
		bot:           cfg.Bot,
		dedupe:        cfg.Dedupe,
		limiter:       newSenderLimiter(cfg.RateLimitRPM, 5),
		now:           time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	verifier, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
	if err != nil {
		http.Error(w, "bad signature headers", http.StatusUnauthorized)
		return
	}
	if _, err := verifier.Write(body); err != nil {
		http.Error(w, "verify", http.StatusInternalServerError)
		return
	}
	if err := verifier.Ensure(); err != nil {
		slog.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "parse event", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "parse challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, challenge.Challenge)

	case slackevents.CallbackEvent:
		h.handleCallback(w, r, &event)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request, event *slackevents.EventsAPIEvent) {
	// Slack redelivers after its own 3s timeout. The first delivery
	// already made it into the queue, so the retry is dropped here.
	if reason := r.Header.Get("X-Slack-Retry-Reason"); reason == "http_timeout" {
		slog.Debug("dropping slack timeout retry",
			"retry_num", r.Header.Get("X-Slack-Retry-Num"))
		w.WriteHeader(http.StatusOK)
		return
	}

	callback, ok := event.Data.(*slackevents.EventsAPICallbackEvent)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	eventID := callback.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	if h.dedupe.Seen(eventID) {
		slog.Debug("dropping duplicate event", "event", eventID)
		w.WriteHeader(http.StatusOK)
		return
	}

	inbound, ok := h.extract(event, eventID)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	if !h.limiter.Allow(inbound.SenderID) {
		slog.Warn("sender rate limited", "sender", inbound.SenderID)
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	phChannel, phTS, err := h.bot.PostPlaceholder(ctx, inbound.Channel, inbound.ThreadTS)
	if err != nil {
		// The placeholder is best effort. The answer still goes out.
		slog.Warn("placeholder post failed", "channel", inbound.Channel, "error", err)
	} else {
		inbound.PlaceholderChannel = phChannel
		inbound.PlaceholderTS = phTS
	}

	enqueued, err := h.queue.Enqueue(ctx, inbound)
	if err != nil {
		// Release the dedupe entry so Slack's retry of this delivery
		// is not dropped; the queue's event-id conflict handling
		// absorbs the duplicate if both end up landing.
		h.dedupe.Forget(eventID)
		slog.Error("enqueue failed", "event", eventID, "error", err)
		http.Error(w, "enqueue", http.StatusInternalServerError)
		return
	}
	if !enqueued {
		slog.Debug("event already queued", "event", eventID)
	}

	w.WriteHeader(http.StatusOK)
}

// extract pulls an InboundEvent out of the supported inner event
// types: app mentions anywhere, plain user messages in DMs. Bot
// messages and edits are ignored to keep the bot from answering
// itself.
func (h *Handler) extract(event *slackevents.EventsAPIEvent, eventID string) (bus.InboundEvent, bool) {
	switch inner := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if inner.BotID != "" {
			return bus.InboundEvent{}, false
		}
		return bus.InboundEvent{
			EventID:    eventID,
			Channel:    inner.Channel,
			SenderID:   inner.User,
			Text:       stripMention(inner.Text),
			ThreadTS:   threadRoot(inner.ThreadTimeStamp, inner.TimeStamp),
			ReceivedAt: h.now(),
		}, true

	case *slackevents.MessageEvent:
		if inner.ChannelType != "im" || inner.BotID != "" || inner.SubType != "" {
			return bus.InboundEvent{}, false
		}
		return bus.InboundEvent{
			EventID:    eventID,
			Channel:    inner.Channel,
			SenderID:   inner.User,
			Text:       inner.Text,
			ThreadTS:   threadRoot(inner.ThreadTimeStamp, inner.TimeStamp),
			ReceivedAt: h.now(),
		}, true
	}
	return bus.InboundEvent{}, false
}

// threadRoot anchors top-level messages to their own timestamp so
// each one starts a fresh session, while thread replies share the
// root message's session.
func threadRoot(threadTS, ts string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}

// stripMention removes the leading <@UXXXX> token from a mention.
func stripMention(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "<@") {
		if end := strings.Index(trimmed, ">"); end != -1 {
			trimmed = strings.TrimSpace(trimmed[end+1:])
		}
	}
	return trimmed
}
