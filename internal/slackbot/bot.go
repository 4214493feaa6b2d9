// Package slackbot wraps the Slack Web API calls the pipeline makes:
// the placeholder posted at ingress, the formatted reply, and the
// neutral failure notice.
package slackbot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// contextFooter is appended under every reply so users know how long
// follow-ups keep working.
const contextFooter = "Thread context is kept for 30 minutes after the last message."

// failureText is the fail-closed reply. It never includes error
// detail; that goes to the log.
const failureText = "Sorry, something went wrong while answering. Please try again in a moment."

// API is the subset of the Slack client the bot uses.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
}

// Bot posts messages on behalf of the pipeline.
type Bot struct {
	api             API
	placeholderText string
}

func New(api API, placeholderText string) *Bot {
	if placeholderText == "" {
		placeholderText = ":hourglass_flowing_sand: preparing the answer..."
	}
	return &Bot{api: api, placeholderText: placeholderText}
}

// PostPlaceholder posts the interim message in the thread and returns
// its channel and timestamp so the reply path can delete it.
func (b *Bot) PostPlaceholder(ctx context.Context, channel, threadTS string) (string, string, error) {
	ch, ts, err := b.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(b.placeholderText, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return "", "", fmt.Errorf("post placeholder: %w", err)
	}
	return ch, ts, nil
}

// PostReply posts the formatted answer in the thread, then removes
// the placeholder. A failed delete is logged and swallowed; the
// answer already landed.
func (b *Bot) PostReply(ctx context.Context, channel, threadTS, text, placeholderChannel, placeholderTS string) error {
	blocks := replyBlocks(text)
	_, _, err := b.api.PostMessageContext(ctx, channel,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	b.deletePlaceholder(ctx, placeholderChannel, placeholderTS)
	return nil
}

// PostFailure posts the neutral failure notice and removes the
// placeholder.
func (b *Bot) PostFailure(ctx context.Context, channel, threadTS, placeholderChannel, placeholderTS string) error {
	_, _, err := b.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(failureText, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		return fmt.Errorf("post failure notice: %w", err)
	}
	b.deletePlaceholder(ctx, placeholderChannel, placeholderTS)
	return nil
}

func (b *Bot) deletePlaceholder(ctx context.Context, channel, ts string) {
	if channel == "" || ts == "" {
		return
	}
	if _, _, err := b.api.DeleteMessageContext(ctx, channel, ts); err != nil {
		slog.Warn("delete placeholder failed", "channel", channel, "ts", ts, "error", err)
	}
}

// replyBlocks renders the answer as Block Kit: the mrkdwn body, a
// divider, and the retention footer.
func replyBlocks(text string) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
		slack.NewDividerBlock(),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, contextFooter, false, false)),
	}
}
