// Package agent runs the tool-call loop that turns a user question
// into a reply, invoking inventory actions through the tool registry
// as the model requests them.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/nekrassov01/instancebot/internal/providers"
	"github.com/nekrassov01/instancebot/internal/sessions"
	"github.com/nekrassov01/instancebot/internal/tools"
)

// exhaustedReply is returned when the model keeps requesting tools
// past the iteration budget.
const exhaustedReply = "I could not finish that within my tool budget. Try narrowing the question, for example to a single region."

// Loop drives the conversation with the model for one message.
type Loop struct {
	provider      providers.Provider
	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	tools         *tools.Registry
	sessions      sessions.Store
	limiter       *rate.Limiter
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	Provider      providers.Provider
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	Tools         *tools.Registry
	Sessions      sessions.Store
	// Limiter caps model calls across all workers. Nil means no cap.
	Limiter *rate.Limiter
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	model := cfg.Model
	if model == "" {
		model = cfg.Provider.DefaultModel()
	}
	return &Loop{
		provider:      cfg.Provider,
		model:         model,
		maxTokens:     cfg.MaxTokens,
		temperature:   cfg.Temperature,
		maxIterations: cfg.MaxIterations,
		tools:         cfg.Tools,
		sessions:      cfg.Sessions,
		limiter:       cfg.Limiter,
	}
}

// RunRequest is the input for processing one message.
type RunRequest struct {
	SessionKey string
	EventID    string
	Message    string
	RunID      string
}

// RunResult is the output of a completed run.
type RunResult struct {
	Content    string
	Iterations int
	Cached     bool // reply came from the idempotency record, no model call
	Usage      providers.Usage
}

// Run processes a single message through the agent loop. It blocks
// until completion and returns the final reply text.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	// Redelivered event: answer from the record without touching the
	// model or appending to history a second time.
	if reply, ok := l.sessions.ReplyFor(req.SessionKey, req.EventID); ok {
		slog.Info("agent run served from idempotency record",
			"session", req.SessionKey, "event", req.EventID)
		return &RunResult{Content: reply, Cached: true}, nil
	}

	messages := make([]providers.Message, 0, 8)
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, l.sessions.History(req.SessionKey)...)
	messages = append(messages, providers.Message{Role: "user", Content: req.Message})

	// Buffer new messages and flush to the session only after the run
	// completes, so a failed run leaves no partial exchange behind.
	pending := []providers.Message{{Role: "user", Content: req.Message}}

	var totalUsage providers.Usage
	var finalContent string
	iteration := 0

	for iteration < l.maxIterations {
		iteration++

		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("model rate limit wait: %w", err)
			}
		}

		slog.Debug("agent iteration",
			"run", req.RunID, "iteration", iteration, "messages", len(messages))

		resp, err := l.provider.Chat(ctx, providers.ChatRequest{
			Messages:    messages,
			Tools:       l.tools.ProviderDefs(),
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("model call failed (iteration %d): %w", iteration, err)
		}
		totalUsage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		assistantMsg := providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		messages = append(messages, assistantMsg)
		pending = append(pending, assistantMsg)

		for _, tc := range resp.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("tool call",
				"run", req.RunID, "tool", tc.Name, "args", string(argsJSON))

			result := l.tools.Execute(ctx, tc.Name, tc.Arguments)
			if result.IsError {
				slog.Warn("tool error",
					"run", req.RunID, "tool", tc.Name, "error", result.ForLLM)
			}

			toolMsg := providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			}
			messages = append(messages, toolMsg)
			pending = append(pending, toolMsg)
		}
	}

	if finalContent == "" {
		slog.Warn("agent iteration budget exhausted",
			"run", req.RunID, "iterations", iteration)
		finalContent = exhaustedReply
	}

	pending = append(pending, providers.Message{Role: "assistant", Content: finalContent})
	if err := l.sessions.Append(req.SessionKey, pending...); err != nil {
		slog.Warn("session flush failed", "session", req.SessionKey, "error", err)
	}
	if err := l.sessions.RecordReply(req.SessionKey, req.EventID, finalContent); err != nil {
		slog.Warn("idempotency record failed", "session", req.SessionKey, "error", err)
	}
	l.sessions.AccumulateTokens(req.SessionKey, int64(totalUsage.PromptTokens), int64(totalUsage.CompletionTokens))

	return &RunResult{
		Content:    finalContent,
		Iterations: iteration,
		Usage:      totalUsage,
	}, nil
}
