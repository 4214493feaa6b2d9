package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Handler executes one action across a resolved region list. Query
// returns the typed per-region entry slice, one entry per region in
// input order; individual region failures are embedded as partial-result
// markers, so an error return means the handler itself gave out
// (timeout, throttling past its own tolerance).
type Handler interface {
	Name() Name
	Query(ctx context.Context, regions []string) (any, error)
}

// RouterConfig tunes the router's timeout and retry behavior.
type RouterConfig struct {
	// Catalog is the fixed region catalog in canonical order.
	Catalog []string
	// Timeout bounds one handler call (per attempt).
	Timeout time.Duration
	// MaxAttempts is the number of handler calls before surfacing
	// ErrActionUnavailable.
	MaxAttempts int
	// Backoff is the delay between attempts, doubled each retry.
	Backoff time.Duration
}

// Router maps an agent-requested action name and parameters to the
// matching handler and returns its result in a bounded format.
type Router struct {
	handlers map[Name]Handler
	cfg      RouterConfig
}

// NewRouter creates a router over the given handlers.
func NewRouter(cfg RouterConfig, handlers ...Handler) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}

	m := make(map[Name]Handler, len(handlers))
	for _, h := range handlers {
		m[h.Name()] = h
	}
	return &Router{handlers: m, cfg: cfg}
}

// Catalog returns the fixed region catalog.
func (r *Router) Catalog() []string {
	out := make([]string, len(r.cfg.Catalog))
	copy(out, r.cfg.Catalog)
	return out
}

// Invoke validates the action name, normalizes the region parameter, and
// delegates to the matching handler with a per-call timeout and bounded
// retry. An empty or absent region list always resolves to the full
// catalog, regardless of what the model sent.
func (r *Router) Invoke(ctx context.Context, name string, params Params) (*Result, error) {
	handler, ok := r.handlers[Name(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, name)
	}

	regions, warnings := NormalizeRegions(params.Regions, r.cfg.Catalog)

	var lastErr error
	backoff := r.cfg.Backoff
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			slog.Info("action: retrying handler", "action", name, "attempt", attempt)
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		body, err := handler.Query(callCtx, regions)
		cancel()
		if err == nil {
			return &Result{Action: handler.Name(), Body: body, Warnings: warnings}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrActionUnavailable, name, lastErr)
}
