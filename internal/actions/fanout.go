package actions

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// fanOut runs query once per region with bounded concurrency and returns
// one entry per region in input order, regardless of completion timing.
// Each goroutine writes to its own index-addressed slot, so out-of-order
// completion cannot reorder results. A failed region yields the entry
// produced by failed rather than aborting the whole call; only when
// every queried region fails does fanOut return an error, so the
// router's retry budget can engage instead of handing the model an
// all-failed result.
func fanOut[E any](
	ctx context.Context,
	regions []string,
	limit int,
	query func(ctx context.Context, region string) (E, error),
	failed func(region string) E,
) ([]E, error) {
	if limit <= 0 {
		limit = 4
	}

	entries := make([]E, len(regions))
	failures := make([]bool, len(regions))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, region := range regions {
		g.Go(func() error {
			entry, err := query(ctx, region)
			if err != nil {
				slog.Warn("action: region query failed", "region", region, "error", err)
				entries[i] = failed(region)
				failures[i] = true
				return nil
			}
			entries[i] = entry
			return nil
		})
	}
	g.Wait()

	count := 0
	for _, f := range failures {
		if f {
			count++
		}
	}
	if len(regions) > 0 && count == len(regions) {
		return entries, fmt.Errorf("all %d queried regions failed", len(regions))
	}
	return entries, nil
}
