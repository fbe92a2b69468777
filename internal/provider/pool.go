package provider

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/daasalpha/alphahunter/internal/panel"
)

// FetchPanel fetches history for every asset with a bounded worker pool and
// merges the results into one panel. The pool fully drains before the panel
// is returned; fetch and simulate phases never interleave.
//
// Assets that fail to fetch are logged and skipped; the fetch only errors
// when no asset yields any data.
func (c *Client) FetchPanel(ctx context.Context, assets []string, from, to time.Time) (*panel.Panel, error) {
	if len(assets) == 0 {
		return nil, &FetchError{Op: "panel", Err: errNoAssets}
	}

	workers := c.config.MaxConcurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > len(assets) {
		workers = len(assets)
	}

	jobs := make(chan string)
	type fetched struct {
		asset string
		rows  []panel.Row
		err   error
	}
	results := make(chan fetched, len(assets))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for asset := range jobs {
				rows, err := c.FetchHistory(ctx, asset, from, to)
				results <- fetched{asset: asset, rows: rows, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, asset := range assets {
			select {
			case jobs <- asset:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var rows []panel.Row
	failed := 0
	for res := range results {
		if res.err != nil {
			failed++
			log.Warn().Err(res.err).Str("asset", res.asset).Msg("history fetch failed, asset skipped")
			continue
		}
		rows = append(rows, res.rows...)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &FetchError{Op: "panel", Err: errNoData}
	}

	log.Info().
		Int("assets", len(assets)).
		Int("failed", failed).
		Int("rows", len(rows)).
		Msg("panel fetch complete")
	return panel.New(rows), nil
}
