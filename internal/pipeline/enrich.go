package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/biblioflow/backend/internal/domain"
)

// EnrichOptions bound one enrichment batch.
type EnrichOptions struct {
	Limit   int
	Workers int
	// Expand walks referenced_works / cited_by of each matched work.
	Expand bool
	// Enqueue marks each promoted row queued for download.
	Enqueue  bool
	Priority int
}

func (o EnrichOptions) withDefaults() EnrichOptions {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	return o
}

// EnrichBatch drains up to Limit raw rows, matches each against the
// providers, and promotes or fails it. Matching runs concurrently; one
// reference failing never aborts the batch.
func (p *Pipeline) EnrichBatch(ctx context.Context, opts EnrichOptions) (domain.BatchCounters, error) {
	opts = opts.withDefaults()

	rows, err := p.store.ListRawBatch(ctx, opts.Limit)
	if err != nil {
		return domain.BatchCounters{}, fmt.Errorf("list raw batch: %w", err)
	}
	if len(rows) == 0 {
		log.Printf("Enrich: raw stage is empty")
		return domain.BatchCounters{}, nil
	}

	var (
		mu       sync.Mutex
		counters domain.BatchCounters
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, raw := range rows {
		raw := raw
		g.Go(func() error {
			err := p.enrichOne(gctx, raw, opts, &mu, &counters)
			if err != nil && gctx.Err() != nil {
				return err
			}
			if err != nil {
				mu.Lock()
				counters.AddError(fmt.Sprintf("raw %d: %v", raw.ID, err))
				mu.Unlock()
			}
			mu.Lock()
			counters.Processed++
			done := counters.Processed
			mu.Unlock()
			if done%10 == 0 {
				log.Printf("Progress: %d/%d enriched", done, len(rows))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return counters, err
	}

	log.Printf("Enrich complete: %d processed, %d promoted, %d duplicates, %d failed",
		counters.Processed, counters.Promoted, counters.Duplicates, counters.Failed)
	return counters, nil
}

func (p *Pipeline) enrichOne(ctx context.Context, raw *domain.Reference, opts EnrichOptions, mu *sync.Mutex, counters *domain.BatchCounters) error {
	result, err := p.matcher.Match(ctx, raw)
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}
	if result == nil {
		if err := p.store.FailEnrichment(ctx, raw.ID, "no provider candidate matched"); err != nil {
			return fmt.Errorf("fail enrichment: %w", err)
		}
		mu.Lock()
		counters.Failed++
		mu.Unlock()
		return nil
	}

	id, match, err := p.store.PromoteToEnriched(ctx, raw.ID, result.Record, nil)
	if err != nil {
		return fmt.Errorf("promote: %w", err)
	}

	mu.Lock()
	switch {
	case match != nil && id == 0:
		// The work already advanced past enrichment; the raw row was
		// dropped and the collision logged.
		counters.Duplicates++
	default:
		counters.Promoted++
	}
	mu.Unlock()
	if id == 0 {
		return nil
	}

	if opts.Enqueue {
		if err := p.store.EnqueueForDownload(ctx, id, opts.Priority); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		mu.Lock()
		counters.Queued++
		mu.Unlock()
	}

	if opts.Expand && p.expander != nil && result.Work != nil {
		stats, err := p.expander.Expand(ctx, result.Work, result.Record.CorpusID)
		if err != nil {
			return fmt.Errorf("expand: %w", err)
		}
		if stats.Stubs > 0 || stats.Edges > 0 {
			log.Printf("Expanded %s: %d stubs, %d duplicates, %d edges",
				result.Record.OpenAlexID, stats.Stubs, stats.Duplicates, stats.Edges)
		}
	}
	return nil
}
