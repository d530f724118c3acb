package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/normalize"
	"github.com/biblioflow/backend/pkg/openalex"
)

// WorkSearcher is the slice of the OpenAlex client keyword search uses.
type WorkSearcher interface {
	FilterWorks(ctx context.Context, filter string, perPage int) ([]openalex.Work, error)
}

// SearchOptions describe one keyword search run.
type SearchOptions struct {
	Query    string
	YearFrom int
	YearTo   int
	Type     string
	Limit    int
	CorpusID *int64
	// Enqueue feeds every hit through insert_raw so the next enrich batch
	// picks it up.
	Enqueue bool
}

// SearchRun queries OpenAlex free text, persists the run and its hits, and
// optionally pushes the hits into the raw stage.
func (p *Pipeline) SearchRun(ctx context.Context, api WorkSearcher, opts SearchOptions) (*domain.IngestRun, domain.BatchCounters, error) {
	var counters domain.BatchCounters
	if strings.TrimSpace(opts.Query) == "" {
		return nil, counters, fmt.Errorf("search: empty query")
	}
	if opts.Limit <= 0 {
		opts.Limit = 25
	}

	filters, _ := json.Marshal(map[string]any{
		"year_from": opts.YearFrom,
		"year_to":   opts.YearTo,
		"type":      opts.Type,
	})
	run := &domain.IngestRun{
		UUID:      uuid.NewString(),
		Kind:      "search",
		Query:     opts.Query,
		Filters:   string(filters),
		CorpusID:  opts.CorpusID,
		StartedAt: time.Now(),
	}
	runID, err := p.store.CreateIngestRun(ctx, run)
	if err != nil {
		return nil, counters, fmt.Errorf("create ingest run: %w", err)
	}
	run.ID = runID

	works, err := api.FilterWorks(ctx, searchFilter(opts), opts.Limit)
	if err != nil {
		return run, counters, fmt.Errorf("search works: %w", err)
	}
	log.Printf("Search %q: %d hits", opts.Query, len(works))

	for i := range works {
		w := &works[i]
		counters.Processed++

		hit := &domain.SearchHit{
			RunID:      runID,
			OpenAlexID: normalize.OpenAlexID(w.ID),
			DOI:        normalize.DOI(w.DOI),
			Title:      w.BestTitle(),
			RawJSON:    w.Raw,
		}
		if w.PublicationYear > 0 {
			y := w.PublicationYear
			hit.Year = &y
		}
		if _, err := p.store.InsertSearchHit(ctx, hit); err != nil {
			return run, counters, fmt.Errorf("persist search hit: %w", err)
		}

		if !opts.Enqueue {
			continue
		}
		ref := &domain.Reference{
			Title:        hit.Title,
			Authors:      w.AuthorNames(),
			Year:         hit.Year,
			DOI:          hit.DOI,
			OpenAlexID:   hit.OpenAlexID,
			EntryType:    w.Type,
			Source:       w.Container(),
			Language:     w.Language,
			IngestSource: "search:" + run.UUID,
			CorpusID:     opts.CorpusID,
			RawJSON:      w.Raw,
		}
		_, match, err := p.store.InsertRaw(ctx, ref)
		if err != nil {
			counters.AddError(fmt.Sprintf("hit %s: %v", hit.OpenAlexID, err))
			continue
		}
		if match != nil {
			counters.Duplicates++
		} else {
			counters.Promoted++
		}
	}

	if err := p.store.FinishIngestRun(ctx, runID); err != nil {
		return run, counters, fmt.Errorf("finish ingest run: %w", err)
	}
	return run, counters, nil
}

// searchFilter builds the OpenAlex filter expression for a keyword run.
// default.search carries the free text; year and type narrow it.
func searchFilter(opts SearchOptions) string {
	clean := strings.Join(strings.Fields(strings.NewReplacer(",", " ", ":", " ").Replace(opts.Query)), " ")
	parts := []string{"default.search:" + clean}
	if opts.YearFrom > 0 {
		parts = append(parts, fmt.Sprintf("from_publication_date:%d-01-01", opts.YearFrom))
	}
	if opts.YearTo > 0 {
		parts = append(parts, fmt.Sprintf("to_publication_date:%d-12-31", opts.YearTo))
	}
	if opts.Type != "" {
		parts = append(parts, "type:"+opts.Type)
	}
	return strings.Join(parts, ",")
}
