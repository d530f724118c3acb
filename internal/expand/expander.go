// Package expand walks a matched work's referenced_works and cited_by lists,
// materializing new enriched stubs and citation edges through the resolver.
package expand

import (
	"context"
	"errors"
	"log"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/normalize"
	"github.com/biblioflow/backend/pkg/openalex"
)

// WorkFetcher is the slice of the OpenAlex client the expander uses.
type WorkFetcher interface {
	GetWork(ctx context.Context, id string) (*openalex.Work, error)
	CitedBy(ctx context.Context, citedByAPIURL string, page int) ([]openalex.Work, bool, error)
}

// StubStore is the slice of the catalog store the expander writes through.
// Every insert goes through the dedup resolver.
type StubStore interface {
	InsertEnriched(ctx context.Context, enr *domain.EnrichedReference) (int64, *domain.Match, error)
	RecordEdges(ctx context.Context, sourceID string, targetIDs []string, kind domain.EdgeKind) error
}

// Options bound the fan-out of one expansion.
type Options struct {
	FetchReferences bool
	FetchCitations  bool
	// MaxRelated caps stubs per relation kind per work (default 40).
	MaxRelated int
	// Depth controls recursion into newly created stubs (default 1: no
	// recursion).
	Depth int
}

func (o Options) withDefaults() Options {
	if o.MaxRelated <= 0 {
		o.MaxRelated = 40
	}
	if o.Depth <= 0 {
		o.Depth = 1
	}
	return o
}

// Stats aggregates one expansion's outcome.
type Stats struct {
	Stubs      int
	Duplicates int
	Edges      int
}

func (s *Stats) add(o Stats) {
	s.Stubs += o.Stubs
	s.Duplicates += o.Duplicates
	s.Edges += o.Edges
}

// Expander inserts related works discovered through OpenAlex.
type Expander struct {
	api   WorkFetcher
	store StubStore
	opts  Options
}

func New(api WorkFetcher, store StubStore, opts Options) *Expander {
	return &Expander{api: api, store: store, opts: opts.withDefaults()}
}

// Expand walks the work's related lists. Cancellation is honored between
// pages and between sibling works; partial progress is kept.
func (e *Expander) Expand(ctx context.Context, work *openalex.Work, corpusID *int64) (Stats, error) {
	return e.expand(ctx, work, corpusID, e.opts.Depth)
}

func (e *Expander) expand(ctx context.Context, work *openalex.Work, corpusID *int64, depth int) (Stats, error) {
	var stats Stats
	sourceID := normalize.OpenAlexID(work.ID)
	if sourceID == "" {
		return stats, nil
	}

	if e.opts.FetchReferences {
		s, err := e.expandReferences(ctx, work, sourceID, corpusID, depth)
		stats.add(s)
		if err != nil {
			return stats, err
		}
	}
	if e.opts.FetchCitations && work.CitedByAPIURL != "" {
		s, err := e.expandCitations(ctx, work, sourceID, corpusID, depth)
		stats.add(s)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// expandReferences inserts id-only stubs for the work's referenced_works.
// OpenAlex lists bare ids here; titles arrive if a stub is later promoted.
func (e *Expander) expandReferences(ctx context.Context, work *openalex.Work, sourceID string, corpusID *int64, depth int) (Stats, error) {
	var stats Stats
	var edgeTargets []string

	for _, refID := range work.ReferencedWorks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if stats.Stubs+stats.Duplicates >= e.opts.MaxRelated {
			break
		}
		id := normalize.OpenAlexID(refID)
		if id == "" || id == sourceID {
			continue
		}

		stub := &domain.EnrichedReference{
			Reference: domain.Reference{
				OpenAlexID:   id,
				IngestSource: "expand:" + sourceID,
				CorpusID:     corpusID,
			},
			SourceWorkID: sourceID,
			RelationType: string(domain.EdgeReferences),
		}
		_, match, err := e.store.InsertEnriched(ctx, stub)
		if err != nil {
			return stats, err
		}
		if match != nil {
			stats.Duplicates++
		} else {
			stats.Stubs++
			if depth > 1 {
				stats.add(e.descend(ctx, id, corpusID, depth-1))
			}
		}
		edgeTargets = append(edgeTargets, id)
	}

	if len(edgeTargets) > 0 {
		if err := e.store.RecordEdges(ctx, sourceID, edgeTargets, domain.EdgeReferences); err != nil {
			return stats, err
		}
		stats.Edges += len(edgeTargets)
	}
	return stats, nil
}

// expandCitations pages through cited_by (100 per page), inserting stubs
// that carry the citing work's title and identifier.
func (e *Expander) expandCitations(ctx context.Context, work *openalex.Work, sourceID string, corpusID *int64, depth int) (Stats, error) {
	var stats Stats
	var edgeTargets []string
	seen := 0

pages:
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		works, more, err := e.api.CitedBy(ctx, work.CitedByAPIURL, page)
		if err != nil {
			// A failed page is logged and ends the walk; edges gathered so
			// far are still recorded.
			log.Printf("cited_by page %d for %s failed: %v", page, sourceID, err)
			break
		}
		for i := range works {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if seen >= e.opts.MaxRelated {
				break pages
			}
			citing := &works[i]
			id := normalize.OpenAlexID(citing.ID)
			if id == "" || id == sourceID {
				continue
			}
			seen++

			stub := &domain.EnrichedReference{
				Reference: domain.Reference{
					Title:        citing.BestTitle(),
					OpenAlexID:   id,
					IngestSource: "expand:" + sourceID,
					CorpusID:     corpusID,
					RawJSON:      citing.Raw,
				},
				SourceWorkID: sourceID,
				RelationType: string(domain.EdgeCitedBy),
			}
			if citing.PublicationYear > 0 {
				y := citing.PublicationYear
				stub.Year = &y
			}
			_, match, err := e.store.InsertEnriched(ctx, stub)
			if err != nil {
				return stats, err
			}
			if match != nil {
				stats.Duplicates++
			} else {
				stats.Stubs++
				if depth > 1 {
					stats.add(e.descend(ctx, id, corpusID, depth-1))
				}
			}
			edgeTargets = append(edgeTargets, id)
		}
		if !more {
			break
		}
	}

	if len(edgeTargets) > 0 {
		if err := e.store.RecordEdges(ctx, sourceID, edgeTargets, domain.EdgeCitedBy); err != nil {
			return stats, err
		}
		stats.Edges += len(edgeTargets)
	}
	return stats, nil
}

// descend fetches a newly stubbed work and expands it at reduced depth.
// Fetch failures end the descent quietly; expansion is best-effort.
func (e *Expander) descend(ctx context.Context, id string, corpusID *int64, depth int) Stats {
	child, err := e.api.GetWork(ctx, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("expand descent into %s failed: %v", id, err)
		}
		return Stats{}
	}
	stats, err := e.expand(ctx, child, corpusID, depth)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("expand descent into %s failed: %v", id, err)
	}
	return stats
}
