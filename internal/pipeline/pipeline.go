// Package pipeline drives the staged acquisition flow: ingest raw
// references, enrich them against OpenAlex/Crossref, expand the citation
// neighborhood, and work the download queue.
package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/expand"
	"github.com/biblioflow/backend/internal/matcher"
	"github.com/biblioflow/backend/internal/store"
	"github.com/biblioflow/backend/pkg/openalex"
)

// Matcher finds the canonical work for a raw reference.
type Matcher interface {
	Match(ctx context.Context, ref *domain.Reference) (*matcher.Result, error)
}

// Expander walks a matched work's citation neighborhood.
type Expander interface {
	Expand(ctx context.Context, work *openalex.Work, corpusID *int64) (expand.Stats, error)
}

// URLResolver turns an enriched row into a fetchable PDF URL plus a source
// tag.
type URLResolver interface {
	Resolve(ctx context.Context, ref *domain.EnrichedReference) (string, string, error)
}

// Pipeline wires the store to the external collaborators. All batch
// operations are methods on it; it holds no per-batch state.
type Pipeline struct {
	store    *store.Store
	matcher  Matcher
	expander Expander
	resolver URLResolver

	httpClient *http.Client
	now        func() time.Time
}

func New(st *store.Store, m Matcher, e Expander, r URLResolver) *Pipeline {
	return &Pipeline{
		store:      st,
		matcher:    m,
		expander:   e,
		resolver:   r,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		now:        time.Now,
	}
}

func (p *Pipeline) Store() *store.Store { return p.store }
