package expand

import (
	"context"
	"fmt"
	"testing"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/pkg/openalex"
)

type fakeAPI struct {
	citedPages [][]openalex.Work
	getCalls   int
}

func (f *fakeAPI) GetWork(_ context.Context, id string) (*openalex.Work, error) {
	f.getCalls++
	return &openalex.Work{ID: id}, nil
}

func (f *fakeAPI) CitedBy(_ context.Context, _ string, page int) ([]openalex.Work, bool, error) {
	if page > len(f.citedPages) {
		return nil, false, nil
	}
	return f.citedPages[page-1], page < len(f.citedPages), nil
}

type fakeStore struct {
	inserted []*domain.EnrichedReference
	existing map[string]bool
	edges    []domain.CitationEdge
}

func (f *fakeStore) InsertEnriched(_ context.Context, enr *domain.EnrichedReference) (int64, *domain.Match, error) {
	if f.existing[enr.OpenAlexID] {
		return 0, &domain.Match{Stage: domain.StageEnriched, ID: 1, Field: domain.MatchOpenAlexID}, nil
	}
	if f.existing == nil {
		f.existing = map[string]bool{}
	}
	f.existing[enr.OpenAlexID] = true
	f.inserted = append(f.inserted, enr)
	return int64(len(f.inserted)), nil, nil
}

func (f *fakeStore) RecordEdges(_ context.Context, sourceID string, targetIDs []string, kind domain.EdgeKind) error {
	for _, t := range targetIDs {
		f.edges = append(f.edges, domain.CitationEdge{SourceID: sourceID, TargetID: t, Kind: kind})
	}
	return nil
}

func referencedWork(n int) *openalex.Work {
	w := &openalex.Work{ID: "https://openalex.org/W1"}
	for i := 0; i < n; i++ {
		w.ReferencedWorks = append(w.ReferencedWorks, fmt.Sprintf("https://openalex.org/W%d", 100+i))
	}
	return w
}

func TestExpandCapsReferencedWorks(t *testing.T) {
	st := &fakeStore{}
	e := New(&fakeAPI{}, st, Options{FetchReferences: true, MaxRelated: 40})

	stats, err := e.Expand(context.Background(), referencedWork(500), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if stats.Stubs != 40 {
		t.Fatalf("inserted %d stubs, want 40", stats.Stubs)
	}
	if len(st.edges) != 40 {
		t.Fatalf("recorded %d edges, want 40", len(st.edges))
	}
	for _, stub := range st.inserted {
		if stub.OpenAlexID == "" {
			t.Fatal("stub without openalex id")
		}
		if stub.SourceWorkID != "W1" || stub.RelationType != string(domain.EdgeReferences) {
			t.Fatalf("stub provenance = %q/%q", stub.SourceWorkID, stub.RelationType)
		}
	}
}

func TestExpandCountsDuplicates(t *testing.T) {
	st := &fakeStore{existing: map[string]bool{"W100": true, "W101": true}}
	e := New(&fakeAPI{}, st, Options{FetchReferences: true, MaxRelated: 40})

	stats, err := e.Expand(context.Background(), referencedWork(5), nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if stats.Stubs != 3 || stats.Duplicates != 2 {
		t.Fatalf("stats = %+v, want 3 stubs / 2 duplicates", stats)
	}
	// Duplicates still get their edge: the relation is real even when the
	// row already exists.
	if len(st.edges) != 5 {
		t.Fatalf("recorded %d edges, want 5", len(st.edges))
	}
}

func TestExpandCitedByPages(t *testing.T) {
	pageOf := func(start, n int) []openalex.Work {
		var works []openalex.Work
		for i := 0; i < n; i++ {
			works = append(works, openalex.Work{
				ID:              fmt.Sprintf("https://openalex.org/W%d", start+i),
				Title:           fmt.Sprintf("Citing %d", start+i),
				PublicationYear: 2020,
			})
		}
		return works
	}
	api := &fakeAPI{citedPages: [][]openalex.Work{pageOf(200, 100), pageOf(300, 100)}}
	st := &fakeStore{}
	e := New(api, st, Options{FetchCitations: true, MaxRelated: 150})

	work := &openalex.Work{ID: "https://openalex.org/W1", CitedByAPIURL: "https://api.openalex.org/works?filter=cites:W1"}
	stats, err := e.Expand(context.Background(), work, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if stats.Stubs != 150 {
		t.Fatalf("inserted %d stubs, want 150 (cap across pages)", stats.Stubs)
	}
	first := st.inserted[0]
	if first.Title == "" || first.Year == nil {
		t.Fatalf("cited_by stub missing metadata: %+v", first)
	}
	if first.RelationType != string(domain.EdgeCitedBy) {
		t.Fatalf("relation = %q", first.RelationType)
	}
}

func TestExpandHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &fakeStore{}
	e := New(&fakeAPI{}, st, Options{FetchReferences: true})

	if _, err := e.Expand(ctx, referencedWork(10), nil); err == nil {
		t.Fatal("expected a cancellation error")
	}
	if len(st.inserted) != 0 {
		t.Fatalf("inserted %d stubs after cancellation", len(st.inserted))
	}
}

func TestExpandSkipsSelfReference(t *testing.T) {
	w := &openalex.Work{ID: "https://openalex.org/W1", ReferencedWorks: []string{"https://openalex.org/W1", "https://openalex.org/W2"}}
	st := &fakeStore{}
	e := New(&fakeAPI{}, st, Options{FetchReferences: true})

	stats, err := e.Expand(context.Background(), w, nil)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if stats.Stubs != 1 || len(st.edges) != 1 {
		t.Fatalf("stats = %+v, edges = %d", stats, len(st.edges))
	}
}
