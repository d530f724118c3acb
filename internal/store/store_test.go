package store

import (
	"context"
	"errors"
	"testing"

	"github.com/biblioflow/backend/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func intp(y int) *int { return &y }

func testRef(title string, year int, authors ...string) *domain.Reference {
	ref := &domain.Reference{Title: title, Authors: authors}
	if year > 0 {
		ref.Year = &year
	}
	return ref
}

func TestInsertRawAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ref := testRef("The Nature of the Firm", 1937, "R. H. Coase")
	ref.DOI = "https://doi.org/10.1111/j.1468-0335.1937.tb00002.x"
	ref.Source = "Economica"

	id, match, err := st.InsertRaw(ctx, ref)
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
	if match != nil {
		t.Fatalf("unexpected match on empty catalog: %+v", match)
	}
	if id == 0 {
		t.Fatal("expected a row id")
	}

	got, err := st.GetRaw(ctx, id)
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if got.Title != ref.Title {
		t.Errorf("title = %q, want %q", got.Title, ref.Title)
	}
	if got.NormalizedDOI == "" {
		t.Error("expected normalized DOI to be derived on insert")
	}
	if got.DOI != ref.DOI {
		t.Errorf("original DOI was rewritten: %q", got.DOI)
	}
	if len(got.Authors) != 1 || got.Authors[0] != "R. H. Coase" {
		t.Errorf("authors = %v", got.Authors)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestInsertRawValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, _, err := st.InsertRaw(ctx, &domain.Reference{Authors: []string{"Someone"}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for title-less identifier-less candidate, got %v", err)
	}

	// An identifier alone is enough: expansion stubs carry only openalex_id.
	if _, _, err := st.InsertRaw(ctx, &domain.Reference{OpenAlexID: "W123"}); err != nil {
		t.Fatalf("identifier-only insert: %v", err)
	}
}

func TestGetRawNotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetRaw(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStageCounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, title := range []string{"One", "Two", "Three"} {
		if _, _, err := st.InsertRaw(ctx, testRef(title, 1990+i, "A. Author")); err != nil {
			t.Fatalf("InsertRaw %q: %v", title, err)
		}
	}

	counts, err := st.StageCounts(ctx)
	if err != nil {
		t.Fatalf("StageCounts: %v", err)
	}
	if counts[domain.StageRaw] != 3 {
		t.Errorf("raw count = %d, want 3", counts[domain.StageRaw])
	}
	if counts[domain.StageEnriched] != 0 {
		t.Errorf("enriched count = %d, want 0", counts[domain.StageEnriched])
	}
}
