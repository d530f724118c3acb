package store

import (
	"context"
	"testing"

	"github.com/biblioflow/backend/internal/domain"
)

func enrichedFrom(raw *domain.Reference, openalexID string) *domain.EnrichedReference {
	enr := &domain.EnrichedReference{Reference: domain.Reference{
		Title:      raw.Title,
		Authors:    raw.Authors,
		Year:       raw.Year,
		OpenAlexID: openalexID,
	}}
	return enr
}

func TestPromoteToEnriched(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	raw := testRef("The Nature of the Firm", 1937, "R. H. Coase")
	raw.IngestSource = "pdf:run-1"
	rawID, _, err := st.InsertRaw(ctx, raw)
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}

	enr := enrichedFrom(raw, "W2029393004")
	enr.DOI = "10.1111/j.1468-0335.1937.tb00002.x"
	newID, match, err := st.PromoteToEnriched(ctx, rawID, enr, nil)
	if err != nil {
		t.Fatalf("PromoteToEnriched: %v", err)
	}
	if match != nil {
		t.Fatalf("unexpected collision: %+v", match)
	}

	got, err := st.GetEnriched(ctx, newID)
	if err != nil {
		t.Fatalf("GetEnriched: %v", err)
	}
	if got.OpenAlexID != "W2029393004" {
		t.Errorf("openalex_id = %q", got.OpenAlexID)
	}
	if got.IngestSource != "pdf:run-1" {
		t.Errorf("provenance not inherited: %q", got.IngestSource)
	}
	if got.DownloadState != domain.DownloadNone {
		t.Errorf("download_state = %q, want none", got.DownloadState)
	}

	// The raw row is gone.
	if _, err := st.GetRaw(ctx, rawID); err == nil {
		t.Fatal("raw row survived promotion")
	}
}

func TestPromoteMergesIntoStub(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// A stub materialized by expansion: identifier only.
	stub := &domain.EnrichedReference{
		Reference:    domain.Reference{OpenAlexID: "W555"},
		SourceWorkID: "W111",
		RelationType: string(domain.EdgeReferences),
	}
	stubID, _, err := st.InsertEnriched(ctx, stub)
	if err != nil {
		t.Fatalf("InsertEnriched stub: %v", err)
	}

	raw := testRef("Stubbed Work", 1999, "S. Author")
	rawID, _, err := st.InsertRaw(ctx, raw)
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}

	enr := enrichedFrom(raw, "W555")
	mergedID, match, err := st.PromoteToEnriched(ctx, rawID, enr, nil)
	if err != nil {
		t.Fatalf("PromoteToEnriched: %v", err)
	}
	if match == nil || match.ID != stubID {
		t.Fatalf("expected stub collision, got %+v", match)
	}
	if mergedID != stubID {
		t.Fatalf("merge landed on row %d, want stub %d", mergedID, stubID)
	}

	got, err := st.GetEnriched(ctx, stubID)
	if err != nil {
		t.Fatalf("GetEnriched: %v", err)
	}
	if got.Title != "Stubbed Work" {
		t.Errorf("stub title not filled: %q", got.Title)
	}
	if got.SourceWorkID != "W111" {
		t.Errorf("expansion provenance lost: %q", got.SourceWorkID)
	}

	entries, err := st.MergeLog(ctx, 5)
	if err != nil {
		t.Fatalf("MergeLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != domain.MergeMerged {
		t.Fatalf("merge log = %+v, want one merged entry", entries)
	}
}

func TestPromoteCollidingWithAdvancedRowDropsRaw(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	existing := &domain.EnrichedReference{Reference: domain.Reference{
		Title:      "Already Enriched",
		Authors:    []string{"E. Author"},
		Year:       intp(2005),
		OpenAlexID: "W777",
		DOI:        "10.5555/advanced",
	}}
	if _, _, err := st.InsertEnriched(ctx, existing); err != nil {
		t.Fatalf("InsertEnriched: %v", err)
	}

	raw := testRef("Already Enriched, New Scan", 2005)
	rawID, _, err := st.InsertRaw(ctx, raw)
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}

	enr := enrichedFrom(raw, "W777")
	id, match, err := st.PromoteToEnriched(ctx, rawID, enr, nil)
	if err != nil {
		t.Fatalf("PromoteToEnriched: %v", err)
	}
	if match == nil {
		t.Fatal("expected collision with the advanced row")
	}
	if id != 0 {
		t.Fatalf("expected no new row, got id %d", id)
	}
	if _, err := st.GetRaw(ctx, rawID); err == nil {
		t.Fatal("raw row survived a promoted collision")
	}

	entries, err := st.MergeLog(ctx, 5)
	if err != nil {
		t.Fatalf("MergeLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != domain.MergePromoted {
		t.Fatalf("merge log = %+v, want one promoted entry", entries)
	}
}

func TestFailEnrichmentMovesRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rawID, _, err := st.InsertRaw(ctx, testRef("Hopeless", 2020, "N. Obody"))
	if err != nil {
		t.Fatalf("InsertRaw: %v", err)
	}
	if err := st.FailEnrichment(ctx, rawID, "no provider candidate matched"); err != nil {
		t.Fatalf("FailEnrichment: %v", err)
	}

	counts, err := st.StageCounts(ctx)
	if err != nil {
		t.Fatalf("StageCounts: %v", err)
	}
	if counts[domain.StageRaw] != 0 {
		t.Errorf("raw count = %d", counts[domain.StageRaw])
	}
	if counts[domain.StageFailedEnrichment] != 1 {
		t.Errorf("failed_enrichment count = %d", counts[domain.StageFailedEnrichment])
	}
}
