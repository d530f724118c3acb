package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/matcher"
	"github.com/biblioflow/backend/internal/store"
)

func newTestPipeline(t *testing.T, m Matcher, r URLResolver) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, m, nil, r), st
}

func intp(y int) *int { return &y }

type fakeMatcher struct {
	records map[string]*domain.EnrichedReference
}

func (f *fakeMatcher) Match(_ context.Context, ref *domain.Reference) (*matcher.Result, error) {
	rec := f.records[ref.Title]
	if rec == nil {
		return nil, nil
	}
	return &matcher.Result{Record: rec}, nil
}

func TestIngestReferencesCounters(t *testing.T) {
	p, _ := newTestPipeline(t, nil, nil)
	ctx := context.Background()

	refs := []*domain.Reference{
		{Title: "Work A", Authors: []string{"A. Author"}, Year: intp(2000)},
		{Title: "Work A", Authors: []string{"A. Author"}, Year: intp(2000)},
		{},                  // no title, no identifier
		{OpenAlexID: "W42"}, // identifier-only is valid
	}
	counters, err := p.IngestReferences(ctx, refs)
	if err != nil {
		t.Fatalf("IngestReferences: %v", err)
	}
	if counters.Processed != 4 {
		t.Errorf("processed = %d", counters.Processed)
	}
	if counters.Promoted != 2 {
		t.Errorf("new = %d, want 2", counters.Promoted)
	}
	if counters.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", counters.Duplicates)
	}
	if counters.Failed != 1 {
		t.Errorf("failed = %d, want 1", counters.Failed)
	}
}

func TestEnrichBatchPromotesMatchesAndFailsRest(t *testing.T) {
	matched := &domain.EnrichedReference{Reference: domain.Reference{
		Title:      "Matched Work",
		Authors:    []string{"M. Author"},
		Year:       intp(2001),
		OpenAlexID: "W1",
		DOI:        "10.5555/matched",
	}}
	m := &fakeMatcher{records: map[string]*domain.EnrichedReference{
		"Matched Work": matched,
	}}
	p, st := newTestPipeline(t, m, nil)
	ctx := context.Background()

	for _, title := range []string{"Matched Work", "Unmatched Work"} {
		if _, _, err := st.InsertRaw(ctx, &domain.Reference{Title: title, Authors: []string{"M. Author"}, Year: intp(2001)}); err != nil {
			t.Fatalf("InsertRaw %q: %v", title, err)
		}
	}

	counters, err := p.EnrichBatch(ctx, EnrichOptions{Limit: 10, Workers: 2, Enqueue: true})
	if err != nil {
		t.Fatalf("EnrichBatch: %v", err)
	}
	if counters.Promoted != 1 || counters.Failed != 1 || counters.Queued != 1 {
		t.Fatalf("counters = %+v", counters)
	}

	counts, err := st.StageCounts(ctx)
	if err != nil {
		t.Fatalf("StageCounts: %v", err)
	}
	if counts[domain.StageRaw] != 0 {
		t.Errorf("raw left over: %d", counts[domain.StageRaw])
	}
	if counts[domain.StageEnriched] != 1 {
		t.Errorf("enriched = %d", counts[domain.StageEnriched])
	}
	if counts[domain.StageFailedEnrichment] != 1 {
		t.Errorf("failed_enrichment = %d", counts[domain.StageFailedEnrichment])
	}

	stats, err := st.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Queued != 1 {
		t.Errorf("queued = %d", stats.Queued)
	}
}

type fixedResolver struct {
	url string
	err error
}

func (f *fixedResolver) Resolve(_ context.Context, _ *domain.EnrichedReference) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return f.url, "test_source", nil
}

func queueOne(t *testing.T, st *store.Store, title string) int64 {
	t.Helper()
	ctx := context.Background()
	id, _, err := st.InsertEnriched(ctx, &domain.EnrichedReference{Reference: domain.Reference{
		Title:      title,
		Authors:    []string{"D. Author"},
		Year:       intp(2010),
		OpenAlexID: "W1",
	}})
	if err != nil {
		t.Fatalf("InsertEnriched: %v", err)
	}
	if err := st.EnqueueForDownload(ctx, id, 0); err != nil {
		t.Fatalf("EnqueueForDownload: %v", err)
	}
	return id
}

func TestDownloadBatchFetchesAndCompletes(t *testing.T) {
	payload := []byte("%PDF-1.4 test document")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	p, st := newTestPipeline(t, nil, &fixedResolver{url: srv.URL})
	ctx := context.Background()
	queueOne(t, st, "Downloadable Work")

	dir := t.TempDir()
	counters, err := p.DownloadBatch(ctx, DownloadOptions{Limit: 5, Workers: 1, LibraryDir: dir})
	if err != nil {
		t.Fatalf("DownloadBatch: %v", err)
	}
	if counters.Promoted != 1 || counters.Failed != 0 {
		t.Fatalf("counters = %+v", counters)
	}

	rows, err := st.ListReferences(ctx, store.ListFilter{Stage: domain.StageDownloaded})
	if err != nil {
		t.Fatalf("ListReferences: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("downloaded rows = %d", len(rows))
	}
	row := rows[0]
	if row.DownloadSource != "test_source" {
		t.Errorf("source = %q", row.DownloadSource)
	}
	sum := sha256.Sum256(payload)
	if row.ChecksumPDF != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum mismatch: %q", row.ChecksumPDF)
	}
	data, err := os.ReadFile(row.FilePath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != string(payload) {
		t.Error("artifact content mismatch")
	}
}

func TestDownloadBatchFailureRequeues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, st := newTestPipeline(t, nil, &fixedResolver{url: srv.URL})
	ctx := context.Background()
	id := queueOne(t, st, "Flaky Work")

	counters, err := p.DownloadBatch(ctx, DownloadOptions{Limit: 5, Workers: 1, LibraryDir: t.TempDir()})
	if err != nil {
		t.Fatalf("DownloadBatch: %v", err)
	}
	if counters.Failed != 1 {
		t.Fatalf("counters = %+v", counters)
	}

	row, err := st.GetEnriched(ctx, id)
	if err != nil {
		t.Fatalf("GetEnriched: %v", err)
	}
	if row.DownloadState != domain.DownloadQueued {
		t.Errorf("state = %q, want queued for retry", row.DownloadState)
	}
	if row.DownloadAttempts != 1 {
		t.Errorf("attempts = %d", row.DownloadAttempts)
	}
}

func TestDownloadBatchRejectsNonPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>paywall</html>"))
	}))
	defer srv.Close()

	p, st := newTestPipeline(t, nil, &fixedResolver{url: srv.URL})
	ctx := context.Background()
	id := queueOne(t, st, "Paywalled Work")

	counters, err := p.DownloadBatch(ctx, DownloadOptions{Limit: 5, Workers: 1, LibraryDir: t.TempDir()})
	if err != nil {
		t.Fatalf("DownloadBatch: %v", err)
	}
	if counters.Failed != 1 {
		t.Fatalf("counters = %+v", counters)
	}
	row, err := st.GetEnriched(ctx, id)
	if err != nil {
		t.Fatalf("GetEnriched: %v", err)
	}
	if row.StatusNotes == "" {
		t.Error("expected a failure note")
	}
}
