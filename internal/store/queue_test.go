package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/biblioflow/backend/internal/domain"
)

// insertQueued inserts an enriched row and marks it queued, returning its id.
func insertQueued(t *testing.T, st *Store, title, openalexID string, priority int) int64 {
	t.Helper()
	ctx := context.Background()
	id, match, err := st.InsertEnriched(ctx, &domain.EnrichedReference{Reference: domain.Reference{
		Title:      title,
		Authors:    []string{"Q. Author"},
		Year:       intp(2015),
		OpenAlexID: openalexID,
	}})
	if err != nil {
		t.Fatalf("InsertEnriched %q: %v", title, err)
	}
	if match != nil {
		t.Fatalf("unexpected duplicate for %q: %+v", title, match)
	}
	if err := st.EnqueueForDownload(ctx, id, priority); err != nil {
		t.Fatalf("EnqueueForDownload %q: %v", title, err)
	}
	return id
}

func TestEnqueueRefusesDoubleQueue(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := insertQueued(t, st, "Queued Once", "W1", 0)
	err := st.EnqueueForDownload(ctx, id, 0)
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestClaimBatchLeasesExclusively(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	insertQueued(t, st, "Work A", "W1", 0)
	insertQueued(t, st, "Work B", "W2", 0)

	claimed, err := st.ClaimBatch(ctx, nil, 10, "worker-1", 600)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d rows, want 2", len(claimed))
	}
	for _, ref := range claimed {
		if ref.DownloadState != domain.DownloadInProgress {
			t.Errorf("row %d state = %q", ref.ID, ref.DownloadState)
		}
		if ref.ClaimedBy != "worker-1" {
			t.Errorf("row %d claimed_by = %q", ref.ID, ref.ClaimedBy)
		}
		if ref.LeaseExpiresAt <= time.Now().Unix() {
			t.Errorf("row %d lease already expired", ref.ID)
		}
	}

	// A second worker sees nothing while the leases hold.
	again, err := st.ClaimBatch(ctx, nil, 10, "worker-2", 600)
	if err != nil {
		t.Fatalf("ClaimBatch second worker: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second worker claimed %d rows", len(again))
	}
}

func TestClaimBatchConcurrentWorkersAreDisjoint(t *testing.T) {
	// A shared catalog file, as in production; each claim is one write
	// transaction so concurrent workers must partition the queue.
	ctx := context.Background()
	st, err := New(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	const rows, workers, perClaim = 10, 4, 3
	for i := 0; i < rows; i++ {
		insertQueued(t, st, fmt.Sprintf("Concurrent %d", i), fmt.Sprintf("W%d", i), 0)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claims  = make(map[int64]string)
		total   int
		firstMu sync.Once
		firstEr error
	)
	for w := 0; w < workers; w++ {
		worker := fmt.Sprintf("worker-%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := st.ClaimBatch(ctx, nil, perClaim, worker, 600)
			if err != nil {
				firstMu.Do(func() { firstEr = err })
				return
			}
			mu.Lock()
			defer mu.Unlock()
			total += len(claimed)
			for _, ref := range claimed {
				if prev, ok := claims[ref.ID]; ok {
					firstMu.Do(func() {
						firstEr = fmt.Errorf("row %d claimed by both %s and %s", ref.ID, prev, worker)
					})
					continue
				}
				claims[ref.ID] = worker
			}
		}()
	}
	wg.Wait()

	if firstEr != nil {
		t.Fatal(firstEr)
	}
	if total != rows || len(claims) != rows {
		t.Fatalf("claimed %d rows across workers (%d distinct), want all %d", total, len(claims), rows)
	}

	stats, err := st.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Queued != 0 || stats.InProgress != int64(rows) {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestClaimBatchPriorityOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	low := insertQueued(t, st, "Low Priority", "W1", 5)
	high := insertQueued(t, st, "High Priority", "W2", 0)

	claimed, err := st.ClaimBatch(ctx, nil, 1, "worker-1", 600)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != high {
		t.Fatalf("claimed %+v, want the priority-0 row %d (low was %d)", claimed, high, low)
	}
}

func TestReleaseExpiredLeases(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	insertQueued(t, st, "Expiring", "W1", 0)
	claimed, err := st.ClaimBatch(ctx, nil, 1, "worker-1", 60)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimBatch: %v (%d rows)", err, len(claimed))
	}

	// Sweep with "now" before the deadline: nothing released.
	n, err := st.ReleaseExpiredLeases(ctx, claimed[0].LeaseExpiresAt-1)
	if err != nil {
		t.Fatalf("ReleaseExpiredLeases: %v", err)
	}
	if n != 0 {
		t.Fatalf("released %d rows before the deadline", n)
	}

	// Past the deadline the claim resets and the row is claimable again.
	n, err = st.ReleaseExpiredLeases(ctx, claimed[0].LeaseExpiresAt+1)
	if err != nil {
		t.Fatalf("ReleaseExpiredLeases: %v", err)
	}
	if n != 1 {
		t.Fatalf("released %d rows, want 1", n)
	}

	reclaimed, err := st.ClaimBatch(ctx, nil, 1, "worker-2", 600)
	if err != nil {
		t.Fatalf("ClaimBatch after release: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ClaimedBy != "worker-2" {
		t.Fatalf("reclaim = %+v", reclaimed)
	}

	// The sweep is idempotent.
	n, err = st.ReleaseExpiredLeases(ctx, claimed[0].LeaseExpiresAt+1)
	if err != nil {
		t.Fatalf("ReleaseExpiredLeases again: %v", err)
	}
	if n != 0 {
		t.Fatalf("second sweep released %d rows", n)
	}
}

func TestCompleteDownloadSuccess(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := insertQueued(t, st, "Completed Work", "W1", 0)

	// Completing an unclaimed row is refused.
	if _, err := st.CompleteDownloadSuccess(ctx, id, "/tmp/x.pdf", "abc", "openalex_cached"); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable, got %v", err)
	}

	if _, err := st.ClaimBatch(ctx, nil, 1, "worker-1", 600); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	newID, err := st.CompleteDownloadSuccess(ctx, id, "/tmp/x.pdf", "abc123", "openalex_cached")
	if err != nil {
		t.Fatalf("CompleteDownloadSuccess: %v", err)
	}

	got, err := st.GetDownloaded(ctx, newID)
	if err != nil {
		t.Fatalf("GetDownloaded: %v", err)
	}
	if got.DownloadState != domain.DownloadSucceeded {
		t.Errorf("state = %q", got.DownloadState)
	}
	if got.FilePath != "/tmp/x.pdf" || got.ChecksumPDF != "abc123" || got.DownloadSource != "openalex_cached" {
		t.Errorf("artifact fields = %q %q %q", got.FilePath, got.ChecksumPDF, got.DownloadSource)
	}
	if got.ClaimedBy != "" || got.LeaseExpiresAt != 0 {
		t.Errorf("claim fields not cleared: %q %d", got.ClaimedBy, got.LeaseExpiresAt)
	}
	if _, err := st.GetEnriched(ctx, id); err == nil {
		t.Fatal("enriched row survived completion")
	}
}

func TestFailDownloadRetryBudget(t *testing.T) {
	st := newTestStore(t)
	st.MaxDownloadAttempts = 2
	ctx := context.Background()

	id := insertQueued(t, st, "Flaky Work", "W1", 0)

	// First failure: back to the queue with a note.
	if _, err := st.ClaimBatch(ctx, nil, 1, "worker-1", 600); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if err := st.FailDownload(ctx, id, "status 503"); err != nil {
		t.Fatalf("FailDownload: %v", err)
	}
	got, err := st.GetEnriched(ctx, id)
	if err != nil {
		t.Fatalf("GetEnriched after first failure: %v", err)
	}
	if got.DownloadState != domain.DownloadQueued {
		t.Errorf("state = %q, want queued", got.DownloadState)
	}
	if got.DownloadAttempts != 1 {
		t.Errorf("attempts = %d", got.DownloadAttempts)
	}
	if got.StatusNotes != "status 503" {
		t.Errorf("status_notes = %q", got.StatusNotes)
	}

	// Second failure exhausts the budget: the row moves to failed_download.
	if _, err := st.ClaimBatch(ctx, nil, 1, "worker-1", 600); err != nil {
		t.Fatalf("ClaimBatch second: %v", err)
	}
	if err := st.FailDownload(ctx, id, "status 503"); err != nil {
		t.Fatalf("FailDownload second: %v", err)
	}
	if _, err := st.GetEnriched(ctx, id); err == nil {
		t.Fatal("row survived budget exhaustion")
	}
	counts, err := st.StageCounts(ctx)
	if err != nil {
		t.Fatalf("StageCounts: %v", err)
	}
	if counts[domain.StageFailedDownload] != 1 {
		t.Errorf("failed_download count = %d", counts[domain.StageFailedDownload])
	}
}

func TestFailDownloadRequiresClaim(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := insertQueued(t, st, "Unclaimed", "W1", 0)
	if err := st.FailDownload(ctx, id, "nope"); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable, got %v", err)
	}
}

func TestQueueStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	insertQueued(t, st, "Stat A", "W1", 0)
	insertQueued(t, st, "Stat B", "W2", 0)
	if _, err := st.ClaimBatch(ctx, nil, 1, "worker-1", 600); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}

	stats, err := st.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Queued != 1 || stats.InProgress != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
