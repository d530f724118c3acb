package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/biblioflow/backend/internal/domain"
)

// ClaimBatch leases up to limit queued rows for a worker. The whole claim is
// one write transaction, so no two workers ever see the same row as
// claimable: rows flip to in_progress with the worker id and a lease
// deadline before the transaction commits.
//
// Rows are claimed in (priority, id) order, optionally restricted to a
// corpus. A claimed row becomes claimable again only through completion,
// failure, or ReleaseExpiredLeases after the lease deadline.
func (s *Store) ClaimBatch(ctx context.Context, corpusID *int64, limit int, workerID string, leaseSeconds int64) ([]*domain.EnrichedReference, error) {
	if limit <= 0 {
		limit = 8
	}
	if workerID == "" {
		return nil, fmt.Errorf("%w: claim needs a worker id", ErrValidation)
	}
	if leaseSeconds <= 0 {
		leaseSeconds = 600
	}
	leaseExpires := time.Now().Unix() + leaseSeconds

	var claimed []*domain.EnrichedReference
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(
			`SELECT id, %s, %s FROM enriched WHERE download_state = 'queued'`, refCols, downloadCols)
		args := []any{}
		if corpusID != nil {
			query += " AND corpus_id = ?"
			args = append(args, *corpusID)
		}
		query += " ORDER BY priority, id LIMIT ?"
		args = append(args, limit)

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return wrapDBError("claim select", err)
		}
		for rows.Next() {
			ref, err := scanEnriched(rows)
			if err != nil {
				rows.Close()
				return wrapDBError("claim scan", err)
			}
			claimed = append(claimed, ref)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return wrapDBError("claim select", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		updArgs := []any{workerID, leaseExpires}
		for i, ref := range claimed {
			ids[i] = "?"
			updArgs = append(updArgs, ref.ID)
			ref.DownloadState = domain.DownloadInProgress
			ref.ClaimedBy = workerID
			ref.LeaseExpiresAt = leaseExpires
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE enriched SET download_state = 'in_progress', download_claimed_by = ?,
			     download_lease_expires_at = ?
			 WHERE id IN (%s)`, strings.Join(ids, ",")), updArgs...)
		return wrapDBError("claim update", err)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// QueueStats is the download queue broken down by state.
type QueueStats struct {
	None       int64 `json:"none"`
	Queued     int64 `json:"queued"`
	InProgress int64 `json:"in_progress"`
	Failed     int64 `json:"failed"`
}

// QueueStats reports enriched rows per download state.
func (s *Store) QueueStats(ctx context.Context) (QueueStats, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT download_state, COUNT(*) FROM enriched GROUP BY download_state")
	if err != nil {
		return QueueStats{}, wrapDBError("queue stats", err)
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return QueueStats{}, wrapDBError("queue stats", err)
		}
		switch domain.DownloadState(state) {
		case domain.DownloadNone:
			stats.None = n
		case domain.DownloadQueued:
			stats.Queued = n
		case domain.DownloadInProgress:
			stats.InProgress = n
		case domain.DownloadFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}
