package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/biblioflow/backend/internal/domain"
)

// InsertRaw inserts a candidate into the raw stage. On a dedup collision the
// candidate is not inserted: the collision is recorded in the merge log and
// returned as a non-nil Match.
func (s *Store) InsertRaw(ctx context.Context, ref *domain.Reference) (int64, *domain.Match, error) {
	prepare(ref)
	if ref.Title == "" && ref.NormalizedDOI == "" && ref.OpenAlexID == "" {
		return 0, nil, fmt.Errorf("%w: reference needs a title or an identifier", ErrValidation)
	}

	var (
		id    int64
		match *domain.Match
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := resolve(ctx, tx, ref, nil)
		if err != nil {
			return err
		}
		if m != nil {
			match = m
			return logMerge(ctx, tx, ref, m, domain.MergeRejected)
		}
		id, err = insertReference(ctx, tx, "raw", ref)
		if err != nil {
			return err
		}
		return trackCorpus(ctx, tx, ref.CorpusID, domain.StageRaw, id)
	})
	if err != nil {
		return 0, nil, err
	}
	return id, match, nil
}

// PromoteToEnriched replaces a raw row with its enriched record, atomically.
// Outcomes:
//   - no collision: raw row deleted, enriched row inserted, id returned
//   - collision with an enriched stub: the full record is merged into the
//     stub, the raw row is deleted, the stub id is returned (action "merged")
//   - any other collision: the raw row is dropped as a duplicate (action
//     "promoted": the work already advanced past this candidate)
//
// Edges discovered during enrichment are recorded in the same transaction.
func (s *Store) PromoteToEnriched(ctx context.Context, rawID int64, enr *domain.EnrichedReference, edges []domain.CitationEdge) (int64, *domain.Match, error) {
	prepare(&enr.Reference)

	var (
		id    int64
		match *domain.Match
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		raw, err := getRawTx(ctx, tx, rawID)
		if err != nil {
			return err
		}
		inheritProvenance(enr, raw)

		m, err := resolve(ctx, tx, &enr.Reference, &exclusion{stage: domain.StageRaw, id: rawID})
		if err != nil {
			return err
		}
		if m != nil {
			match = m
			if m.Stage == domain.StageEnriched {
				stub, err := getEnrichedTx(ctx, tx, m.ID)
				if err != nil {
					return err
				}
				if stub.IsStub() {
					if err := mergeIntoStub(ctx, tx, stub.ID, enr); err != nil {
						return err
					}
					id = stub.ID
					if err := deleteRow(ctx, tx, domain.StageRaw, rawID); err != nil {
						return err
					}
					if err := logMerge(ctx, tx, &enr.Reference, m, domain.MergeMerged); err != nil {
						return err
					}
					return recordEdges(ctx, tx, edges)
				}
			}
			if err := deleteRow(ctx, tx, domain.StageRaw, rawID); err != nil {
				return err
			}
			return logMerge(ctx, tx, &enr.Reference, m, domain.MergePromoted)
		}

		id, err = insertEnriched(ctx, tx, "enriched", enr)
		if err != nil {
			return err
		}
		if err := deleteRow(ctx, tx, domain.StageRaw, rawID); err != nil {
			return err
		}
		if err := moveCorpus(ctx, tx, enr.CorpusID, domain.StageRaw, rawID, domain.StageEnriched, id); err != nil {
			return err
		}
		return recordEdges(ctx, tx, edges)
	})
	if err != nil {
		return 0, nil, err
	}
	return id, match, nil
}

// FailEnrichment moves a raw row to failed_enrichment with a diagnostic.
func (s *Store) FailEnrichment(ctx context.Context, rawID int64, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`INSERT INTO failed_enrichment (%s, reason) SELECT %s, ? FROM raw WHERE id = ?`,
			refCols, refCols), reason, rawID)
		if err != nil {
			return wrapDBError("fail enrichment", err)
		}
		return deleteRow(ctx, tx, domain.StageRaw, rawID)
	})
}

// InsertEnriched inserts directly into the enriched stage, resolver-checked.
// Used for stubs materialized during expansion and for keyword-search hits
// queued without an enrichment pass.
func (s *Store) InsertEnriched(ctx context.Context, enr *domain.EnrichedReference) (int64, *domain.Match, error) {
	prepare(&enr.Reference)
	if enr.Title == "" && enr.NormalizedDOI == "" && enr.OpenAlexID == "" {
		return 0, nil, fmt.Errorf("%w: reference needs a title or an identifier", ErrValidation)
	}

	var (
		id    int64
		match *domain.Match
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		m, err := resolve(ctx, tx, &enr.Reference, nil)
		if err != nil {
			return err
		}
		if m != nil {
			match = m
			return logMerge(ctx, tx, &enr.Reference, m, domain.MergeRejected)
		}
		id, err = insertEnriched(ctx, tx, "enriched", enr)
		if err != nil {
			return err
		}
		return trackCorpus(ctx, tx, enr.CorpusID, domain.StageEnriched, id)
	})
	if err != nil {
		return 0, nil, err
	}
	return id, match, nil
}

// EnqueueForDownload marks an enriched row queued. Rows already queued,
// claimed, or downloaded are refused with ErrAlreadyQueued.
func (s *Store) EnqueueForDownload(ctx context.Context, enrichedID int64, priority int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx,
			"SELECT download_state FROM enriched WHERE id = ?", enrichedID).Scan(&state)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("enqueue row %d: %w", enrichedID, ErrNotFound)
		}
		if err != nil {
			return wrapDBError("enqueue", err)
		}
		switch domain.DownloadState(state) {
		case domain.DownloadQueued, domain.DownloadInProgress, domain.DownloadSucceeded:
			return fmt.Errorf("enqueue row %d: %w", enrichedID, ErrAlreadyQueued)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE enriched SET download_state = 'queued', priority = ? WHERE id = ?`,
			priority, enrichedID)
		return wrapDBError("enqueue", err)
	})
}

// CompleteDownloadSuccess moves a claimed enriched row to downloaded,
// recording the artifact descriptors and clearing the claim fields. Returns
// the new downloaded row id.
func (s *Store) CompleteDownloadSuccess(ctx context.Context, enrichedID int64, filePath, checksum, source string) (int64, error) {
	var newID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row, err := getEnrichedTx(ctx, tx, enrichedID)
		if err != nil {
			return err
		}
		if row.DownloadState != domain.DownloadInProgress {
			return fmt.Errorf("complete row %d in state %q: %w", enrichedID, row.DownloadState, ErrNotClaimable)
		}

		row.DownloadState = domain.DownloadSucceeded
		row.ClaimedBy = ""
		row.LeaseExpiresAt = 0
		row.FilePath = filePath
		row.ChecksumPDF = checksum
		row.DownloadSource = source

		newID, err = insertEnriched(ctx, tx, "downloaded", row)
		if err != nil {
			return err
		}
		if err := deleteRow(ctx, tx, domain.StageEnriched, enrichedID); err != nil {
			return err
		}
		return moveCorpus(ctx, tx, row.CorpusID, domain.StageEnriched, enrichedID, domain.StageDownloaded, newID)
	})
	if err != nil {
		return 0, err
	}
	return newID, nil
}

// FailDownload records a failed attempt. Under the retry budget the row
// returns to the queue with a note; at budget exhaustion it moves to the
// failed_download table.
func (s *Store) FailDownload(ctx context.Context, enrichedID int64, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		row, err := getEnrichedTx(ctx, tx, enrichedID)
		if err != nil {
			return err
		}
		if row.DownloadState != domain.DownloadInProgress {
			return fmt.Errorf("fail row %d in state %q: %w", enrichedID, row.DownloadState, ErrNotClaimable)
		}

		attempts := row.DownloadAttempts + 1
		if attempts >= s.MaxDownloadAttempts {
			row.DownloadAttempts = attempts
			row.DownloadState = domain.DownloadFailed
			row.ClaimedBy = ""
			row.LeaseExpiresAt = 0
			row.StatusNotes = reason
			if err := insertFailedDownload(ctx, tx, row, reason); err != nil {
				return err
			}
			return deleteRow(ctx, tx, domain.StageEnriched, enrichedID)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE enriched SET download_state = 'queued', download_attempt_count = ?,
			     download_claimed_by = '', download_lease_expires_at = 0, status_notes = ?
			 WHERE id = ?`, attempts, reason, enrichedID)
		return wrapDBError("fail download", err)
	})
}

// ReleaseExpiredLeases resets every claim whose lease expired before now
// (epoch seconds). Idempotent; returns the number of rows released.
func (s *Store) ReleaseExpiredLeases(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enriched SET download_state = 'queued', download_claimed_by = '',
		     download_lease_expires_at = 0
		 WHERE download_state = 'in_progress' AND download_lease_expires_at < ?`, now)
	if err != nil {
		return 0, wrapDBError("release leases", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBError("release leases", err)
	}
	return n, nil
}

// ListRawBatch returns up to limit raw rows in insertion order.
func (s *Store) ListRawBatch(ctx context.Context, limit int) ([]*domain.Reference, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, %s FROM raw ORDER BY id LIMIT ?", refCols), limit)
	if err != nil {
		return nil, wrapDBError("list raw", err)
	}
	defer rows.Close()

	var refs []*domain.Reference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, wrapDBError("list raw", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// --- helpers ---

func getRawTx(ctx context.Context, tx *sql.Tx, id int64) (*domain.Reference, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, %s FROM raw WHERE id = ?", refCols), id)
	ref, err := scanReference(row)
	if err != nil {
		return nil, wrapDBError("get raw", err)
	}
	return ref, nil
}

func getEnrichedTx(ctx context.Context, tx *sql.Tx, id int64) (*domain.EnrichedReference, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, %s, %s FROM enriched WHERE id = ?", refCols, downloadCols), id)
	ref, err := scanEnriched(row)
	if err != nil {
		return nil, wrapDBError("get enriched", err)
	}
	return ref, nil
}

func deleteRow(ctx context.Context, tx *sql.Tx, stage domain.Stage, id int64) error {
	res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", stage), id)
	if err != nil {
		return wrapDBError("delete "+string(stage), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("delete "+string(stage), err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s row %d: %w", stage, id, ErrNotFound)
	}
	return nil
}

// inheritProvenance carries ingest provenance from the raw row onto the
// enriched record when the matcher did not set it.
func inheritProvenance(enr *domain.EnrichedReference, raw *domain.Reference) {
	if enr.IngestSource == "" {
		enr.IngestSource = raw.IngestSource
	}
	if enr.CorpusID == nil {
		enr.CorpusID = raw.CorpusID
	}
	if len(enr.BibtexEntryJSON) == 0 {
		enr.BibtexEntryJSON = raw.BibtexEntryJSON
	}
	if enr.Year == nil {
		enr.Year = raw.Year
	}
	if len(enr.Authors) == 0 {
		enr.Authors = raw.Authors
	}
}

// mergeIntoStub fills a stub row with the promoted record's metadata. Stub
// identity (id, openalex_id) is kept; everything else comes from the full
// record.
func mergeIntoStub(ctx context.Context, tx *sql.Tx, stubID int64, enr *domain.EnrichedReference) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE enriched SET
		     title = ?, authors = ?, year = ?, doi = ?, entry_type = ?, source = ?,
		     volume = ?, issue = ?, pages = ?, publisher = ?, url = ?, isbn = ?, issn = ?,
		     abstract = ?, keywords = ?, language = ?,
		     normalized_doi = ?, normalized_title = ?, normalized_authors = ?,
		     ingest_source = ?, bibtex_entry_json = COALESCE(?, bibtex_entry_json),
		     raw_json = COALESCE(?, raw_json)
		 WHERE id = ?`,
		enr.Title, marshalList(enr.Authors), nullInt(enr.Year), enr.DOI, enr.EntryType,
		enr.Source, enr.Volume, enr.Issue, enr.Pages, enr.Publisher, enr.URL, enr.ISBN,
		enr.ISSN, enr.Abstract, marshalList(enr.Keywords), enr.Language,
		enr.NormalizedDOI, enr.NormalizedTitle, enr.NormalizedAuthors,
		enr.IngestSource, nullJSON(enr.BibtexEntryJSON), nullJSON(enr.RawJSON), stubID)
	return wrapDBError("merge into stub", err)
}

func insertFailedDownload(ctx context.Context, tx *sql.Tx, row *domain.EnrichedReference, reason string) error {
	query := fmt.Sprintf("INSERT INTO failed_download (%s, %s, reason) VALUES (%s)",
		refCols, downloadCols, placeholders(37))
	args := append(refArgs(&row.Reference), downloadArgs(row)...)
	args = append(args, reason)
	_, err := tx.ExecContext(ctx, query, args...)
	return wrapDBError("insert failed_download", err)
}

func trackCorpus(ctx context.Context, q dbtx, corpusID *int64, stage domain.Stage, rowID int64) error {
	if corpusID == nil {
		return nil
	}
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO corpus_items (corpus_id, table_name, row_id) VALUES (?, ?, ?)`,
		*corpusID, string(stage), rowID)
	return wrapDBError("track corpus", err)
}

func moveCorpus(ctx context.Context, q dbtx, corpusID *int64, from domain.Stage, fromID int64, to domain.Stage, toID int64) error {
	if corpusID == nil {
		return nil
	}
	if _, err := q.ExecContext(ctx,
		`DELETE FROM corpus_items WHERE corpus_id = ? AND table_name = ? AND row_id = ?`,
		*corpusID, string(from), fromID); err != nil {
		return wrapDBError("move corpus item", err)
	}
	return trackCorpus(ctx, q, corpusID, to, toID)
}
