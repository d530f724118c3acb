package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/biblioflow/backend/internal/domain"
)

// EnsureCorpus returns the id of the named corpus, creating it on first use.
func (s *Store) EnsureCorpus(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: corpus needs a name", ErrValidation)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM corpora WHERE name = ?", name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, wrapDBError("ensure corpus", err)
	}
	res, err := s.db.ExecContext(ctx, "INSERT INTO corpora (name) VALUES (?)", name)
	if err != nil {
		return 0, wrapDBError("ensure corpus", err)
	}
	id, err = res.LastInsertId()
	return id, wrapDBError("ensure corpus", err)
}

// ListCorpora returns every corpus with its item count.
func (s *Store) ListCorpora(ctx context.Context) ([]domain.Corpus, map[int64]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at FROM corpora ORDER BY name")
	if err != nil {
		return nil, nil, wrapDBError("list corpora", err)
	}
	defer rows.Close()

	var corpora []domain.Corpus
	for rows.Next() {
		var c domain.Corpus
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, nil, wrapDBError("list corpora", err)
		}
		corpora = append(corpora, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapDBError("list corpora", err)
	}

	counts := map[int64]int64{}
	crows, err := s.db.QueryContext(ctx,
		"SELECT corpus_id, COUNT(*) FROM corpus_items GROUP BY corpus_id")
	if err != nil {
		return nil, nil, wrapDBError("list corpora", err)
	}
	defer crows.Close()
	for crows.Next() {
		var id, n int64
		if err := crows.Scan(&id, &n); err != nil {
			return nil, nil, wrapDBError("list corpora", err)
		}
		counts[id] = n
	}
	return corpora, counts, crows.Err()
}

// CreateIngestRun persists the start of an ingest or search invocation.
func (s *Store) CreateIngestRun(ctx context.Context, run *domain.IngestRun) (int64, error) {
	if run.UUID == "" {
		run.UUID = uuid.NewString()
	}
	if run.Filters == "" {
		run.Filters = "{}"
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (uuid, kind, query, source_pdf, filters, corpus_id, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.UUID, run.Kind, run.Query, run.SourcePDF, run.Filters,
		nullInt64(run.CorpusID), run.StartedAt)
	if err != nil {
		return 0, wrapDBError("create ingest run", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError("create ingest run", err)
	}
	run.ID = id
	return id, nil
}

// FinishIngestRun stamps the run's completion time.
func (s *Store) FinishIngestRun(ctx context.Context, runID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE ingest_runs SET finished_at = ? WHERE id = ?", time.Now().UTC(), runID)
	return wrapDBError("finish ingest run", err)
}

// InsertSearchHit persists one keyword-search result row under a run.
func (s *Store) InsertSearchHit(ctx context.Context, hit *domain.SearchHit) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO search_results (run_id, openalex_id, doi, title, year, raw_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		hit.RunID, hit.OpenAlexID, hit.DOI, hit.Title, nullInt(hit.Year), nullJSON(hit.RawJSON))
	if err != nil {
		return 0, wrapDBError("insert search hit", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError("insert search hit", err)
	}
	hit.ID = id
	return id, nil
}

// StageCounts returns row counts for every stage table.
func (s *Store) StageCounts(ctx context.Context) (map[domain.Stage]int64, error) {
	counts := map[domain.Stage]int64{}
	stages := []domain.Stage{
		domain.StageRaw, domain.StageEnriched, domain.StageDownloaded,
		domain.StageFailedEnrichment, domain.StageFailedDownload,
	}
	for _, stage := range stages {
		var n int64
		err := s.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s", stage)).Scan(&n)
		if err != nil {
			return nil, wrapDBError("stage counts", err)
		}
		counts[stage] = n
	}
	return counts, nil
}

// ListFilter restricts reference listings for reports and exports.
type ListFilter struct {
	Stage    domain.Stage // "" = enriched + downloaded
	CorpusID *int64
	Year     *int
	Limit    int
	Offset   int
}

// ListReferences returns rows from a stage table for reporting and export.
// The listing is read-only and stable (ordered by id).
func (s *Store) ListReferences(ctx context.Context, f ListFilter) ([]*domain.EnrichedReference, error) {
	stages := []domain.Stage{domain.StageEnriched, domain.StageDownloaded}
	if f.Stage != "" {
		stages = []domain.Stage{f.Stage}
	}
	if f.Limit <= 0 {
		f.Limit = 500
	}

	var out []*domain.EnrichedReference
	for _, stage := range stages {
		if stage == domain.StageRaw || stage == domain.StageFailedEnrichment {
			refs, err := s.listPlain(ctx, stage, f)
			if err != nil {
				return nil, err
			}
			out = append(out, refs...)
			continue
		}
		query := fmt.Sprintf("SELECT id, %s, %s FROM %s WHERE 1=1", refCols, downloadCols, stage)
		var args []any
		if f.CorpusID != nil {
			query += " AND corpus_id = ?"
			args = append(args, *f.CorpusID)
		}
		if f.Year != nil {
			query += " AND year = ?"
			args = append(args, *f.Year)
		}
		query += " ORDER BY id LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, wrapDBError("list references", err)
		}
		for rows.Next() {
			ref, err := scanEnriched(rows)
			if err != nil {
				rows.Close()
				return nil, wrapDBError("list references", err)
			}
			out = append(out, ref)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, wrapDBError("list references", err)
		}
	}
	return out, nil
}

// listPlain lists stages that carry no download columns, widening rows into
// the enriched shape for a uniform report surface.
func (s *Store) listPlain(ctx context.Context, stage domain.Stage, f ListFilter) ([]*domain.EnrichedReference, error) {
	query := fmt.Sprintf("SELECT id, %s FROM %s WHERE 1=1", refCols, stage)
	var args []any
	if f.CorpusID != nil {
		query += " AND corpus_id = ?"
		args = append(args, *f.CorpusID)
	}
	if f.Year != nil {
		query += " AND year = ?"
		args = append(args, *f.Year)
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list "+string(stage), err)
	}
	defer rows.Close()

	var out []*domain.EnrichedReference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, wrapDBError("list "+string(stage), err)
		}
		out = append(out, &domain.EnrichedReference{Reference: *ref, DownloadState: domain.DownloadNone})
	}
	return out, rows.Err()
}

// DownloadedFilePaths returns every recorded artifact path, for the
// read-only orphan-file reconciliation report.
func (s *Store) DownloadedFilePaths(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT file_path FROM downloaded WHERE file_path != ''")
	if err != nil {
		return nil, wrapDBError("downloaded paths", err)
	}
	defer rows.Close()

	paths := map[string]bool{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, wrapDBError("downloaded paths", err)
		}
		paths[p] = true
	}
	return paths, rows.Err()
}
