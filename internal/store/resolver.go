package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/biblioflow/backend/internal/domain"
)

// The dedup resolver decides whether a candidate collides with any existing
// record in any live stage. It always runs inside the same transaction as
// the insert it guards, so lookup + insert are atomic per candidate.
//
// Resolution order (first hit wins):
//  1. normalized DOI across raw, enriched, downloaded
//  2. openalex_id across the same tables
//  3. (normalized_title, normalized_authors, year) triple, year 4-digit
//  4. alias index, with ±1 year tolerance for publication-year drift
type exclusion struct {
	stage domain.Stage
	id    int64
}

func resolve(ctx context.Context, q dbtx, ref *domain.Reference, skip *exclusion) (*domain.Match, error) {
	if ref.NormalizedDOI != "" {
		m, err := matchColumn(ctx, q, "normalized_doi", ref.NormalizedDOI, domain.MatchDOI, skip)
		if m != nil || err != nil {
			return m, err
		}
	}

	if ref.OpenAlexID != "" {
		m, err := matchColumn(ctx, q, "openalex_id", ref.OpenAlexID, domain.MatchOpenAlexID, skip)
		if m != nil || err != nil {
			return m, err
		}
	}

	// A candidate carrying a canonical identifier is identified by it alone;
	// the weaker title rules never merge an identified work with an
	// unidentified one (divergent extractions of the same work stand until
	// one of them gains the identifier).
	if ref.NormalizedDOI != "" || ref.OpenAlexID != "" {
		return nil, nil
	}

	if ref.NormalizedTitle != "" && ref.NormalizedAuthors != "" && is4DigitYear(ref.Year) {
		m, err := matchTriple(ctx, q, ref, skip)
		if m != nil || err != nil {
			return m, err
		}
	}

	if ref.NormalizedTitle != "" && ref.Year != nil {
		return matchAlias(ctx, q, ref.NormalizedTitle, *ref.Year, skip)
	}
	return nil, nil
}

func is4DigitYear(y *int) bool {
	return y != nil && *y >= 1000 && *y <= 9999
}

func matchColumn(ctx context.Context, q dbtx, column, value string, field domain.MatchField, skip *exclusion) (*domain.Match, error) {
	for _, stage := range domain.Stages {
		query := fmt.Sprintf("SELECT id FROM %s WHERE %s = ? LIMIT 2", stage, column)
		rows, err := q.QueryContext(ctx, query, value)
		if err != nil {
			return nil, wrapDBError("resolve "+column, err)
		}
		match, err := firstUnskipped(rows, stage, field, skip)
		if err != nil {
			return nil, err
		}
		if match != nil {
			return match, nil
		}
	}
	return nil, nil
}

func matchTriple(ctx context.Context, q dbtx, ref *domain.Reference, skip *exclusion) (*domain.Match, error) {
	for _, stage := range domain.Stages {
		query := fmt.Sprintf(
			"SELECT id FROM %s WHERE normalized_title = ? AND normalized_authors = ? AND year = ? LIMIT 2", stage)
		rows, err := q.QueryContext(ctx, query, ref.NormalizedTitle, ref.NormalizedAuthors, *ref.Year)
		if err != nil {
			return nil, wrapDBError("resolve triple", err)
		}
		match, err := firstUnskipped(rows, stage, domain.MatchTitleAuthorsYear, skip)
		if err != nil {
			return nil, err
		}
		if match != nil {
			return match, nil
		}
	}
	return nil, nil
}

// matchAlias consults the alias index. A hit requires the normalized title
// to match an alias and the candidate year to fall within ±1 of the alias
// year. The aliased row must still exist in its table.
func matchAlias(ctx context.Context, q dbtx, titleNorm string, year int, skip *exclusion) (*domain.Match, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT work_table, work_id FROM title_aliases
		 WHERE alias_title_normalized = ? AND alias_year IS NOT NULL
		   AND alias_year BETWEEN ? AND ?
		 ORDER BY id`, titleNorm, year-1, year+1)
	if err != nil {
		return nil, wrapDBError("resolve alias", err)
	}
	defer rows.Close()

	for rows.Next() {
		var workTable string
		var workID int64
		if err := rows.Scan(&workTable, &workID); err != nil {
			return nil, wrapDBError("resolve alias", err)
		}
		stage := domain.Stage(workTable)
		if skip != nil && skip.stage == stage && skip.id == workID {
			continue
		}
		ok, err := rowExists(ctx, q, stage, workID)
		if err != nil {
			return nil, err
		}
		if ok {
			return &domain.Match{Stage: stage, ID: workID, Field: domain.MatchAliasTitleYear}, nil
		}
	}
	return nil, rows.Err()
}

func firstUnskipped(rows *sql.Rows, stage domain.Stage, field domain.MatchField, skip *exclusion) (*domain.Match, error) {
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("resolve scan", err)
		}
		if skip != nil && skip.stage == stage && skip.id == id {
			continue
		}
		return &domain.Match{Stage: stage, ID: id, Field: field}, nil
	}
	return nil, rows.Err()
}

func rowExists(ctx context.Context, q dbtx, stage domain.Stage, id int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", stage), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapDBError("row exists", err)
	}
	return true, nil
}

// fingerprint is the incoming candidate's identity as recorded in the merge
// log: the strongest key it carries.
func fingerprint(ref *domain.Reference) string {
	switch {
	case ref.NormalizedDOI != "":
		return "doi:" + ref.NormalizedDOI
	case ref.OpenAlexID != "":
		return "openalex:" + ref.OpenAlexID
	default:
		year := 0
		if ref.Year != nil {
			year = *ref.Year
		}
		return fmt.Sprintf("title:%s|authors:%s|year:%d",
			ref.NormalizedTitle, ref.NormalizedAuthors, year)
	}
}

// logMerge appends one merge-log entry. The log is strictly append-only; its
// order reflects real-time arrival of duplicates.
func logMerge(ctx context.Context, q dbtx, ref *domain.Reference, match *domain.Match, action domain.MergeAction) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO merge_log (fingerprint, matched_table, matched_id, matched_field, action)
		 VALUES (?, ?, ?, ?, ?)`,
		fingerprint(ref), string(match.Stage), match.ID, string(match.Field), string(action))
	return wrapDBError("log merge", err)
}

// MergeLog returns the most recent merge-log entries, newest first.
func (s *Store) MergeLog(ctx context.Context, limit int) ([]domain.MergeEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, fingerprint, matched_table, matched_id, matched_field, action
		 FROM merge_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapDBError("merge log", err)
	}
	defer rows.Close()

	var entries []domain.MergeEntry
	for rows.Next() {
		var e domain.MergeEntry
		var stage, field, action string
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.Fingerprint, &stage, &e.MatchedID, &field, &action); err != nil {
			return nil, wrapDBError("merge log", err)
		}
		e.MatchedStage = domain.Stage(stage)
		e.MatchedField = domain.MatchField(field)
		e.Action = domain.MergeAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MergeLogSize returns the total number of dedup decisions recorded.
func (s *Store) MergeLogSize(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM merge_log").Scan(&n)
	return n, wrapDBError("merge log size", err)
}
