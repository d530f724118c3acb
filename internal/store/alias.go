package store

import (
	"context"
	"fmt"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/normalize"
)

// AddAlias records a known-equivalent title/year (translation, reprint,
// preprint, errata) for an existing row. The resolver treats every relation
// type as dedup-equivalent.
func (s *Store) AddAlias(ctx context.Context, a *domain.Alias) (int64, error) {
	if a.WorkTable == "" || a.WorkID == 0 || a.Title == "" {
		return 0, fmt.Errorf("%w: alias needs work_table, work_id and a title", ErrValidation)
	}
	ok, err := rowExists(ctx, s.db, a.WorkTable, a.WorkID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("alias target %s/%d: %w", a.WorkTable, a.WorkID, ErrNotFound)
	}
	if a.Relationship == "" {
		a.Relationship = domain.AliasOther
	}
	a.TitleNorm = normalize.Title(a.Title)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO title_aliases (work_table, work_id, alias_title, alias_title_normalized,
		     alias_year, alias_language, relationship_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(a.WorkTable), a.WorkID, a.Title, a.TitleNorm,
		nullInt(a.Year), a.Language, string(a.Relationship))
	if err != nil {
		return 0, wrapDBError("add alias", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError("add alias", err)
	}
	a.ID = id
	return id, nil
}

// LookupByAlias returns the canonical rows whose recorded alias matches the
// normalized title with the candidate year within ±1 of the alias year.
func (s *Store) LookupByAlias(ctx context.Context, title string, year int) ([]domain.Match, error) {
	titleNorm := normalize.Title(title)
	if titleNorm == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT work_table, work_id FROM title_aliases
		 WHERE alias_title_normalized = ? AND alias_year IS NOT NULL
		   AND alias_year BETWEEN ? AND ?
		 ORDER BY id`, titleNorm, year-1, year+1)
	if err != nil {
		return nil, wrapDBError("lookup alias", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		var table string
		var id int64
		if err := rows.Scan(&table, &id); err != nil {
			return nil, wrapDBError("lookup alias", err)
		}
		matches = append(matches, domain.Match{
			Stage: domain.Stage(table),
			ID:    id,
			Field: domain.MatchAliasTitleYear,
		})
	}
	return matches, rows.Err()
}
