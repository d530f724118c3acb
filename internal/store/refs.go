package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/normalize"
)

// Column lists shared by every stage table. Order here must match the
// argument builders below.
const refCols = `title, authors, year, doi, openalex_id, entry_type, source, volume, issue,
    pages, publisher, url, isbn, issn, abstract, keywords, language,
    normalized_doi, normalized_title, normalized_authors,
    ingest_source, corpus_id, bibtex_entry_json, raw_json, created_at`

const downloadCols = `download_state, download_attempt_count, download_claimed_by,
    download_lease_expires_at, status_notes, file_path, checksum_pdf, download_source,
    priority, source_work_id, relation_type`

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// prepare fills the derived comparison keys and timestamps before a row is
// written. The stored openalex_id is always the normalized W token.
func prepare(ref *domain.Reference) {
	ref.NormalizedDOI = normalize.DOIKey(ref.DOI)
	if id := normalize.OpenAlexID(ref.OpenAlexID); id != "" {
		ref.OpenAlexID = id
	}
	ref.NormalizedTitle = normalize.Title(ref.Title)
	ref.NormalizedAuthors = normalize.Authors(ref.Authors)
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
}

func marshalList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	enc, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(enc)
}

func unmarshalList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil
	}
	return list
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// refArgs builds the insert arguments in refCols order.
func refArgs(ref *domain.Reference) []any {
	return []any{
		ref.Title, marshalList(ref.Authors), nullInt(ref.Year), ref.DOI, ref.OpenAlexID,
		ref.EntryType, ref.Source, ref.Volume, ref.Issue, ref.Pages, ref.Publisher,
		ref.URL, ref.ISBN, ref.ISSN, ref.Abstract, marshalList(ref.Keywords), ref.Language,
		ref.NormalizedDOI, ref.NormalizedTitle, ref.NormalizedAuthors,
		ref.IngestSource, nullInt64(ref.CorpusID), nullJSON(ref.BibtexEntryJSON),
		nullJSON(ref.RawJSON), ref.CreatedAt,
	}
}

func downloadArgs(ref *domain.EnrichedReference) []any {
	state := ref.DownloadState
	if state == "" {
		state = domain.DownloadNone
	}
	return []any{
		string(state), ref.DownloadAttempts, ref.ClaimedBy, ref.LeaseExpiresAt,
		ref.StatusNotes, ref.FilePath, ref.ChecksumPDF, ref.DownloadSource,
		ref.Priority, ref.SourceWorkID, ref.RelationType,
	}
}

func insertReference(ctx context.Context, q dbtx, table string, ref *domain.Reference) (int64, error) {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, refCols, placeholders(25))
	res, err := q.ExecContext(ctx, query, refArgs(ref)...)
	if err != nil {
		return 0, wrapDBError("insert "+table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError("insert "+table, err)
	}
	ref.ID = id
	return id, nil
}

func insertEnriched(ctx context.Context, q dbtx, table string, ref *domain.EnrichedReference) (int64, error) {
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s)",
		table, refCols, downloadCols, placeholders(36))
	args := append(refArgs(&ref.Reference), downloadArgs(ref)...)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapDBError("insert "+table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapDBError("insert "+table, err)
	}
	ref.ID = id
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanReference reads "id, <refCols>" into a Reference.
func scanReference(row rowScanner) (*domain.Reference, error) {
	var (
		ref             domain.Reference
		authors, kws    string
		year, corpusID  sql.NullInt64
		bibtexJS, rawJS sql.NullString
	)
	err := row.Scan(
		&ref.ID, &ref.Title, &authors, &year, &ref.DOI, &ref.OpenAlexID,
		&ref.EntryType, &ref.Source, &ref.Volume, &ref.Issue, &ref.Pages,
		&ref.Publisher, &ref.URL, &ref.ISBN, &ref.ISSN, &ref.Abstract, &kws,
		&ref.Language, &ref.NormalizedDOI, &ref.NormalizedTitle, &ref.NormalizedAuthors,
		&ref.IngestSource, &corpusID, &bibtexJS, &rawJS, &ref.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ref.Authors = unmarshalList(authors)
	ref.Keywords = unmarshalList(kws)
	if year.Valid {
		y := int(year.Int64)
		ref.Year = &y
	}
	if corpusID.Valid {
		c := corpusID.Int64
		ref.CorpusID = &c
	}
	if bibtexJS.Valid {
		ref.BibtexEntryJSON = json.RawMessage(bibtexJS.String)
	}
	if rawJS.Valid {
		ref.RawJSON = json.RawMessage(rawJS.String)
	}
	return &ref, nil
}

// scanEnriched reads "id, <refCols>, <downloadCols>" into an EnrichedReference.
func scanEnriched(row rowScanner) (*domain.EnrichedReference, error) {
	var (
		ref             domain.EnrichedReference
		authors, kws    string
		year, corpusID  sql.NullInt64
		bibtexJS, rawJS sql.NullString
		state           string
	)
	err := row.Scan(
		&ref.ID, &ref.Title, &authors, &year, &ref.DOI, &ref.OpenAlexID,
		&ref.EntryType, &ref.Source, &ref.Volume, &ref.Issue, &ref.Pages,
		&ref.Publisher, &ref.URL, &ref.ISBN, &ref.ISSN, &ref.Abstract, &kws,
		&ref.Language, &ref.NormalizedDOI, &ref.NormalizedTitle, &ref.NormalizedAuthors,
		&ref.IngestSource, &corpusID, &bibtexJS, &rawJS, &ref.CreatedAt,
		&state, &ref.DownloadAttempts, &ref.ClaimedBy, &ref.LeaseExpiresAt,
		&ref.StatusNotes, &ref.FilePath, &ref.ChecksumPDF, &ref.DownloadSource,
		&ref.Priority, &ref.SourceWorkID, &ref.RelationType,
	)
	if err != nil {
		return nil, err
	}
	ref.DownloadState = domain.DownloadState(state)
	ref.Authors = unmarshalList(authors)
	ref.Keywords = unmarshalList(kws)
	if year.Valid {
		y := int(year.Int64)
		ref.Year = &y
	}
	if corpusID.Valid {
		c := corpusID.Int64
		ref.CorpusID = &c
	}
	if bibtexJS.Valid {
		ref.BibtexEntryJSON = json.RawMessage(bibtexJS.String)
	}
	if rawJS.Valid {
		ref.RawJSON = json.RawMessage(rawJS.String)
	}
	return &ref, nil
}

// GetRaw returns the raw row by id, or ErrNotFound.
func (s *Store) GetRaw(ctx context.Context, id int64) (*domain.Reference, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, %s FROM raw WHERE id = ?", refCols), id)
	ref, err := scanReference(row)
	if err != nil {
		return nil, wrapDBError("get raw", err)
	}
	return ref, nil
}

// GetEnriched returns the enriched row by id, or ErrNotFound.
func (s *Store) GetEnriched(ctx context.Context, id int64) (*domain.EnrichedReference, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, %s, %s FROM enriched WHERE id = ?", refCols, downloadCols), id)
	ref, err := scanEnriched(row)
	if err != nil {
		return nil, wrapDBError("get enriched", err)
	}
	return ref, nil
}

// GetDownloaded returns the downloaded row by id, or ErrNotFound.
func (s *Store) GetDownloaded(ctx context.Context, id int64) (*domain.EnrichedReference, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id, %s, %s FROM downloaded WHERE id = ?", refCols, downloadCols), id)
	ref, err := scanEnriched(row)
	if err != nil {
		return nil, wrapDBError("get downloaded", err)
	}
	return ref, nil
}
