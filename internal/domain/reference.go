package domain

import (
	"encoding/json"
	"time"
)

// Stage identifies one of the pipeline's stage tables. The table names are
// part of the persisted contract; reports and the merge log store them as-is.
type Stage string

const (
	StageRaw              Stage = "raw"
	StageEnriched         Stage = "enriched"
	StageDownloaded       Stage = "downloaded"
	StageFailedEnrichment Stage = "failed_enrichment"
	StageFailedDownload   Stage = "failed_download"
)

// Stages holds the three live tables the dedup resolver scans, in resolution order.
var Stages = []Stage{StageRaw, StageEnriched, StageDownloaded}

// Reference is the common shape shared by every stage table.
type Reference struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Authors    []string `json:"authors,omitempty"`
	Year       *int     `json:"year,omitempty"`
	DOI        string   `json:"doi,omitempty"`
	OpenAlexID string   `json:"openalex_id,omitempty"`
	EntryType  string   `json:"entry_type,omitempty"`
	Source     string   `json:"source,omitempty"` // container / journal
	Volume     string   `json:"volume,omitempty"`
	Issue      string   `json:"issue,omitempty"`
	Pages      string   `json:"pages,omitempty"`
	Publisher  string   `json:"publisher,omitempty"`
	URL        string   `json:"url,omitempty"`
	ISBN       string   `json:"isbn,omitempty"`
	ISSN       string   `json:"issn,omitempty"`
	Abstract   string   `json:"abstract,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Language   string   `json:"language,omitempty"`

	// Derived comparison keys, stored alongside the originals so the
	// resolver can index on them.
	NormalizedDOI     string `json:"normalized_doi,omitempty"`
	NormalizedTitle   string `json:"normalized_title,omitempty"`
	NormalizedAuthors string `json:"normalized_authors,omitempty"`

	IngestSource string `json:"ingest_source,omitempty"`
	CorpusID     *int64 `json:"corpus_id,omitempty"`

	// BibtexEntryJSON preserves the original structured entry verbatim.
	BibtexEntryJSON json.RawMessage `json:"bibtex_entry_json,omitempty"`
	// RawJSON holds the provider-native payload (OpenAlex work, Crossref item).
	RawJSON json.RawMessage `json:"raw_json,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Editors are persons carried in the BibTeX entry but matched like authors
// during enrichment scoring. They are not a stored column; callers pull them
// out of BibtexEntryJSON when needed.

// DownloadState is the download-control state of an enriched row.
type DownloadState string

const (
	DownloadNone       DownloadState = "none"
	DownloadQueued     DownloadState = "queued"
	DownloadInProgress DownloadState = "in_progress"
	DownloadFailed     DownloadState = "failed"
	DownloadSucceeded  DownloadState = "succeeded"
)

// EnrichedReference is a Reference plus the download-control columns carried
// by the enriched and downloaded tables.
type EnrichedReference struct {
	Reference

	DownloadState    DownloadState `json:"download_state"`
	DownloadAttempts int           `json:"download_attempt_count"`
	ClaimedBy        string        `json:"download_claimed_by,omitempty"`
	LeaseExpiresAt   int64         `json:"download_lease_expires_at,omitempty"` // epoch seconds
	StatusNotes      string        `json:"status_notes,omitempty"`
	FilePath         string        `json:"file_path,omitempty"`
	ChecksumPDF      string        `json:"checksum_pdf,omitempty"`
	DownloadSource   string        `json:"download_source,omitempty"`
	Priority         int           `json:"priority"`

	// Provenance for edge backfill: the OpenAlex work that referenced (or is
	// cited by) this row, set on stubs created during expansion.
	SourceWorkID string `json:"source_work_id,omitempty"`
	RelationType string `json:"relation_type,omitempty"`
}

// IsStub reports whether the row was materialized from an identifier alone
// and still awaits full enrichment.
func (r *EnrichedReference) IsStub() bool {
	return r.OpenAlexID != "" && r.DOI == "" && len(r.Authors) == 0
}

// MatchField names the resolver rule that identified a duplicate.
type MatchField string

const (
	MatchDOI              MatchField = "doi"
	MatchOpenAlexID       MatchField = "openalex_id"
	MatchTitleAuthorsYear MatchField = "title_authors_year"
	MatchAliasTitleYear   MatchField = "alias_title_year"
)

// MergeAction is the action recorded in the merge log.
type MergeAction string

const (
	MergeRejected MergeAction = "rejected"
	MergePromoted MergeAction = "promoted"
	MergeMerged   MergeAction = "merged"
)

// Match is a dedup resolver hit: the existing row an incoming candidate
// collided with, and the rule that fired.
type Match struct {
	Stage Stage      `json:"stage"`
	ID    int64      `json:"id"`
	Field MatchField `json:"field"`
}

// MergeEntry is one append-only merge-log record.
type MergeEntry struct {
	ID           int64       `json:"id"`
	CreatedAt    time.Time   `json:"created_at"`
	Fingerprint  string      `json:"fingerprint"`
	MatchedStage Stage       `json:"matched_stage"`
	MatchedID    int64       `json:"matched_id"`
	MatchedField MatchField  `json:"matched_field"`
	Action       MergeAction `json:"action"`
}

// AliasRelation classifies a recorded title/year equivalence.
type AliasRelation string

const (
	AliasTranslation AliasRelation = "translation"
	AliasReprint     AliasRelation = "reprint"
	AliasPreprintOf  AliasRelation = "preprint_of"
	AliasErrataOf    AliasRelation = "errata_of"
	AliasOther       AliasRelation = "other"
)

// Alias maps a known-equivalent title/year (translation, reprint) to a
// canonical row. All relation types are dedup-equivalent.
type Alias struct {
	ID           int64         `json:"id"`
	WorkTable    Stage         `json:"work_table"`
	WorkID       int64         `json:"work_id"`
	Title        string        `json:"alias_title"`
	TitleNorm    string        `json:"alias_title_normalized"`
	Year         *int          `json:"alias_year,omitempty"`
	Language     string        `json:"alias_language,omitempty"`
	Relationship AliasRelation `json:"relationship_type"`
}

// EdgeKind is the direction of a citation edge relative to its source work.
type EdgeKind string

const (
	EdgeReferences EdgeKind = "references"
	EdgeCitedBy    EdgeKind = "cited_by"
)

// CitationEdge is one append-only row of the citation graph.
type CitationEdge struct {
	SourceID string   `json:"source_openalex_id"`
	TargetID string   `json:"target_openalex_id"`
	Kind     EdgeKind `json:"relationship_type"`
}

// Corpus is a user-defined tag partitioning the catalog.
type Corpus struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// IngestRun records one ingest or search invocation for reporting.
type IngestRun struct {
	ID         int64      `json:"id"`
	UUID       string     `json:"uuid"`
	Kind       string     `json:"kind"` // pdf | bibtex | search
	Query      string     `json:"query,omitempty"`
	SourcePDF  string     `json:"source_pdf,omitempty"`
	Filters    string     `json:"filters,omitempty"` // JSON
	CorpusID   *int64     `json:"corpus_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SearchHit is one persisted keyword-search result row.
type SearchHit struct {
	ID         int64           `json:"id"`
	RunID      int64           `json:"run_id"`
	OpenAlexID string          `json:"openalex_id,omitempty"`
	DOI        string          `json:"doi,omitempty"`
	Title      string          `json:"title"`
	Year       *int            `json:"year,omitempty"`
	RawJSON    json.RawMessage `json:"raw_json,omitempty"`
}

// BatchCounters aggregates per-batch outcomes; individual row failures never
// abort a batch.
type BatchCounters struct {
	Processed  int      `json:"processed"`
	Promoted   int      `json:"promoted"`
	Queued     int      `json:"queued"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// AddError appends a short diagnostic, capping the list so one noisy batch
// cannot balloon the report.
func (c *BatchCounters) AddError(msg string) {
	const maxErrors = 20
	if len(c.Errors) < maxErrors {
		c.Errors = append(c.Errors, msg)
	}
	c.Failed++
}
