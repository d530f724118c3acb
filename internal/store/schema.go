package store

// refColumns is the column list shared by every stage table. Keeping one
// definition means a reference survives stage moves without field loss.
const refColumns = `
    title TEXT NOT NULL DEFAULT '',
    authors TEXT NOT NULL DEFAULT '[]',
    year INTEGER,
    doi TEXT NOT NULL DEFAULT '',
    openalex_id TEXT NOT NULL DEFAULT '',
    entry_type TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    volume TEXT NOT NULL DEFAULT '',
    issue TEXT NOT NULL DEFAULT '',
    pages TEXT NOT NULL DEFAULT '',
    publisher TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    isbn TEXT NOT NULL DEFAULT '',
    issn TEXT NOT NULL DEFAULT '',
    abstract TEXT NOT NULL DEFAULT '',
    keywords TEXT NOT NULL DEFAULT '[]',
    language TEXT NOT NULL DEFAULT '',
    normalized_doi TEXT NOT NULL DEFAULT '',
    normalized_title TEXT NOT NULL DEFAULT '',
    normalized_authors TEXT NOT NULL DEFAULT '',
    ingest_source TEXT NOT NULL DEFAULT '',
    corpus_id INTEGER REFERENCES corpora(id),
    bibtex_entry_json TEXT,
    raw_json TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP`

// downloadColumns are the download-control columns carried by enriched and
// downloaded rows.
const downloadColumns = `
    download_state TEXT NOT NULL DEFAULT 'none'
        CHECK (download_state IN ('none','queued','in_progress','failed','succeeded')),
    download_attempt_count INTEGER NOT NULL DEFAULT 0,
    download_claimed_by TEXT NOT NULL DEFAULT '',
    download_lease_expires_at INTEGER NOT NULL DEFAULT 0,
    status_notes TEXT NOT NULL DEFAULT '',
    file_path TEXT NOT NULL DEFAULT '',
    checksum_pdf TEXT NOT NULL DEFAULT '',
    download_source TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 0,
    source_work_id TEXT NOT NULL DEFAULT '',
    relation_type TEXT NOT NULL DEFAULT ''`

const schema = `
CREATE TABLE IF NOT EXISTS corpora (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS raw (
    id INTEGER PRIMARY KEY AUTOINCREMENT,` + refColumns + `
);

CREATE TABLE IF NOT EXISTS enriched (
    id INTEGER PRIMARY KEY AUTOINCREMENT,` + refColumns + `,` + downloadColumns + `
);

CREATE TABLE IF NOT EXISTS downloaded (
    id INTEGER PRIMARY KEY AUTOINCREMENT,` + refColumns + `,` + downloadColumns + `
);

CREATE TABLE IF NOT EXISTS failed_enrichment (
    id INTEGER PRIMARY KEY AUTOINCREMENT,` + refColumns + `,
    reason TEXT NOT NULL DEFAULT '',
    failed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS failed_download (
    id INTEGER PRIMARY KEY AUTOINCREMENT,` + refColumns + `,` + downloadColumns + `,
    reason TEXT NOT NULL DEFAULT '',
    failed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Append-only audit of every dedup decision.
CREATE TABLE IF NOT EXISTS merge_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    fingerprint TEXT NOT NULL,
    matched_table TEXT NOT NULL,
    matched_id INTEGER NOT NULL,
    matched_field TEXT NOT NULL
        CHECK (matched_field IN ('doi','openalex_id','title_authors_year','alias_title_year')),
    action TEXT NOT NULL
        CHECK (action IN ('rejected','promoted','merged'))
);

CREATE TABLE IF NOT EXISTS title_aliases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    work_table TEXT NOT NULL,
    work_id INTEGER NOT NULL,
    alias_title TEXT NOT NULL DEFAULT '',
    alias_title_normalized TEXT NOT NULL,
    alias_year INTEGER,
    alias_language TEXT NOT NULL DEFAULT '',
    relationship_type TEXT NOT NULL DEFAULT 'other'
        CHECK (relationship_type IN ('translation','reprint','preprint_of','errata_of','other')),
    UNIQUE (work_table, work_id, alias_title_normalized)
);

-- Append-only; never deleted by the pipeline.
CREATE TABLE IF NOT EXISTS citation_edges (
    source_openalex_id TEXT NOT NULL,
    target_openalex_id TEXT NOT NULL,
    relationship_type TEXT NOT NULL
        CHECK (relationship_type IN ('references','cited_by')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (source_openalex_id, target_openalex_id, relationship_type)
);

CREATE TABLE IF NOT EXISTS corpus_items (
    corpus_id INTEGER NOT NULL REFERENCES corpora(id),
    table_name TEXT NOT NULL,
    row_id INTEGER NOT NULL,
    UNIQUE (corpus_id, table_name, row_id)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('pdf','bibtex','search')),
    query TEXT NOT NULL DEFAULT '',
    source_pdf TEXT NOT NULL DEFAULT '',
    filters TEXT NOT NULL DEFAULT '{}',
    corpus_id INTEGER REFERENCES corpora(id),
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS search_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES ingest_runs(id),
    openalex_id TEXT NOT NULL DEFAULT '',
    doi TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    year INTEGER,
    raw_json TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_raw_norm_doi ON raw(normalized_doi) WHERE normalized_doi != '';
CREATE INDEX IF NOT EXISTS idx_raw_openalex ON raw(openalex_id) WHERE openalex_id != '';
CREATE INDEX IF NOT EXISTS idx_raw_triple ON raw(normalized_title, normalized_authors, year);
CREATE INDEX IF NOT EXISTS idx_enriched_norm_doi ON enriched(normalized_doi) WHERE normalized_doi != '';
CREATE INDEX IF NOT EXISTS idx_enriched_openalex ON enriched(openalex_id) WHERE openalex_id != '';
CREATE INDEX IF NOT EXISTS idx_enriched_triple ON enriched(normalized_title, normalized_authors, year);
CREATE INDEX IF NOT EXISTS idx_enriched_queue ON enriched(download_state, priority, id);
CREATE INDEX IF NOT EXISTS idx_downloaded_norm_doi ON downloaded(normalized_doi) WHERE normalized_doi != '';
CREATE INDEX IF NOT EXISTS idx_downloaded_openalex ON downloaded(openalex_id) WHERE openalex_id != '';
CREATE INDEX IF NOT EXISTS idx_downloaded_triple ON downloaded(normalized_title, normalized_authors, year);
CREATE INDEX IF NOT EXISTS idx_aliases_title ON title_aliases(alias_title_normalized);
CREATE INDEX IF NOT EXISTS idx_edges_target ON citation_edges(target_openalex_id);
`
