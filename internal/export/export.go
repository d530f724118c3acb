// Package export writes catalog snapshots (JSON, BibTeX, zip bundles) and
// reads them back for re-ingest.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/biblioflow/backend/internal/domain"
)

// Snapshot is the JSON export envelope. Records carry the full enriched
// shape so a snapshot is also a backup.
type Snapshot struct {
	ExportedAt time.Time                   `json:"exported_at"`
	Count      int                         `json:"count"`
	References []*domain.EnrichedReference `json:"references"`
}

// WriteJSON writes an indented snapshot of the given references.
func WriteJSON(w io.Writer, refs []*domain.EnrichedReference) error {
	snap := Snapshot{
		ExportedAt: time.Now().UTC(),
		Count:      len(refs),
		References: refs,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// ReadJSON parses a snapshot back into plain references suitable for
// re-ingest. Row ids, stage state, and file paths are dropped; identifiers
// and the title/authors/year triple survive, so re-ingesting a snapshot
// into the same catalog rejects every record as a duplicate.
func ReadJSON(r io.Reader) ([]*domain.Reference, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	refs := make([]*domain.Reference, 0, len(snap.References))
	for _, enr := range snap.References {
		ref := enr.Reference
		ref.ID = 0
		ref.NormalizedDOI = ""
		ref.NormalizedTitle = ""
		ref.NormalizedAuthors = ""
		ref.CreatedAt = time.Time{}
		refs = append(refs, &ref)
	}
	return refs, nil
}
