package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/store"
)

// IngestReferences feeds parsed references through the dedup resolver into
// the raw stage. A duplicate counts, a validation failure counts, neither
// stops the batch.
func (p *Pipeline) IngestReferences(ctx context.Context, refs []*domain.Reference) (domain.BatchCounters, error) {
	var counters domain.BatchCounters
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return counters, err
		}
		counters.Processed++

		_, match, err := p.store.InsertRaw(ctx, ref)
		switch {
		case err != nil && errors.Is(err, store.ErrValidation):
			counters.AddError(fmt.Sprintf("entry %d: %v", i+1, err))
		case err != nil:
			return counters, fmt.Errorf("insert raw: %w", err)
		case match != nil:
			counters.Duplicates++
		default:
			counters.Promoted++
		}

		if counters.Processed%50 == 0 {
			log.Printf("Progress: %d/%d ingested (%d new, %d duplicates)",
				counters.Processed, len(refs), counters.Promoted, counters.Duplicates)
		}
	}
	log.Printf("Ingest complete: %d processed, %d new, %d duplicates, %d invalid",
		counters.Processed, counters.Promoted, counters.Duplicates, counters.Failed)
	return counters, nil
}
