package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/biblioflow/backend/internal/domain"
)

// WritePDFZip archives every downloaded reference's PDF. Rows without a
// file on disk are skipped and counted; a missing file is not an error
// because the catalog is authoritative, not the filesystem.
func WritePDFZip(w io.Writer, refs []*domain.EnrichedReference) (added, skipped int, err error) {
	zw := zip.NewWriter(w)
	added, skipped, err = addPDFs(zw, "", refs)
	if err != nil {
		zw.Close()
		return added, skipped, err
	}
	return added, skipped, zw.Close()
}

// BundleManifest describes the contents of a bundle_zip export.
type BundleManifest struct {
	CreatedAt  time.Time `json:"created_at"`
	References int       `json:"references"`
	PDFs       int       `json:"pdfs"`
	MissingPDF int       `json:"missing_pdfs"`
	Edges      int       `json:"edges"`
}

// WriteBundleZip emits one archive holding the JSON snapshot, the BibTeX
// rendering, the PDFs, and a manifest.
func WriteBundleZip(w io.Writer, refs []*domain.EnrichedReference, edges []domain.CitationEdge) (BundleManifest, error) {
	zw := zip.NewWriter(w)
	manifest := BundleManifest{CreatedAt: time.Now().UTC(), References: len(refs), Edges: len(edges)}

	var catalog bytes.Buffer
	if err := WriteJSON(&catalog, refs); err != nil {
		zw.Close()
		return manifest, err
	}
	if err := addFile(zw, "catalog.json", catalog.Bytes()); err != nil {
		zw.Close()
		return manifest, err
	}

	var bib bytes.Buffer
	if err := WriteBibTeX(&bib, refs); err != nil {
		zw.Close()
		return manifest, err
	}
	if err := addFile(zw, "catalog.bib", bib.Bytes()); err != nil {
		zw.Close()
		return manifest, err
	}

	if len(edges) > 0 {
		enc, err := json.MarshalIndent(edges, "", "  ")
		if err != nil {
			zw.Close()
			return manifest, fmt.Errorf("encode edges: %w", err)
		}
		if err := addFile(zw, "edges.json", enc); err != nil {
			zw.Close()
			return manifest, err
		}
	}

	added, skipped, err := addPDFs(zw, "pdfs/", refs)
	if err != nil {
		zw.Close()
		return manifest, err
	}
	manifest.PDFs = added
	manifest.MissingPDF = skipped

	enc, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		zw.Close()
		return manifest, fmt.Errorf("encode manifest: %w", err)
	}
	if err := addFile(zw, "manifest.json", enc); err != nil {
		zw.Close()
		return manifest, err
	}
	return manifest, zw.Close()
}

func addPDFs(zw *zip.Writer, prefix string, refs []*domain.EnrichedReference) (added, skipped int, err error) {
	for _, ref := range refs {
		if ref.FilePath == "" {
			continue
		}
		f, err := os.Open(ref.FilePath)
		if err != nil {
			skipped++
			continue
		}
		entry, err := zw.Create(prefix + filepath.Base(ref.FilePath))
		if err != nil {
			f.Close()
			return added, skipped, fmt.Errorf("create zip entry: %w", err)
		}
		if _, err := io.Copy(entry, f); err != nil {
			f.Close()
			return added, skipped, fmt.Errorf("copy %s: %w", ref.FilePath, err)
		}
		f.Close()
		added++
	}
	return added, skipped, nil
}

func addFile(zw *zip.Writer, name string, data []byte) error {
	entry, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", name, err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("write zip entry %s: %w", name, err)
	}
	return nil
}
