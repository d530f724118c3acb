package export

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/store"
)

func intp(y int) *int { return &y }

func sampleRefs() []*domain.EnrichedReference {
	return []*domain.EnrichedReference{
		{Reference: domain.Reference{
			Title:      "The Nature of the Firm",
			Authors:    []string{"R. H. Coase"},
			Year:       intp(1937),
			DOI:        "10.1111/j.1468-0335.1937.tb00002.x",
			OpenAlexID: "W2029393004",
			Source:     "Economica",
			Volume:     "4",
			Issue:      "16",
			Pages:      "386-405",
		}},
		{Reference: domain.Reference{
			Title:   "The Problem of Social Cost",
			Authors: []string{"R. H. Coase"},
			Year:    intp(1960),
			DOI:     "10.1086/466560",
			Source:  "The Journal of Law and Economics",
		}},
	}
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleRefs()))

	refs, err := ReadJSON(&buf)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "The Nature of the Firm", refs[0].Title)
	assert.Equal(t, "10.1111/j.1468-0335.1937.tb00002.x", refs[0].DOI)
	assert.Zero(t, refs[0].ID, "row ids must not survive export")
	assert.Empty(t, refs[0].NormalizedDOI, "derived keys are rebuilt on ingest")
}

// Exporting a catalog and re-ingesting the snapshot yields zero net
// insertions: every record is rejected as a duplicate.
func TestSnapshotReingestIsNetZero(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(ctx, ":memory:")
	require.NoError(t, err)
	defer st.Close()

	for _, ref := range sampleRefs() {
		r := ref.Reference
		_, match, err := st.InsertRaw(ctx, &r)
		require.NoError(t, err)
		require.Nil(t, match)
	}

	listed, err := st.ListReferences(ctx, store.ListFilter{Stage: domain.StageRaw})
	require.NoError(t, err)
	require.Len(t, listed, 2)

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, listed))
	back, err := ReadJSON(&buf)
	require.NoError(t, err)

	for _, ref := range back {
		id, match, err := st.InsertRaw(ctx, ref)
		require.NoError(t, err)
		assert.NotNil(t, match, "re-ingested %q must be rejected", ref.Title)
		assert.Zero(t, id)
	}

	counts, err := st.StageCounts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, counts[domain.StageRaw])
}

func TestBibTeXRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBibTeX(&buf, sampleRefs()))

	out := buf.String()
	assert.Contains(t, out, "@article{coase1937")
	assert.Contains(t, out, "@article{coase1960")

	refs, err := ParseBibTeX(strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "The Nature of the Firm", refs[0].Title)
	assert.Equal(t, []string{"R. H. Coase"}, refs[0].Authors)
	require.NotNil(t, refs[0].Year)
	assert.Equal(t, 1937, *refs[0].Year)
	assert.Equal(t, "10.1111/j.1468-0335.1937.tb00002.x", refs[0].DOI)
	assert.NotEmpty(t, refs[0].BibtexEntryJSON, "original entry must be preserved")
}

func TestParseBibTeXEditors(t *testing.T) {
	src := `@incollection{smith1990,
  title = {A Chapter},
  author = {Adam Smith},
  editor = {Edna Editor},
  booktitle = {The Collection},
  year = {1990},
}`
	refs, err := ParseBibTeX(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "The Collection", refs[0].Source)
	assert.Contains(t, string(refs[0].BibtexEntryJSON), "Edna Editor")
}

func TestWritePDFZip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1_the-nature-of-the-firm.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))

	refs := sampleRefs()
	refs[0].FilePath = path
	refs[0].DownloadState = domain.DownloadSucceeded
	// refs[1] has no file on disk.
	refs[1].FilePath = filepath.Join(dir, "missing.pdf")

	var buf bytes.Buffer
	added, skipped, err := WritePDFZip(&buf, refs)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, skipped)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "1_the-nature-of-the-firm.pdf", zr.File[0].Name)
}

func TestWriteBundleZip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1_firm.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))

	refs := sampleRefs()
	refs[0].FilePath = path
	edges := []domain.CitationEdge{{SourceID: "W1", TargetID: "W2", Kind: domain.EdgeReferences}}

	var buf bytes.Buffer
	manifest, err := WriteBundleZip(&buf, refs, edges)
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.References)
	assert.Equal(t, 1, manifest.PDFs)
	assert.Equal(t, 1, manifest.Edges)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"catalog.json", "catalog.bib", "edges.json", "manifest.json", "pdfs/1_firm.pdf"} {
		assert.True(t, names[want], "bundle missing %s", want)
	}
}
