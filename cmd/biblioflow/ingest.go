package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/export"
	"github.com/biblioflow/backend/internal/extract"
)

var ingestPDFCmd = &cobra.Command{
	Use:   "ingest-pdf <file.pdf>...",
	Short: "Extract bibliographies from PDFs and ingest the references",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngestPDF,
}

var ingestBibtexCmd = &cobra.Command{
	Use:   "ingest-bibtex <file.bib>...",
	Short: "Parse BibTeX files and ingest the entries",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngestBibtex,
}

func init() {
	rootCmd.AddCommand(ingestPDFCmd, ingestBibtexCmd)
}

func runIngestPDF(cmd *cobra.Command, args []string) error {
	if cfg.Extractor.APIKey == "" {
		return fmt.Errorf("ingest-pdf needs BIBLIOFLOW_EXTRACTOR_API_KEY")
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	cid, err := corpusID(ctx, st)
	if err != nil {
		return err
	}
	p, _ := newPipeline(st)
	extractor := extract.NewExtractor(cfg.Extractor.APIKey, cfg.Extractor.BaseURL, cfg.Extractor.Model)

	for _, path := range args {
		log.Printf("Extracting %s", path)

		text, err := extract.PDFText(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		tail := extract.BibliographyTail(text, cfg.Extractor.TailChars)

		refs, err := extractor.ExtractReferences(ctx, tail)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log.Printf("Extracted %d references from %s", len(refs), path)

		run := &domain.IngestRun{
			UUID:      uuid.NewString(),
			Kind:      "pdf",
			SourcePDF: filepath.Base(path),
			CorpusID:  cid,
			StartedAt: time.Now(),
		}
		runID, err := st.CreateIngestRun(ctx, run)
		if err != nil {
			return fmt.Errorf("create ingest run: %w", err)
		}
		for _, ref := range refs {
			ref.IngestSource = "pdf:" + run.UUID
			ref.CorpusID = cid
		}
		if _, err := p.IngestReferences(ctx, refs); err != nil {
			return err
		}
		if err := st.FinishIngestRun(ctx, runID); err != nil {
			return err
		}
	}
	return nil
}

func runIngestBibtex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	cid, err := corpusID(ctx, st)
	if err != nil {
		return err
	}
	p, _ := newPipeline(st)

	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		refs, err := export.ParseBibTeX(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log.Printf("Parsed %d entries from %s", len(refs), path)

		run := &domain.IngestRun{
			UUID:      uuid.NewString(),
			Kind:      "bibtex",
			SourcePDF: filepath.Base(path),
			CorpusID:  cid,
			StartedAt: time.Now(),
		}
		runID, err := st.CreateIngestRun(ctx, run)
		if err != nil {
			return fmt.Errorf("create ingest run: %w", err)
		}
		for _, ref := range refs {
			ref.IngestSource = "bibtex:" + run.UUID
			ref.CorpusID = cid
		}
		if _, err := p.IngestReferences(ctx, refs); err != nil {
			return err
		}
		if err := st.FinishIngestRun(ctx, runID); err != nil {
			return err
		}
	}
	return nil
}
