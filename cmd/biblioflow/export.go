package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/export"
	"github.com/biblioflow/backend/internal/store"
)

var (
	exportFormat string
	exportOut    string
	exportStage  string
	exportYear   int
	exportLimit  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a read-only catalog snapshot",
	Long: `Write the catalog (or a corpus/year slice of it) as json, bibtex,
pdfs_zip, or bundle_zip. Exports never modify the catalog.`,
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <snapshot.json>",
	Short: "Re-ingest a JSON snapshot through the dedup resolver",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "json | bibtex | pdfs_zip | bundle_zip")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout; required for zips)")
	exportCmd.Flags().StringVar(&exportStage, "stage", "", "Restrict to one stage table")
	exportCmd.Flags().IntVar(&exportYear, "year", 0, "Restrict to one publication year")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 100000, "Maximum rows")
	rootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
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
	filter := store.ListFilter{
		Stage:    domain.Stage(exportStage),
		CorpusID: cid,
		Limit:    exportLimit,
	}
	if exportYear > 0 {
		filter.Year = &exportYear
	}
	refs, err := st.ListReferences(ctx, filter)
	if err != nil {
		return err
	}

	out := os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	switch exportFormat {
	case "json":
		if err := export.WriteJSON(out, refs); err != nil {
			return err
		}
	case "bibtex":
		if err := export.WriteBibTeX(out, refs); err != nil {
			return err
		}
	case "pdfs_zip":
		if exportOut == "" {
			return fmt.Errorf("pdfs_zip needs --out")
		}
		added, skipped, err := export.WritePDFZip(out, refs)
		if err != nil {
			return err
		}
		log.Printf("Archived %d PDFs (%d rows without a file)", added, skipped)
	case "bundle_zip":
		if exportOut == "" {
			return fmt.Errorf("bundle_zip needs --out")
		}
		edges, err := st.ListEdges(ctx, "")
		if err != nil {
			return err
		}
		manifest, err := export.WriteBundleZip(out, refs, edges)
		if err != nil {
			return err
		}
		log.Printf("Bundle: %d references, %d PDFs, %d edges",
			manifest.References, manifest.PDFs, manifest.Edges)
	default:
		return fmt.Errorf("unknown format %q", exportFormat)
	}

	log.Printf("Exported %d references", len(refs))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	refs, err := export.ReadJSON(f)
	if err != nil {
		return err
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	p, _ := newPipeline(st)
	counters, err := p.IngestReferences(ctx, refs)
	if err != nil {
		return err
	}
	log.Printf("Import: %d new, %d duplicates", counters.Promoted, counters.Duplicates)
	return nil
}
