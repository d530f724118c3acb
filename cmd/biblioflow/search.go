package main

import (
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/pipeline"
)

var (
	searchYearFrom int
	searchYearTo   int
	searchType     string
	searchLimit    int
	searchEnqueue  bool
)

var searchCmd = &cobra.Command{
	Use:   "search <keywords>...",
	Short: "Run a keyword search against OpenAlex and persist the hits",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchYearFrom, "year-from", 0, "Earliest publication year")
	searchCmd.Flags().IntVar(&searchYearTo, "year-to", 0, "Latest publication year")
	searchCmd.Flags().StringVar(&searchType, "type", "", "OpenAlex work type filter (article, book, ...)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 25, "Maximum hits to persist")
	searchCmd.Flags().BoolVar(&searchEnqueue, "enqueue", false, "Feed hits into the raw stage for enrichment")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
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
	p, oa := newPipeline(st)

	run, counters, err := p.SearchRun(ctx, oa, pipeline.SearchOptions{
		Query:    strings.Join(args, " "),
		YearFrom: searchYearFrom,
		YearTo:   searchYearTo,
		Type:     searchType,
		Limit:    searchLimit,
		CorpusID: cid,
		Enqueue:  searchEnqueue,
	})
	if err != nil {
		return err
	}

	log.Printf("Search run %s: %d hits persisted", run.UUID, counters.Processed)
	if searchEnqueue {
		log.Printf("Enqueued %d new references (%d duplicates)", counters.Promoted, counters.Duplicates)
	}
	return nil
}
