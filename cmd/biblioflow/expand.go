package main

import (
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/expand"
	"github.com/biblioflow/backend/internal/normalize"
)

var (
	expandMaxRelated int
	expandDepth      int
	expandNoCitedBy  bool
	expandNoRefs     bool
)

var expandCmd = &cobra.Command{
	Use:   "expand <enriched-id>...",
	Short: "Walk the citation neighborhood of enriched references",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExpand,
}

func init() {
	expandCmd.Flags().IntVar(&expandMaxRelated, "max-related", 0, "Stub cap per relation kind (default from config)")
	expandCmd.Flags().IntVar(&expandDepth, "depth", 0, "Recursion depth into new stubs (default from config)")
	expandCmd.Flags().BoolVar(&expandNoRefs, "no-references", false, "Skip the referenced_works walk")
	expandCmd.Flags().BoolVar(&expandNoCitedBy, "no-cited-by", false, "Skip the cited_by walk")
	rootCmd.AddCommand(expandCmd)
}

func runExpand(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	oa := newOpenAlex()
	opts := expand.Options{
		FetchReferences: !expandNoRefs,
		FetchCitations:  !expandNoCitedBy,
		MaxRelated:      expandMaxRelated,
		Depth:           expandDepth,
	}
	if opts.MaxRelated <= 0 {
		opts.MaxRelated = cfg.Enrich.MaxRelated
	}
	if opts.Depth <= 0 {
		opts.Depth = cfg.Enrich.Depth
	}
	expander := expand.New(oa, st, opts)

	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("bad id %q", arg)
		}
		ref, err := st.GetEnriched(ctx, id)
		if err != nil {
			return fmt.Errorf("enriched %d: %w", id, err)
		}
		if ref.OpenAlexID == "" {
			log.Printf("Skipping %d: no OpenAlex id", id)
			continue
		}

		work, err := oa.GetWork(ctx, normalize.OpenAlexID(ref.OpenAlexID))
		if err != nil {
			return fmt.Errorf("fetch %s: %w", ref.OpenAlexID, err)
		}
		stats, err := expander.Expand(ctx, work, ref.CorpusID)
		if err != nil {
			return err
		}
		log.Printf("Expanded %s: %d stubs, %d duplicates, %d edges",
			ref.OpenAlexID, stats.Stubs, stats.Duplicates, stats.Edges)
	}
	return nil
}
