package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/pipeline"
)

var (
	enrichLimit    int
	enrichWorkers  int
	enrichExpand   bool
	enrichEnqueue  bool
	enrichPriority int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Match raw references against OpenAlex/Crossref and promote them",
	RunE:  runEnrich,
}

func init() {
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 0, "Raw rows to process (default from config)")
	enrichCmd.Flags().IntVar(&enrichWorkers, "workers", 0, "Concurrent matchers (default from config)")
	enrichCmd.Flags().BoolVar(&enrichExpand, "expand", false, "Walk referenced_works / cited_by of each match")
	enrichCmd.Flags().BoolVar(&enrichEnqueue, "enqueue", true, "Queue promoted references for download")
	enrichCmd.Flags().IntVar(&enrichPriority, "priority", 0, "Download priority for queued rows (lower first)")
	rootCmd.AddCommand(enrichCmd)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	p, _ := newPipeline(st)
	opts := pipeline.EnrichOptions{
		Limit:    enrichLimit,
		Workers:  enrichWorkers,
		Expand:   enrichExpand,
		Enqueue:  enrichEnqueue,
		Priority: enrichPriority,
	}
	if opts.Limit <= 0 {
		opts.Limit = cfg.Enrich.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = cfg.Enrich.Workers
	}

	counters, err := p.EnrichBatch(ctx, opts)
	if err != nil {
		return err
	}
	for _, msg := range counters.Errors {
		fmt.Println("  !", msg)
	}
	return nil
}
