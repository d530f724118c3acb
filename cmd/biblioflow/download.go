package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/pipeline"
)

var (
	downloadLimit    int
	downloadWorkers  int
	downloadWorkerID string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Claim queued references and fetch their open-access PDFs",
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().IntVar(&downloadLimit, "limit", 0, "Queued rows to claim (default from config)")
	downloadCmd.Flags().IntVar(&downloadWorkers, "workers", 0, "Concurrent fetchers (default from config)")
	downloadCmd.Flags().StringVar(&downloadWorkerID, "worker-id", "", "Claim owner id (default random)")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
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

	opts := pipeline.DownloadOptions{
		Limit:        downloadLimit,
		Workers:      downloadWorkers,
		WorkerID:     downloadWorkerID,
		LeaseSeconds: cfg.Download.LeaseSeconds,
		LibraryDir:   cfg.Library.Dir,
		CorpusID:     cid,
	}
	if opts.Limit <= 0 {
		opts.Limit = cfg.Download.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = cfg.Download.Workers
	}

	counters, err := p.DownloadBatch(ctx, opts)
	if err != nil {
		return err
	}
	for _, msg := range counters.Errors {
		fmt.Println("  !", msg)
	}
	return nil
}
