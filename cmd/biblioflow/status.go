package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/domain"
)

var statusFiles bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print catalog, queue, and graph counters",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusFiles, "files", false, "Also list library files no downloaded row references")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	stages, err := st.StageCounts(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Stages:")
	for _, stage := range domain.Stages {
		fmt.Printf("  %-18s %d\n", stage, stages[stage])
	}

	queue, err := st.QueueStats(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Download queue:")
	fmt.Printf("  %-18s %d\n", "queued", queue.Queued)
	fmt.Printf("  %-18s %d\n", "in_progress", queue.InProgress)
	fmt.Printf("  %-18s %d\n", "not queued", queue.None)

	merges, err := st.MergeLogSize(ctx)
	if err != nil {
		return err
	}
	edges, err := st.EdgeCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Merge log: %d entries\n", merges)
	fmt.Printf("Citation edges: %d\n", edges)

	corpora, items, err := st.ListCorpora(ctx)
	if err != nil {
		return err
	}
	if len(corpora) > 0 {
		fmt.Println("Corpora:")
		for _, c := range corpora {
			fmt.Printf("  %-18s %d items\n", c.Name, items[c.ID])
		}
	}

	if statusFiles {
		return reportOrphanFiles(st.DownloadedFilePaths(ctx))
	}
	return nil
}

// reportOrphanFiles lists library files the catalog does not reference.
// Read-only: reconciliation is a human decision.
func reportOrphanFiles(recorded map[string]bool, err error) error {
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(cfg.Library.Dir)
	if os.IsNotExist(err) {
		fmt.Println("Library directory does not exist yet")
		return nil
	}
	if err != nil {
		return err
	}

	orphans := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(cfg.Library.Dir, entry.Name())
		if !recorded[path] {
			if orphans == 0 {
				fmt.Println("Orphan files (no downloaded row):")
			}
			fmt.Printf("  %s\n", path)
			orphans++
		}
	}
	if orphans == 0 {
		fmt.Println("No orphan files")
	}
	return nil
}
