package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/domain"
	"github.com/biblioflow/backend/internal/store"
)

var (
	graphLimit int
	graphKind  string
	graphYear  int
	graphOut   string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export a slice of the citation graph as JSON",
	RunE:  runGraph,
}

var backfillEdgesCmd = &cobra.Command{
	Use:   "backfill-edges",
	Short: "Materialize edges from stored expansion provenance",
	RunE:  runBackfillEdges,
}

func init() {
	graphCmd.Flags().IntVar(&graphLimit, "limit", 200, "Maximum nodes in the slice")
	graphCmd.Flags().StringVar(&graphKind, "kind", "", "references | cited_by (default both)")
	graphCmd.Flags().IntVar(&graphYear, "year", 0, "Restrict nodes to one publication year")
	graphCmd.Flags().StringVarP(&graphOut, "out", "o", "", "Output file (default stdout)")
	rootCmd.AddCommand(graphCmd, backfillEdgesCmd)
}

func runGraph(cmd *cobra.Command, args []string) error {
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
	filter := store.GraphFilter{
		Limit:    graphLimit,
		Kind:     domain.EdgeKind(graphKind),
		CorpusID: cid,
	}
	if graphYear > 0 {
		filter.Year = &graphYear
	}

	nodes, edges, err := st.GraphSlice(ctx, filter)
	if err != nil {
		return err
	}

	out := os.Stdout
	if graphOut != "" {
		f, err := os.Create(graphOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]interface{}{"nodes": nodes, "edges": edges}); err != nil {
		return err
	}
	log.Printf("Graph slice: %d nodes, %d edges", len(nodes), len(edges))
	return nil
}

func runBackfillEdges(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	written, err := st.BackfillEdges(ctx)
	if err != nil {
		return err
	}
	log.Printf("Backfilled %d citation edges", written)
	return nil
}
