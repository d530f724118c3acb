// Package main is the biblioflow CLI: one subcommand per pipeline
// operation, all working against the catalog database file.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/config"
	"github.com/biblioflow/backend/internal/expand"
	"github.com/biblioflow/backend/internal/matcher"
	"github.com/biblioflow/backend/internal/pipeline"
	"github.com/biblioflow/backend/internal/ratelimit"
	"github.com/biblioflow/backend/internal/store"
	"github.com/biblioflow/backend/pkg/crossref"
	"github.com/biblioflow/backend/pkg/openalex"
	"github.com/biblioflow/backend/pkg/resolver"
)

var (
	cfg        *config.Config
	corpusName string
)

var rootCmd = &cobra.Command{
	Use:   "biblioflow",
	Short: "Bibliographic acquisition pipeline",
	Long: `biblioflow discovers scholarly references from PDFs, BibTeX files, and
keyword searches, enriches them against OpenAlex and Crossref, deduplicates
them into a staged catalog, downloads open-access PDFs, and exports the
corpus with its citation graph.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&corpusName, "corpus", "", "Scope the operation to a named corpus")
}

func main() {
	log.SetFlags(log.LstdFlags)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// openStore opens the catalog database named by the configuration.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.New(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", cfg.Database.Path, err)
	}
	if cfg.Download.MaxAttempts > 0 {
		st.MaxDownloadAttempts = cfg.Download.MaxAttempts
	}
	return st, nil
}

// corpusID resolves the --corpus flag, creating the corpus on first use.
// nil means unscoped.
func corpusID(ctx context.Context, st *store.Store) (*int64, error) {
	if corpusName == "" {
		return nil, nil
	}
	id, err := st.EnsureCorpus(ctx, corpusName)
	if err != nil {
		return nil, fmt.Errorf("ensure corpus %q: %w", corpusName, err)
	}
	return &id, nil
}

func newOpenAlex() *openalex.Client {
	limiter := ratelimit.New(cfg.OpenAlex.RequestsPerMin, 0, cfg.OpenAlex.MaxInFlight)
	return openalex.NewClient(cfg.OpenAlex.Email, limiter)
}

func newCrossref() *crossref.Client {
	limiter := ratelimit.New(cfg.Crossref.RequestsPerMin, 0, cfg.Crossref.MaxInFlight)
	return crossref.NewClient(cfg.Crossref.Mailto, limiter)
}

// newPipeline wires the store to the API clients for enrich and download
// batches.
func newPipeline(st *store.Store) (*pipeline.Pipeline, *openalex.Client) {
	oa := newOpenAlex()
	m := matcher.New(oa, newCrossref())
	exp := expand.New(oa, st, expand.Options{
		FetchReferences: true,
		FetchCitations:  true,
		MaxRelated:      cfg.Enrich.MaxRelated,
		Depth:           cfg.Enrich.Depth,
	})
	return pipeline.New(st, m, exp, resolver.New(oa)), oa
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so batches
// stop at the next safe point and keep partial progress.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
