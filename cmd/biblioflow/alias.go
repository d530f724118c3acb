package main

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/biblioflow/backend/internal/domain"
)

var (
	aliasYear     int
	aliasLanguage string
	aliasRelation string
)

var aliasCmd = &cobra.Command{
	Use:   "alias",
	Short: "Manage known-equivalent titles (translations, reprints)",
}

var aliasAddCmd = &cobra.Command{
	Use:   "add <stage> <row-id> <alias title>...",
	Short: "Record an equivalent title for an existing reference",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runAliasAdd,
}

var aliasLookupCmd = &cobra.Command{
	Use:   "lookup <year> <title>...",
	Short: "Find references matching an alias title and year (±1)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runAliasLookup,
}

func init() {
	aliasAddCmd.Flags().IntVar(&aliasYear, "year", 0, "Alias publication year")
	aliasAddCmd.Flags().StringVar(&aliasLanguage, "language", "", "Alias language code")
	aliasAddCmd.Flags().StringVar(&aliasRelation, "relation", string(domain.AliasOther),
		"translation | reprint | preprint_of | errata_of | other")
	aliasCmd.AddCommand(aliasAddCmd, aliasLookupCmd)
	rootCmd.AddCommand(aliasCmd)
}

func runAliasAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	workID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("bad row id %q", args[1])
	}
	alias := &domain.Alias{
		WorkTable:    domain.Stage(args[0]),
		WorkID:       workID,
		Title:        strings.Join(args[2:], " "),
		Language:     aliasLanguage,
		Relationship: domain.AliasRelation(aliasRelation),
	}
	if aliasYear > 0 {
		alias.Year = &aliasYear
	}

	id, err := st.AddAlias(ctx, alias)
	if err != nil {
		return err
	}
	log.Printf("Alias %d recorded for %s/%d", id, alias.WorkTable, alias.WorkID)
	return nil
}

func runAliasLookup(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	year, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad year %q", args[0])
	}

	matches, err := st.LookupByAlias(ctx, strings.Join(args[1:], " "), year)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("No matches")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s/%d\n", m.Stage, m.ID)
	}
	return nil
}
