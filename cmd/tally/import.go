package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cartworks/tally/internal/migrate"
	"github.com/cartworks/tally/internal/ui"
)

var (
	importFrom   string
	importDryRun bool
)

var importCmd = &cobra.Command{
	Use:     "import",
	GroupID: "ops",
	Short:   "Import a legacy register-ledger JSONL export",
	Long: `Import shifts, settlements and directory entries from a legacy
register-ledger export (one JSON record per line). Imported rows do not
enter the outbox; the remote store already holds this data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := migrate.Import(context.Background(), st, migrate.Options{
			FromJSONL: importFrom,
			DryRun:    importDryRun,
		})
		if err != nil {
			return err
		}

		verb := "Imported"
		if importDryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d shift(s), %d settlement(s), %d directory row(s)\n",
			ui.RenderAccent("✓"), verb,
			result.ShiftsImported, result.SettlementsImported, result.DirectoryImported)

		for _, e := range result.Errors {
			fmt.Printf("  %s %s\n", ui.RenderWarn("!"), e)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFrom, "from", "", "JSONL export file")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse and report without writing")
	_ = importCmd.MarkFlagRequired("from")
}
