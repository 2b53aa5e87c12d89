package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/cartworks/tally/internal/model"
	"github.com/cartworks/tally/internal/recon"
	"github.com/cartworks/tally/internal/ui"
)

var (
	diffCarts    []string
	diffSince    string
	diffBookmark bool
	diffUser     string
)

var reconCmd = &cobra.Command{
	Use:     "recon",
	GroupID: "recon",
	Short:   "Settlement reconciliation reports",
}

var unsettledCmd = &cobra.Command{
	Use:   "unsettled",
	Short: "List closed shifts awaiting settlement",
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

		engine := recon.New(st, cfg.SeverityThreshold, nil)
		shifts, err := engine.UnsettledShifts(context.Background())
		if err != nil {
			return fmt.Errorf("couldn't load exceptions: %w", err)
		}

		if len(shifts) == 0 {
			fmt.Println("No unsettled shifts.")
			return nil
		}

		fmt.Printf("%s %d unsettled shift(s), oldest first:\n", ui.RenderWarn("!"), len(shifts))
		for _, u := range shifts {
			fmt.Printf("  %s  %s on %s  clocked out %s\n",
				ui.RenderDim(u.Shift.ID), u.WorkerName, u.CartName,
				u.Shift.ClockOut.Format(time.RFC822))
		}
		return nil
	},
}

var diffsCmd = &cobra.Command{
	Use:   "diffs",
	Short: "List settlements with cash discrepancies",
	Long: `List settlements whose counted cash differed from the expected
amount. --carts scopes the report to assigned carts (omit for the
owner's full view); --since accepts natural language ("yesterday",
"last monday"). --bookmark saves each discrepancy as an EXCEPTION
saved item for --user.`,
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

		ctx := context.Background()
		engine := recon.New(st, cfg.SeverityThreshold, nil)

		var carts []string
		if cmd.Flags().Changed("carts") {
			carts = diffCarts
		}

		diffs, err := engine.CashDifferences(ctx, carts)
		if err != nil {
			return fmt.Errorf("couldn't load exceptions: %w", err)
		}

		if diffSince != "" {
			cutoff, err := parseSince(diffSince)
			if err != nil {
				return err
			}
			filtered := diffs[:0]
			for _, d := range diffs {
				if !d.Settlement.CreatedAt.Before(cutoff) {
					filtered = append(filtered, d)
				}
			}
			diffs = filtered
		}

		if len(diffs) == 0 {
			fmt.Println("No cash differences.")
			return nil
		}

		fmt.Printf("%s %d cash difference(s):\n", ui.RenderWarn("!"), len(diffs))
		for _, d := range diffs {
			severity := engine.Classify(d.Settlement.Difference)
			fmt.Printf("  %s  %s on %s  %s %s  [%s]\n",
				ui.RenderDim(d.Settlement.ID), d.WorkerName, d.CartName,
				ui.RenderAmount(d.Settlement.Difference),
				engine.Direction(d.Settlement.Difference),
				severity)

			if diffBookmark {
				if diffUser == "" {
					return fmt.Errorf("--bookmark requires --user")
				}
				_, created, err := st.CreateSavedItem(ctx, &model.SavedItem{
					UserID:           diffUser,
					Type:             model.SavedItemException,
					LinkedEntityType: model.EntitySettlement,
					LinkedEntityID:   d.Settlement.ID,
					Note: fmt.Sprintf("Cash %s by %d on %s",
						engine.Direction(d.Settlement.Difference),
						d.Settlement.Difference, d.CartName),
					Severity: severity,
				})
				if err != nil {
					return err
				}
				if !created {
					fmt.Printf("      %s\n", ui.RenderDim("already bookmarked"))
				}
			}
		}
		return nil
	},
}

// parseSince turns a natural-language time expression into a cutoff.
func parseSince(expr string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	result, err := w.Parse(expr, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", expr, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("couldn't understand --since %q", expr)
	}
	return result.Time, nil
}

func init() {
	diffsCmd.Flags().StringSliceVar(&diffCarts, "carts", nil, "restrict to these cart ids")
	diffsCmd.Flags().StringVar(&diffSince, "since", "", "only settlements since this time (natural language ok)")
	diffsCmd.Flags().BoolVar(&diffBookmark, "bookmark", false, "save each discrepancy as an EXCEPTION item")
	diffsCmd.Flags().StringVar(&diffUser, "user", "", "user id owning the bookmarks")

	reconCmd.AddCommand(unsettledCmd)
	reconCmd.AddCommand(diffsCmd)
}
