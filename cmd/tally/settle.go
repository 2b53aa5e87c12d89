package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/cartworks/tally/internal/recon"
	"github.com/cartworks/tally/internal/ui"
)

var (
	settleCounted    int64
	settleCountedSet bool
)

var settleCmd = &cobra.Command{
	Use:     "settle <shift-id>",
	GroupID: "recon",
	Short:   "Reconcile a closed shift's cash",
	Long: `Create the settlement for a closed shift.

The signed difference is the counted cash minus the shift's declared
ending cash, in minor units: positive is cash over, negative is cash
short. Without --counted, an interactive form asks for the count.`,
	Args: cobra.ExactArgs(1),
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

		settleCountedSet = cmd.Flags().Changed("counted")
		counted := settleCounted
		if !settleCountedSet {
			counted, err = promptCountedCash()
			if err != nil {
				return err
			}
		}

		settlement, err := st.CreateSettlement(context.Background(), args[0], counted)
		if err != nil {
			return err
		}

		engine := recon.New(st, cfg.SeverityThreshold, nil)
		if settlement.Difference == 0 {
			fmt.Printf("%s Shift settled, drawer balanced\n", ui.RenderAccent("✓"))
			return nil
		}

		fmt.Printf("%s Shift settled: %s %s (severity %s)\n",
			ui.RenderAccent("✓"),
			ui.RenderAmount(settlement.Difference),
			engine.Direction(settlement.Difference),
			engine.Classify(settlement.Difference))
		return nil
	},
}

// promptCountedCash asks the operator for the drawer count.
func promptCountedCash() (int64, error) {
	var countedStr string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Counted cash").
				Description("Drawer total in minor currency units (e.g. cents)").
				Validate(func(s string) error {
					if _, err := strconv.ParseInt(s, 10, 64); err != nil {
						return fmt.Errorf("enter a whole number of minor units")
					}
					return nil
				}).
				Value(&countedStr),
		),
	)

	if err := form.Run(); err != nil {
		return 0, err
	}
	return strconv.ParseInt(countedStr, 10, 64)
}

func init() {
	settleCmd.Flags().Int64Var(&settleCounted, "counted", 0, "counted cash, minor units (omit for interactive entry)")
}
