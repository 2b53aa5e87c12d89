package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cartworks/tally/internal/ui"
)

var (
	clockInWorker string
	clockInCart   string
	clockInCash   int64

	clockOutShift  string
	clockOutWorker string
	clockOutCash   int64
)

var shiftCmd = &cobra.Command{
	Use:     "shift",
	GroupID: "ops",
	Short:   "Clock shifts in and out",
}

var clockInCmd = &cobra.Command{
	Use:   "clockin",
	Short: "Open a shift with the declared starting cash",
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

		shift, err := st.ClockIn(context.Background(), clockInWorker, clockInCart, clockInCash)
		if err != nil {
			return err
		}

		fmt.Printf("%s Shift %s opened for worker %s on cart %s (starting cash %d)\n",
			ui.RenderAccent("✓"), shift.ID, shift.WorkerID, shift.CartID, shift.StartingCash)
		return nil
	},
}

var clockOutCmd = &cobra.Command{
	Use:   "clockout",
	Short: "Close a shift with the declared ending cash",
	Long: `Close a shift. Pass --shift for a specific shift, or --worker to close
that worker's open shift. The closed shift becomes eligible for
settlement.`,
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

		shiftID := clockOutShift
		if shiftID == "" {
			if clockOutWorker == "" {
				return fmt.Errorf("either --shift or --worker is required")
			}
			open, err := st.OpenShiftForWorker(ctx, clockOutWorker)
			if err != nil {
				return err
			}
			shiftID = open.ID
		}

		shift, err := st.ClockOut(ctx, shiftID, clockOutCash)
		if err != nil {
			return err
		}

		fmt.Printf("%s Shift %s closed (ending cash %d) - awaiting settlement\n",
			ui.RenderAccent("✓"), shift.ID, *shift.EndingCash)
		return nil
	},
}

func init() {
	clockInCmd.Flags().StringVar(&clockInWorker, "worker", "", "worker id")
	clockInCmd.Flags().StringVar(&clockInCart, "cart", "", "cart id")
	clockInCmd.Flags().Int64Var(&clockInCash, "cash", 0, "declared starting cash, minor units")
	_ = clockInCmd.MarkFlagRequired("worker")
	_ = clockInCmd.MarkFlagRequired("cart")

	clockOutCmd.Flags().StringVar(&clockOutShift, "shift", "", "shift id")
	clockOutCmd.Flags().StringVar(&clockOutWorker, "worker", "", "worker id (close their open shift)")
	clockOutCmd.Flags().Int64Var(&clockOutCash, "cash", 0, "declared ending cash, minor units")
	_ = clockOutCmd.MarkFlagRequired("cash")

	shiftCmd.AddCommand(clockInCmd)
	shiftCmd.AddCommand(clockOutCmd)
}
