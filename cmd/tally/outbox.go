package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cartworks/tally/internal/ui"
)

var outboxCmd = &cobra.Command{
	Use:     "outbox",
	GroupID: "sync",
	Short:   "Inspect the pending change log",
}

var outboxReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "List changes flagged for manual review",
	Long: `List outbox entries the remote store rejected past the attempt
ceiling. Flagged entries are excluded from sync passes until requeued.`,
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

		changes, err := st.ReviewQueue(context.Background())
		if err != nil {
			return err
		}

		if len(changes) == 0 {
			fmt.Println("Review queue is empty.")
			return nil
		}

		fmt.Printf("%s %d change(s) flagged for review:\n", ui.RenderWarn("!"), len(changes))
		for _, c := range changes {
			fmt.Printf("  %s  %s %s %s  attempts=%d\n",
				ui.RenderDim(c.ID), c.Op, c.EntityType, c.EntityID, c.AttemptCount)
		}
		return nil
	},
}

var outboxRequeueCmd = &cobra.Command{
	Use:   "requeue <change-id>",
	Short: "Return a reviewed change to the pending queue",
	Args:  cobra.ExactArgs(1),
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

		if err := st.ClearReviewFlag(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("%s Change %s requeued\n", ui.RenderAccent("✓"), args[0])
		return nil
	},
}

func init() {
	outboxCmd.AddCommand(outboxReviewCmd)
	outboxCmd.AddCommand(outboxRequeueCmd)
}
