package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oktaras/ad-marketplace-backend-sub000/outbox"
)

func newResyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <deal-id>...",
		Short: "Queue a chat status resync for deals",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]string, 0, len(args))
			for _, arg := range args {
				id, err := parseID("deal", arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			pool, err := c.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			for _, id := range ids {
				if err := outbox.Enqueue(cmd.Context(), pool, outbox.TopicDealStatusChanged, outbox.DealStatusChanged{DealID: id}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", id)
			}
			return nil
		},
	}
}
