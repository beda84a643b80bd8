package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oktaras/ad-marketplace-backend-sub000/identity"
)

func newLinkCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "link <user-id> <telegram-user-id>",
		Short: "Link a marketplace user to a Telegram account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			tgID, err := parseTelegramID(args[1])
			if err != nil {
				return err
			}
			pool, err := c.openPool(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := identity.NewService(identity.NewRepository(pool))
			user, err := svc.Link(cmd.Context(), userID, tgID)
			if err != nil {
				return err
			}
			c.logger.Info("identity_linked", "user_id", user.ID, "telegram_user_id", tgID)
			fmt.Fprintf(cmd.OutOrStdout(), "linked %s to telegram user %d\n", user.ID, tgID)
			return nil
		},
	}
}
