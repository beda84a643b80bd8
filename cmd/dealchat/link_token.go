package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oktaras/ad-marketplace-backend-sub000/config"
)

func newLinkTokenCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "link-token <user-id>",
		Short: "Issue a token the user sends to the bot as /start <token>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			tokens := c.linkTokens()
			if tokens == nil {
				return fmt.Errorf("link.secret is required (set %s_LINK_SECRET)", config.EnvPrefix)
			}
			token, err := tokens.Issue(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
