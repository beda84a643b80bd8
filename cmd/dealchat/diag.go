package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newDiagCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "diag <deal-id> <telegram-user-id>",
		Short: "Print the chat state of a deal as seen by one party",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dealID, err := parseID("deal", args[0])
			if err != nil {
				return err
			}
			userID, err := parseTelegramID(args[1])
			if err != nil {
				return err
			}
			if err := c.requireTelegram(); err != nil {
				return err
			}
			a, err := c.build(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			diag, err := a.chat.Diagnostics(cmd.Context(), dealID, userID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(diag)
		},
	}
}

func parseID(kind, arg string) (string, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("invalid %s id %q: %w", kind, arg, err)
	}
	return id.String(), nil
}

func parseTelegramID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid telegram user id %q", arg)
	}
	return id, nil
}
