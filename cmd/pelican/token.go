package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/pelican/internal/keychain"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the bot token stored in the OS keychain",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set [token]",
			Short: "Store the bot token (read from stdin when omitted)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				var token string
				if len(args) == 1 {
					token = args[0]
				} else {
					line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					if err != nil && line == "" {
						return errors.New("no token on stdin")
					}
					token = strings.TrimSpace(line)
				}
				if err := validateToken(token); err != nil {
					return fmt.Errorf("invalid token: %w", err)
				}
				if err := keychain.SetToken(token); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Token stored.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the stored bot token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := keychain.DeleteToken(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Token deleted.")
				return nil
			},
		},
	)
	return cmd
}
