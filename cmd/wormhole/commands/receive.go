package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"wormhole/internal/code"
)

// receive CODE: join the sender's wormhole and print the text.
func receiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "receive CODE",
		Aliases: []string{"rx", "recv"},
		Short:   "Receive a text message",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := code.Normalize(args[0])
			if _, err := code.Parse(c); err != nil {
				return err
			}
			ctx := cmd.Context()

			s := wireCtx.NewSession(c)
			if err := s.Connect(ctx); err != nil {
				return err
			}
			if motd := s.MOTD(); motd != "" {
				fmt.Fprintln(os.Stderr, motd)
			}
			if err := s.Claim(ctx); err != nil {
				return finish(ctx, s, err)
			}
			if err := s.Exchange(ctx); err != nil {
				return finish(ctx, s, err)
			}
			text, err := receiveText(ctx, s, cmd.OutOrStdout())
			if err != nil {
				return finish(ctx, s, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(text, "\n"))
			return finish(ctx, s, nil)
		},
	}
}

