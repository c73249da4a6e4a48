package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// send --text MSG: open a wormhole, print its code and deliver MSG.
func sendCmd() *cobra.Command {
	var (
		text  string
		code  string
		words int
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message (reads stdin when --text is -)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				text = strings.TrimRight(string(b), "\n")
			}
			if text == "" {
				return errors.New("--text required")
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			wireCtx.Config.CodeWords = words
			s := wireCtx.NewSession(code)
			if err := s.Connect(ctx); err != nil {
				return err
			}
			if motd := s.MOTD(); motd != "" {
				fmt.Fprintln(os.Stderr, motd)
			}
			if err := s.Claim(ctx); err != nil {
				return finish(ctx, s, err)
			}
			fmt.Fprintf(out, "Wormhole code is: %s\n", s.Code())
			fmt.Fprintf(out, "On the other computer, please run:\n\n  wormhole receive %s\n\n", s.Code())

			if err := s.Exchange(ctx); err != nil {
				return finish(ctx, s, err)
			}
			return finish(ctx, s, sendText(ctx, s, text, out))
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "text message to send (- reads stdin)")
	cmd.Flags().StringVar(&code, "code", "", "use this code instead of allocating one")
	cmd.Flags().IntVarP(&words, "code-length", "c", 2, "number of words in a generated code")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
