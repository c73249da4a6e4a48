package commands

import (
	"context"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"

	"wormhole/internal/app"
	"wormhole/internal/domain"
)

var (
	wireCtx *app.Wire

	relayURL string
	appID    string
	logLevel string
	logFile  string
	timeout  time.Duration
	verify   bool
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "wormhole",
		Short:        "Securely move text between two computers",
		Version:      versioninfo.Short(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			w, err := app.NewWire(app.Config{
				RelayURL: relayURL,
				AppID:    domain.AppID(appID),
				Timeout:  timeout,
				LogFile:  logFile,
				LogLevel: logLevel,
			})
			if err != nil {
				return err
			}
			wireCtx = w
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return wireCtx.Close()
		},
	}

	root.PersistentFlags().StringVar(&relayURL, "relay-url", app.DefaultRelayURL, "mailbox server websocket URL")
	root.PersistentFlags().StringVar(&appID, "appid", string(app.DefaultAppID), "application namespace, must match the peer's")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "WARNING", "log level (ERROR, WARNING, NOTICE, INFO, DEBUG)")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "log to this file instead of stderr")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up claiming or exchanging keys after this long (0 waits forever)")
	root.PersistentFlags().BoolVar(&verify, "verify", false, "print the verifier so both sides can compare it")

	root.AddCommand(sendCmd(), receiveCmd())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return newRootCommand().ExecuteContext(context.Background())
}
