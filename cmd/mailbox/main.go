package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"

	"wormhole/internal/app"
	"wormhole/internal/config"
)

// flags holds the command line configuration.
type flags struct {
	ConfigFile string
	Address    string
	Metrics    string
	LogLevel   string
}

func newRootCommand() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "mailbox",
		Short: "Magic wormhole mailbox server",
		Long: `The mailbox server is the rendezvous point of the magic wormhole protocol.
Clients claim short numeric nameplates, exchange opaque messages through
the mailbox behind them and disconnect. The server never sees plaintext.`,
		Example: `  # Serve with defaults on :4000
  mailbox

  # Serve with a configuration file and a metrics listener
  mailbox -f /etc/wormhole/mailbox.toml --metrics 127.0.0.1:9100`,
		Version:       versioninfo.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVarP(&f.ConfigFile, "config", "f", "",
		"path to the server configuration file (TOML format)")
	cmd.Flags().StringVar(&f.Address, "address", "", "websocket listen address (overrides the config file)")
	cmd.Flags().StringVar(&f.Metrics, "metrics", "", "metrics listen address (overrides the config file)")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", "", "log level (overrides the config file)")

	cmd.AddCommand(usageCommand(&f))
	return cmd
}

func loadConfig(f flags) (*config.Config, error) {
	cfg := config.Default()
	if f.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFile(f.ConfigFile); err != nil {
			return nil, fmt.Errorf("failed to load config file '%v': %v", f.ConfigFile, err)
		}
	}

	if f.Address != "" {
		cfg.Server.Address = f.Address
	}
	if f.Metrics != "" {
		cfg.Server.MetricsAddress = f.Metrics
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	m, err := app.NewMailbox(cfg)
	if err != nil {
		return fmt.Errorf("failed to spawn mailbox server: %v", err)
	}
	defer m.Close()

	// Halt gracefully on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Rotate logs upon SIGHUP.
	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	defer signal.Stop(rotateCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-rotateCh:
				if err := m.RotateLog(); err != nil {
					fmt.Fprintf(os.Stderr, "mailbox: log rotation failed: %v\n", err)
				}
			}
		}
	}()

	return m.Run(ctx)
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
