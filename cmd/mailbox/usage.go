package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"wormhole/internal/domain"
	"wormhole/internal/usage"
)

func usageCommand(f *flags) *cobra.Command {
	var (
		since  time.Duration
		export string
	)
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize or export the usage history",
		Long: `Reads the usage database named by the config file and prints how many
wormholes ended with each result. With --export the records are written to
a JSON file instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*f)
			if err != nil {
				return err
			}
			if cfg.Usage.DBPath == "" {
				return errors.New("usage recording is disabled (Usage.DBPath is empty)")
			}
			st, err := usage.Open(cfg.Usage.DBPath, nil)
			if err != nil {
				return err
			}
			defer st.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			if export != "" {
				if err := st.Export(export, from); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", export)
				return nil
			}

			sum, err := st.Summary(from)
			if err != nil {
				return err
			}
			results := make([]domain.Result, 0, len(sum))
			for r := range sum {
				results = append(results, r)
			}
			sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %d\n", r, sum[r])
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only count records newer than this (e.g. 24h)")
	cmd.Flags().StringVar(&export, "export", "", "write the records as JSON to this file")
	return cmd
}
