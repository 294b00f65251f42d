package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

type runReport struct {
	DryRun bool `json:"dry_run"`
	Sent   int  `json:"sent"`
	Total  int  `json:"total"`
	Failed int  `json:"failed"`
}

func newRunCmd(e *env, flags *rootFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send the weekly digest to every subscriber",
		Long: `Run the digest exactly as the scheduled trigger does and print the
result as JSON. With --dry-run, contacts and the feed are read but each
message is logged instead of sent.

Examples:
  digestctl run --dry-run
  digestctl run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp(flags, dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Dispatcher.Run(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runReport{
				DryRun: dryRun,
				Sent:   result.Sent,
				Total:  result.Total,
				Failed: result.Failed(),
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log each message instead of sending it")
	return cmd
}
