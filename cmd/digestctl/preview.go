package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newPreviewCmd(e *env, flags *rootFlags) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render the digest HTML without sending it",
		Long: `Fetch the events feed and render the week's digest. Contacts are not
listed and nothing is sent, so only SITE_URL (or SITE_HOST) is required.

Examples:
  digestctl preview > digest.html
  digestctl preview --date 2024-03-12 --out digest.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.Dispatcher.Preview(cmd.Context())
			if err != nil {
				return err
			}

			if outPath == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), p.HTML)
				return err
			}
			if err := os.WriteFile(outPath, []byte(p.HTML), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d events, %q\n", outPath, p.Events, p.Subject)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the HTML to a file instead of stdout")
	return cmd
}
