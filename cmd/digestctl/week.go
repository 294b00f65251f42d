package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"eventdigest/internal/calendar"
	"eventdigest/internal/digest"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

type weekReport struct {
	Timezone string      `json:"timezone" yaml:"timezone"`
	Subject  string      `json:"subject" yaml:"subject"`
	Days     []dayReport `json:"days" yaml:"days"`
}

type dayReport struct {
	Date  string `json:"date" yaml:"date"`
	Label string `json:"label" yaml:"label"`
}

func newWeekCmd(e *env, flags *rootFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "week",
		Short: "Show the digest window for a date",
		Long: `Print the seven date keys (Sunday to Saturday) the digest covers, with
their localized labels and the subject line.

Examples:
  digestctl week
  digestctl week --date 2024-03-12 --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			loc, err := cfg.Digest.Location()
			if err != nil {
				return err
			}
			clock, err := flags.clock(loc)
			if err != nil {
				return err
			}
			if clock == nil {
				clock = time.Now
			}
			report, err := buildWeekReport(calendar.WeekOf(clock(), loc), loc)
			if err != nil {
				return err
			}
			return writeWeekReport(cmd.OutOrStdout(), report, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "Output format: text, json or yaml")
	return cmd
}

func buildWeekReport(w calendar.Window, loc *time.Location) (weekReport, error) {
	r, err := digest.NewRenderer(digest.RendererConfig{})
	if err != nil {
		return weekReport{}, err
	}
	report := weekReport{Timezone: loc.String(), Subject: r.Subject(w)}
	for _, key := range w.Keys() {
		report.Days = append(report.Days, dayReport{Date: key, Label: calendar.Spanish.DayLabel(key)})
	}
	return report, nil
}

func writeWeekReport(out io.Writer, report weekReport, format string) error {
	switch format {
	case formatText:
		fmt.Fprintf(out, "%s (%s)\n\n", report.Subject, report.Timezone)
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, d := range report.Days {
			fmt.Fprintf(tw, "%s\t%s\n", d.Date, d.Label)
		}
		return tw.Flush()
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q. Use text, json or yaml", format)
	}
}
