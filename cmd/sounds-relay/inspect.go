package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/zsiec/sounds-relay/internal/adts"
)

func newInspectCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "inspect <file.aac>",
		Short:       "Summarise an ADTS audio file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			sum, err := adts.Probe(f)
			if err != nil {
				return fmt.Errorf("inspect %s: %w", args[0], err)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderSummary(sum))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderSummary(s adts.Summary) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Field", "Value"})
	tw.AppendRows([]table.Row{
		{"Frames", strconv.FormatInt(s.Frames, 10)},
		{"Bytes", strconv.FormatInt(s.Bytes, 10)},
		{"Skipped bytes", strconv.FormatInt(s.Skipped, 10)},
		{"Profile", orDash(s.Profile)},
		{"Sample rate", orDash(hz(s.SampleRate))},
		{"Channels", orDash(count(s.Channels))},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
	})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func hz(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n) + " Hz"
}

func count(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
