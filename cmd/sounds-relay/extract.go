package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zsiec/sounds-relay/internal/mpegts"
)

func newExtractCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "extract [input.ts]",
		Short: "Extract the AAC elementary stream from an MPEG-TS file",
		Long: `Extract reads an MPEG transport stream from a file, or standard input when
no file is given, and writes the AAC audio as ADTS frames.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := ctx.logger(cmd)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			tw := mpegts.NewWriter(out, mpegts.SessionOptLogger(log))
			if _, err := io.Copy(tw, in); err != nil {
				return fmt.Errorf("extract: %w", err)
			}
			if err := tw.Close(); err != nil {
				return fmt.Errorf("extract: %w", err)
			}

			st := tw.Session().Stats()
			log.Info("extracted audio",
				"packets", st.Packets,
				"bytes", st.Bytes,
				"duplicates", st.Duplicates,
				"discontinuities", st.Discontinuities,
				"transport_errors", st.TransportErrors,
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}
