package cmd

import (
	"fmt"

	"github.com/agentic-research/arbor/internal/ingest"
	"github.com/spf13/cobra"
)

func newImportCmd(a *app) *cobra.Command {
	var selector string
	c := &cobra.Command{
		Use:   "import [file or directory]",
		Short: "Import JSON, XML or SQLite record files, one revision per document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []ingest.Option
			if selector != "" {
				opts = append(opts, ingest.WithSelector(selector))
			}
			e, err := ingest.NewEngine(a.res, opts...)
			if err != nil {
				return err
			}
			revs, err := e.Ingest(cmd.Context(), args[0])
			for _, r := range revs {
				fmt.Fprintf(cmd.OutOrStdout(), "revision %d\n", r)
			}
			if err != nil {
				return err
			}
			if len(revs) == 0 {
				a.log.Warn().Str("path", args[0]).Msg("nothing imported")
			}
			return nil
		},
	}
	c.Flags().StringVar(&selector, "select", "", "JSONPath selecting what to import from each JSON document")
	return c
}
