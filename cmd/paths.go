package cmd

import (
	"fmt"

	"github.com/agentic-research/arbor/internal/pathsummary"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newPathsCmd(a *app) *cobra.Command {
	var (
		revision int
		asDot    bool
		match    string
	)
	c := &cobra.Command{
		Use:   "paths",
		Short: "Print the path summary of a revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("revision") {
				revision = a.res.MostRecentRevision()
			}
			ps, err := a.res.OpenPathSummary(revision)
			if err != nil {
				return err
			}
			defer func() { _ = ps.Close() }()
			out := cmd.OutOrStdout()

			if asDot {
				s, err := pathsummary.RenderDot(ps)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
				return nil
			}

			entries, err := pathsummary.Entries(ps)
			if err != nil {
				return err
			}
			if match != "" {
				keys, err := ps.PCRsForPath(match)
				if err != nil {
					return err
				}
				kept := entries[:0]
				for _, e := range entries {
					if keys.Contains(uint32(e.Key)) {
						kept = append(kept, e)
					}
				}
				entries = kept
			}
			fmt.Fprintf(out, "%6s %5s %10s %10s  %s\n", "KEY", "LEVEL", "REFS", "NODES", "PATH")
			for _, e := range entries {
				fmt.Fprintf(out, "%6d %5d %10s %10s  %s\n",
					e.Key, e.Level, humanize.Comma(e.References), humanize.Comma(int64(e.Nodes)), e.Path)
			}
			return nil
		},
	}
	c.Flags().IntVarP(&revision, "revision", "r", 0, "Revision to read (default: most recent)")
	c.Flags().BoolVar(&asDot, "dot", false, "Render as a Graphviz digraph")
	c.Flags().StringVar(&match, "match", "", "Only list paths matching a JSONPath expression")
	return c
}
