package cmd

import (
	"fmt"
	"os"

	"github.com/agentic-research/arbor/internal/page"
	"github.com/agentic-research/arbor/internal/pathsummary"
	"github.com/agentic-research/arbor/internal/resource"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the resource at its most recent revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := a.res.MostRecentRevision()
			r, err := a.res.BeginNodeReadTrx(rev)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()
			ps, err := a.res.OpenPathSummary(rev)
			if err != nil {
				return err
			}
			defer func() { _ = ps.Close() }()

			entries, err := pathsummary.Entries(ps)
			if err != nil {
				return err
			}
			var refs int64
			for _, e := range entries {
				refs += e.References
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "resource:    %s\n", a.res.Name())
			fmt.Fprintf(out, "revisions:   %s (latest %d, %s)\n",
				humanize.Comma(int64(rev+1)), rev, humanize.Time(r.RevisionTimestamp()))
			fmt.Fprintf(out, "nodes:       %s\n", humanize.Comma(r.DescendantCount()))
			fmt.Fprintf(out, "paths:       %s\n", humanize.Comma(int64(len(entries))))
			fmt.Fprintf(out, "references:  %s\n", humanize.Comma(refs))
			if s, ok := a.res.Store().(*page.SQLiteStore); ok {
				if info, err := os.Stat(s.Path()); err == nil {
					fmt.Fprintf(out, "store:       %s (%s)\n", s.Path(), humanize.Bytes(uint64(info.Size())))
				}
			} else {
				fmt.Fprintf(out, "store:       %s\n", resource.BackendMemory)
			}
			return nil
		},
	}
}
