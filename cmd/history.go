package cmd

import (
	"fmt"
	"strconv"

	"github.com/agentic-research/arbor/internal/axis"
	"github.com/agentic-research/arbor/internal/filter"
	"github.com/agentic-research/arbor/internal/node"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type historyFlags struct {
	axis    string
	kind    string
	name    string
	value   string
	path    string
	fromRev int
}

func newHistoryCmd(a *app) *cobra.Command {
	var f historyFlags
	c := &cobra.Command{
		Use:   "history [node key]",
		Short: "List the revisions in which a node exists and matches the filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("node key %q: %w", args[0], err)
			}
			key := node.Key(k)

			inner, err := f.temporalAxis(a, key, cmd.Flags().Changed("from-revision"))
			if err != nil {
				return err
			}
			filters, err := f.filters(a)
			if err != nil {
				return err
			}
			it := a.res.Filter(inner, filters[0], filters[1:]...)

			out := cmd.OutOrStdout()
			n := 0
			for it.Next() {
				co := it.Coordinate()
				ts, err := a.revisionTime(co.Revision)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\t%s\n", co, ts)
				n++
			}
			if err := it.Err(); err != nil {
				return err
			}
			a.log.Debug().Int64("key", k).Int("matches", n).Msg("history done")
			return nil
		},
	}
	c.Flags().StringVar(&f.axis, "axis", "all", "Temporal axis: all, past, future, first, last, previous or next")
	c.Flags().IntVar(&f.fromRev, "from-revision", 0, "Revision the past, future, previous and next axes start from")
	c.Flags().StringVar(&f.kind, "kind", "", "Only revisions where the node has this kind")
	c.Flags().StringVar(&f.name, "name", "", "Only revisions where the node has this local name")
	c.Flags().StringVar(&f.value, "value", "", "Only revisions where the node has this value")
	c.Flags().StringVar(&f.path, "path", "", "Only revisions where the node is on a path matching this JSONPath")
	return c
}

func (f *historyFlags) temporalAxis(a *app, key node.Key, fromSet bool) (axis.TemporalAxis, error) {
	from := f.fromRev
	if !fromSet {
		from = a.res.MostRecentRevision()
	}
	switch f.axis {
	case "all":
		if fromSet {
			return axis.Future(a.res, from, key, axis.IncludeSelf), nil
		}
		return axis.AllTime(a.res, key), nil
	case "past":
		return axis.Past(a.res, from, key, axis.IncludeSelf), nil
	case "future":
		return axis.Future(a.res, from, key, axis.IncludeSelf), nil
	case "first":
		return axis.First(a.res, key), nil
	case "last":
		return axis.Last(a.res, key), nil
	case "previous":
		return axis.Previous(a.res, from, key), nil
	case "next":
		return axis.Next(a.res, from, key), nil
	}
	return nil, fmt.Errorf("unknown axis %q", f.axis)
}

func (f *historyFlags) filters(a *app) ([]axis.Filter, error) {
	var out []axis.Filter
	if f.kind != "" {
		k, err := node.ParseKind(f.kind)
		if err != nil {
			return nil, err
		}
		out = append(out, filter.Kinds(k))
	}
	if f.name != "" {
		out = append(out, filter.LocalName(f.name))
	}
	if f.value != "" {
		out = append(out, filter.Value(f.value))
	}
	if f.path != "" {
		p, err := filter.Path(f.path, a.res.OpenPathSummary)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = append(out, filter.Func(func(axis.Snapshot) (bool, error) { return true, nil }))
	}
	return out, nil
}

func (a *app) revisionTime(rev int) (string, error) {
	r, err := a.res.BeginNodeReadTrx(rev)
	if err != nil {
		return "", err
	}
	defer func() { _ = r.Close() }()
	return humanize.Time(r.RevisionTimestamp()), nil
}
