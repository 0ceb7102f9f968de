package axis

import (
	"fmt"
)

// Filter decides whether the node a snapshot is positioned at qualifies.
type Filter interface {
	Filter(s Snapshot) (bool, error)
}

// Outcome is the result of evaluating one candidate coordinate.
type Outcome string

const (
	Accepted Outcome = "accepted"
	Rejected Outcome = "rejected"
	Failed   Outcome = "error"
)

// TemporalFilter yields the coordinates of an inner temporal axis that pass
// every filter, in the inner axis's order. Each candidate is evaluated
// against its own snapshot, which is closed before Next returns, so
// abandoning the iteration never leaves a snapshot open.
type TemporalFilter struct {
	inner   TemporalAxis
	filters []Filter
	observe func(Outcome)

	cur Coordinate
	err error
}

// NewTemporalFilter combines inner with one or more filters, applied in
// order with short-circuit AND.
func NewTemporalFilter(inner TemporalAxis, first Filter, rest ...Filter) *TemporalFilter {
	return &TemporalFilter{
		inner:   inner,
		filters: append([]Filter{first}, rest...),
		observe: func(Outcome) {},
	}
}

// Observe registers fn to be called with the outcome of every candidate.
func (f *TemporalFilter) Observe(fn func(Outcome)) *TemporalFilter {
	f.observe = fn
	return f
}

func (f *TemporalFilter) Next() bool {
	if f.err != nil {
		return false
	}
	for f.inner.Next() {
		c := f.inner.Coordinate()
		ok, err := f.evaluate(c)
		if err != nil {
			f.observe(Failed)
			f.err = err
			return false
		}
		if ok {
			f.observe(Accepted)
			f.cur = c
			return true
		}
		f.observe(Rejected)
	}
	f.err = f.inner.Err()
	return false
}

func (f *TemporalFilter) evaluate(c Coordinate) (ok bool, err error) {
	snap, err := f.inner.Resource().BeginSnapshot(c.Revision)
	if err != nil {
		return false, fmt.Errorf("open snapshot for %s: %w", c, err)
	}
	defer func() {
		if cerr := snap.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close snapshot for %s: %w", c, cerr)
		}
	}()

	moved, err := snap.MoveTo(c.NodeKey)
	if err != nil {
		return false, fmt.Errorf("position snapshot at %s: %w", c, err)
	}
	if !moved {
		return false, nil
	}
	for _, flt := range f.filters {
		ok, err := flt.Filter(snap)
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", c, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (f *TemporalFilter) Coordinate() Coordinate { return f.cur }
func (f *TemporalFilter) Err() error             { return f.err }
func (f *TemporalFilter) Resource() Resource     { return f.inner.Resource() }

// Inner returns the wrapped axis.
func (f *TemporalFilter) Inner() TemporalAxis { return f.inner }

// Collect drains a into a slice.
func Collect(a TemporalAxis) ([]Coordinate, error) {
	var out []Coordinate
	for a.Next() {
		out = append(out, a.Coordinate())
	}
	return out, a.Err()
}
