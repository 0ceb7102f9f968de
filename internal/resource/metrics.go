package resource

import (
	"github.com/agentic-research/arbor/internal/axis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics counts snapshot lifetimes, filter outcomes and commits. Only
// snapshots handed out by Manager.BeginSnapshot are counted; existence
// checks made by the temporal axes go through Manager.NodeExists and are
// not. A nil *Metrics records nothing.
type Metrics struct {
	snapshotsOpened prometheus.Counter
	snapshotsClosed prometheus.Counter
	candidates      *prometheus.CounterVec
	commits         prometheus.Counter
}

// NewMetrics registers the arbor counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		snapshotsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "arbor_snapshots_opened_total",
			Help: "Revision snapshots opened",
		}),
		snapshotsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "arbor_snapshots_closed_total",
			Help: "Revision snapshots closed",
		}),
		candidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_temporal_candidates_total",
			Help: "Temporal filtering axis candidates by result",
		}, []string{"result"}),
		commits: f.NewCounter(prometheus.CounterOpts{
			Name: "arbor_commits_total",
			Help: "Committed revisions",
		}),
	}
}

func (m *Metrics) opened() {
	if m != nil {
		m.snapshotsOpened.Inc()
	}
}

func (m *Metrics) closed() {
	if m != nil {
		m.snapshotsClosed.Inc()
	}
}

func (m *Metrics) candidate(o axis.Outcome) {
	if m != nil {
		m.candidates.WithLabelValues(string(o)).Inc()
	}
}

func (m *Metrics) committed(int) {
	if m != nil {
		m.commits.Inc()
	}
}

// Summary reads the current counter values, keyed by metric name with the
// result label appended for candidates.
func (m *Metrics) Summary() map[string]float64 {
	if m == nil {
		return nil
	}
	out := map[string]float64{
		"arbor_snapshots_opened_total": counterValue(m.snapshotsOpened),
		"arbor_snapshots_closed_total": counterValue(m.snapshotsClosed),
		"arbor_commits_total":          counterValue(m.commits),
	}
	for _, o := range []axis.Outcome{axis.Accepted, axis.Rejected, axis.Failed} {
		out["arbor_temporal_candidates_total:"+string(o)] = counterValue(m.candidates.WithLabelValues(string(o)))
	}
	return out
}

func counterValue(c prometheus.Counter) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}
