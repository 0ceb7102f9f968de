// Package resource opens the revisions of one stored resource as document
// and path summary transactions.
package resource

import (
	"errors"
	"fmt"

	"github.com/agentic-research/arbor/api"
	"github.com/agentic-research/arbor/internal/axis"
	"github.com/agentic-research/arbor/internal/doc"
	"github.com/agentic-research/arbor/internal/node"
	"github.com/agentic-research/arbor/internal/page"
	"github.com/agentic-research/arbor/internal/pathsummary"
	"github.com/rs/zerolog"
)

// Manager owns a page store and hands out transactions over it. It
// implements axis.Resource and axis.Prober.
type Manager struct {
	name    string
	store   page.Store
	log     zerolog.Logger
	metrics *Metrics
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option { return func(m *Manager) { m.log = l } }
func WithMetrics(mt *Metrics) Option     { return func(m *Manager) { m.metrics = mt } }

// New serves store under name.
func New(name string, store page.Store, opts ...Option) *Manager {
	m := &Manager{name: name, store: store, log: zerolog.Nop()}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With().Str("resource", name).Logger()
	return m
}

// Open validates cfg, opens its store and serves it. Metrics are only
// collected when cfg enables them and WithMetrics is given.
func Open(cfg api.Config, opts ...Option) (*Manager, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	store, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	res := cfg.Resource
	if res == nil {
		res = DefaultConfig().Resource
	}
	m := New(res.Name, store, opts...)
	if !res.Metrics {
		m.metrics = nil
	}
	m.log.Debug().Str("backend", cfg.Store.Backend).Int("revision", store.MostRecentRevision()).Msg("resource opened")
	return m, nil
}

func (m *Manager) Name() string            { return m.name }
func (m *Manager) Store() page.Store       { return m.store }
func (m *Manager) MostRecentRevision() int { return m.store.MostRecentRevision() }
func (m *Manager) Logger() zerolog.Logger  { return m.log }

// BeginNodeReadTrx opens the document at revision.
func (m *Manager) BeginNodeReadTrx(revision int) (*doc.ReadTrx, error) {
	trx, err := m.store.BeginReadTrx(revision)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", m.name, err)
	}
	r, err := doc.NewReadTrx(trx, doc.WithLogger(m.log))
	if err != nil {
		_ = trx.Close()
		return nil, err
	}
	return r, nil
}

// BeginNodeWriteTrx starts editing on top of the most recent revision.
func (m *Manager) BeginNodeWriteTrx() (*doc.WriteTrx, error) {
	wtx, err := m.store.BeginWriteTrx()
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", m.name, err)
	}
	w, err := doc.NewWriteTrx(wtx, m.store, doc.WithLogger(m.log), doc.OnCommit(m.metrics.committed))
	if err != nil {
		_ = wtx.Rollback()
		return nil, err
	}
	return w, nil
}

// OpenPathSummary opens the path summary of revision.
func (m *Manager) OpenPathSummary(revision int) (*pathsummary.Reader, error) {
	trx, err := m.store.BeginReadTrx(revision)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", m.name, err)
	}
	return pathsummary.Open(trx, m.store, pathsummary.WithLogger(m.log))
}

// BeginSnapshot opens a document snapshot for the temporal axes.
func (m *Manager) BeginSnapshot(revision int) (axis.Snapshot, error) {
	r, err := m.BeginNodeReadTrx(revision)
	if err != nil {
		return nil, err
	}
	m.metrics.opened()
	return &snapshot{ReadTrx: r, metrics: m.metrics}, nil
}

// NodeExists reports whether key is stored in the document of revision.
// It reads the page layer directly, so no snapshot is opened or counted.
// Storage faults are logged and reported as absent, as a cursor would.
func (m *Manager) NodeExists(revision int, key node.Key) (bool, error) {
	if key == node.NullKey {
		return false, nil
	}
	trx, err := m.store.BeginReadTrx(revision)
	if err != nil {
		return false, fmt.Errorf("resource %s: %w", m.name, err)
	}
	defer func() { _ = trx.Close() }()
	if _, err := trx.Record(key, page.DocumentIndex); err != nil {
		if !errors.Is(err, page.ErrNotFound) {
			m.log.Warn().Err(err).Int("revision", revision).Int64("key", int64(key)).Msg("node unavailable")
		}
		return false, nil
	}
	return true, nil
}

// Filter wraps a temporal axis in a filtering axis whose outcomes are
// counted.
func (m *Manager) Filter(inner axis.TemporalAxis, first axis.Filter, rest ...axis.Filter) *axis.TemporalFilter {
	return axis.NewTemporalFilter(inner, first, rest...).Observe(m.metrics.candidate)
}

// Close closes the store.
func (m *Manager) Close() error {
	m.log.Debug().Msg("resource closed")
	return m.store.Close()
}

type snapshot struct {
	*doc.ReadTrx
	metrics *Metrics
}

func (s *snapshot) Close() error {
	if s.IsClosed() {
		return nil
	}
	s.metrics.closed()
	return s.ReadTrx.Close()
}
