// Package governor enforces the concurrency budgets for ReAct sessions and
// workflows.
//
// Invariants:
//   - The check and the increment of a budget happen under one lock.
//   - A lease decrements its budget exactly once, however often Release is called.
//   - Lowering a budget never revokes leases that were already issued.
package governor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/harun/sigap/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Kind names a budget
type Kind string

const (
	KindReAct    Kind = "react"
	KindWorkflow Kind = "workflow"
)

const (
	DefaultMaxReActSessions = 10
	DefaultMaxWorkflows     = 5
)

// ErrResourceExhausted is returned when a budget is at capacity
var ErrResourceExhausted = errors.New("capacity exceeded")

// Config holds the budgets
type Config struct {
	MaxReActSessions int
	MaxWorkflows     int
	Logger           zerolog.Logger
}

// Stats is a snapshot of a budget
type Stats struct {
	Kind     Kind `json:"kind"`
	Active   int  `json:"active"`
	Capacity int  `json:"capacity"`
	Rejected int  `json:"rejected"`
}

// Governor tracks active leases per budget
type Governor struct {
	mu       sync.Mutex
	active   map[Kind]int
	limits   map[Kind]int
	rejected map[Kind]int
	logger   zerolog.Logger
}

// New creates a governor. Non-positive budgets fall back to the defaults.
func New(cfg Config) *Governor {
	if cfg.MaxReActSessions <= 0 {
		cfg.MaxReActSessions = DefaultMaxReActSessions
	}
	if cfg.MaxWorkflows <= 0 {
		cfg.MaxWorkflows = DefaultMaxWorkflows
	}

	g := &Governor{
		active:   map[Kind]int{KindReAct: 0, KindWorkflow: 0},
		limits:   map[Kind]int{KindReAct: cfg.MaxReActSessions, KindWorkflow: cfg.MaxWorkflows},
		rejected: map[Kind]int{KindReAct: 0, KindWorkflow: 0},
		logger:   cfg.Logger.With().Str("component", "governor").Logger(),
	}

	for kind, limit := range g.limits {
		observability.SetLeaseCapacity(string(kind), limit)
		observability.SetActiveLeases(string(kind), 0)
	}

	return g
}

// TryAdmit reserves one slot of the given budget or fails immediately
func (g *Governor) TryAdmit(kind Kind) (*Lease, error) {
	g.mu.Lock()
	limit, ok := g.limits[kind]
	if !ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("unknown budget kind %q", kind)
	}

	if g.active[kind] >= limit {
		g.rejected[kind]++
		active := g.active[kind]
		g.mu.Unlock()

		observability.RecordAdmission(string(kind), false, active)
		g.logger.Warn().
			Str("kind", string(kind)).
			Int("active", active).
			Int("capacity", limit).
			Msg("Admission rejected")

		return nil, fmt.Errorf("%s budget (%d/%d): %w", kind, active, limit, ErrResourceExhausted)
	}

	g.active[kind]++
	active := g.active[kind]
	g.mu.Unlock()

	observability.RecordAdmission(string(kind), true, active)

	lease := &Lease{
		id:   gonanoid.Must(12),
		kind: kind,
		gov:  g,
	}

	g.logger.Debug().
		Str("kind", string(kind)).
		Str("lease_id", lease.id).
		Int("active", active).
		Msg("Lease granted")

	return lease, nil
}

func (g *Governor) release(kind Kind) {
	g.mu.Lock()
	if g.active[kind] > 0 {
		g.active[kind]--
	}
	active := g.active[kind]
	g.mu.Unlock()

	observability.SetActiveLeases(string(kind), active)
}

// SetLimits updates the budgets. Non-positive values leave a budget unchanged.
func (g *Governor) SetLimits(maxReAct, maxWorkflows int) {
	g.mu.Lock()
	if maxReAct > 0 {
		g.limits[KindReAct] = maxReAct
	}
	if maxWorkflows > 0 {
		g.limits[KindWorkflow] = maxWorkflows
	}
	react, workflow := g.limits[KindReAct], g.limits[KindWorkflow]
	g.mu.Unlock()

	observability.SetLeaseCapacity(string(KindReAct), react)
	observability.SetLeaseCapacity(string(KindWorkflow), workflow)

	g.logger.Info().
		Int("react", react).
		Int("workflow", workflow).
		Msg("Budgets updated")
}

// Stats returns a snapshot of one budget
func (g *Governor) Stats(kind Kind) Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Stats{
		Kind:     kind,
		Active:   g.active[kind],
		Capacity: g.limits[kind],
		Rejected: g.rejected[kind],
	}
}

// Saturated reports whether every budget is at capacity, in which case no
// request needing a lease can be admitted
func (g *Governor) Saturated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for kind, limit := range g.limits {
		if g.active[kind] < limit {
			return false
		}
	}
	return true
}

// Lease is one reserved slot of a budget
type Lease struct {
	id   string
	kind Kind
	gov  *Governor
	once sync.Once
}

// ID returns the lease identifier
func (l *Lease) ID() string {
	return l.id
}

// Kind returns the budget the lease belongs to
func (l *Lease) Kind() Kind {
	return l.kind
}

// Release returns the slot. Safe to call more than once and on a nil lease.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.gov.release(l.kind)
	})
}
