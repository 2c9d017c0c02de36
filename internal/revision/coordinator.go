// Package revision wraps every slot mutation in a before/after snapshot pair
// and turns partial updates into one logged change batch.
package revision

import (
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/buildtrack/internal/dbctx"
	"github.com/rpattn/buildtrack/internal/domain"
	"github.com/rpattn/buildtrack/internal/logger"
	"github.com/rpattn/buildtrack/internal/repository"
)

// Phase is how far a mutation got. A failure reports the last phase reached.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBeforeCaptured
	PhaseApplied
	PhaseAfterCaptured
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBeforeCaptured:
		return "before_captured"
	case PhaseApplied:
		return "applied"
	case PhaseAfterCaptured:
		return "after_captured"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// SnapshotCreator captures the current slots of a build.
type SnapshotCreator interface {
	CreateSnapshot(dbc dbctx.Context, buildID, userID int64, snapshotType domain.SnapshotType, description string, maintenanceID *int64) (int64, error)
}

// BatchLogger writes one change batch.
type BatchLogger interface {
	LogChangesBatch(dbc dbctx.Context, buildID, userID int64, changes map[string]domain.ValueChange, description string, prov *domain.Provenance) (domain.BatchID, error)
}

// Capture names the snapshot taken on one side of a mutation.
type Capture struct {
	Type        domain.SnapshotType
	Description string
}

// Applied is what the apply step reports back. A maintenance id links the
// after snapshot to the record that was written.
type Applied struct {
	MaintenanceID *int64
}

// Mutation is one before, apply, after sequence on a build.
type Mutation struct {
	BuildID int64
	UserID  int64
	Before  Capture
	After   Capture
	Apply   func(dbc dbctx.Context) (Applied, error)
}

type Result struct {
	Phase            Phase `json:"-"`
	BeforeSnapshotID int64 `json:"snapshot_before"`
	AfterSnapshotID  int64 `json:"snapshot_after"`
}

// PhaseError reports a mutation that stopped short of AfterCaptured.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("mutation stopped at %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// PhaseOf returns the phase a failed mutation reached, PhaseIdle when err did not come from Run.
func PhaseOf(err error) Phase {
	var phaseErr *PhaseError
	if errors.As(err, &phaseErr) {
		return phaseErr.Phase
	}
	return PhaseIdle
}

type Coordinator struct {
	builds      repository.BuildRepository
	maintenance repository.MaintenanceRepository
	snapshots   SnapshotCreator
	events      BatchLogger
	log         *logger.Logger
	now         func() time.Time
}

type Option func(*Coordinator)

// WithClock sets the source of note timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

func NewCoordinator(
	builds repository.BuildRepository,
	maintenance repository.MaintenanceRepository,
	snapshots SnapshotCreator,
	events BatchLogger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		builds:      builds,
		maintenance: maintenance,
		snapshots:   snapshots,
		events:      events,
		log:         logger.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run captures the before snapshot, applies the mutation and captures the
// after snapshot. The steps are separate statements; a failed apply leaves an
// unreferenced before snapshot behind.
func (c *Coordinator) Run(dbc dbctx.Context, m Mutation) (Result, error) {
	result := Result{Phase: PhaseIdle}
	if m.Apply == nil {
		return result, &PhaseError{Phase: result.Phase, Err: fmt.Errorf("%w: mutation has no apply step", domain.ErrInvalidInput)}
	}
	before := m.Before
	if before.Type == "" {
		before.Type = domain.SnapshotTypeBeforeChange
	}

	beforeID, err := c.snapshots.CreateSnapshot(dbc, m.BuildID, m.UserID, before.Type, before.Description, nil)
	if err != nil {
		return result, &PhaseError{Phase: result.Phase, Err: err}
	}
	result.BeforeSnapshotID = beforeID
	result.Phase = PhaseBeforeCaptured

	applied, err := m.Apply(dbc)
	if err != nil {
		c.log.Warn("mutation apply failed", "build_id", m.BuildID, "before_snapshot_id", beforeID, "error", err)
		return result, &PhaseError{Phase: result.Phase, Err: err}
	}
	result.Phase = PhaseApplied

	afterID, err := c.snapshots.CreateSnapshot(dbc, m.BuildID, m.UserID, m.After.Type, m.After.Description, applied.MaintenanceID)
	if err != nil {
		return result, &PhaseError{Phase: result.Phase, Err: err}
	}
	result.AfterSnapshotID = afterID
	result.Phase = PhaseAfterCaptured
	return result, nil
}
