// Package rewind implements one-shot undo of the last committed step.
//
// The controller holds at most one in-memory snapshot taken just before an
// irreversible step. A successful Rewind applies and discards it, so a second
// Rewind fails until the next CommitStep. Tokens are never persisted.
package rewind

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/telemetry/metric"
	"github.com/yndnr/savekeep-go/internal/world"
)

// World is the aggregator surface the controller uses.
type World interface {
	Capture() (domain.Snapshot, error)
	Apply(snap domain.Snapshot) (world.ApplyReport, error)
}

// State of the controller.
type State string

const (
	StateEmpty State = "empty"
	StateArmed State = "armed"
)

// Token is the pre-step snapshot.
type Token struct {
	Snapshot domain.Snapshot
	Label    string
	TakenAt  time.Time
	Consumed bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics counts rewinds.
func WithMetrics(r *metric.Registry) Option {
	return func(c *Controller) { c.metrics = r }
}

// WithSerializer runs every capture and apply through run, which must not
// let them interleave with other world-wide operations such as saves.
func WithSerializer(run func(fn func() error) error) Option {
	return func(c *Controller) {
		if run != nil {
			c.serialize = run
		}
	}
}

// WithClock overrides the clock stamped on tokens.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller holds the rewind token.
type Controller struct {
	world   World
	logger  *slog.Logger
	metrics *metric.Registry
	now     func() time.Time

	serialize func(fn func() error) error

	mu    sync.Mutex
	token *Token
}

// New creates an empty Controller.
func New(w World, opts ...Option) *Controller {
	c := &Controller{
		world:  w,
		logger: slog.Default(),
		now:    time.Now,
		serialize: func(fn func() error) error {
			return fn()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "rewind")
	return c
}

// CommitStep captures the world and makes it the rewind target, replacing
// any previous token. Call it right before an irreversible mutation.
//
// A partial capture still arms the controller; collaborators that failed
// keep their state on rewind. Any other capture failure leaves the
// controller empty.
func (c *Controller) CommitStep(label string) error {
	var snap domain.Snapshot
	var err error
	if serr := c.serialize(func() error {
		snap, err = c.world.Capture()
		return nil
	}); serr != nil {
		return serr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && !errors.Is(err, domain.ErrPartialCapture) {
		c.token = nil
		c.logger.Error("step capture failed, rewind disarmed", "step", label, "error", err)
		return err
	}
	c.token = &Token{Snapshot: snap, Label: label, TakenAt: c.now()}
	if err != nil {
		c.logger.Warn("partial capture for rewind", "step", label, "missing", snap.Missing)
	}
	return nil
}

// CanRewind reports whether an unconsumed token exists.
func (c *Controller) CanRewind() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != nil && !c.token.Consumed
}

// State returns the controller state.
func (c *Controller) State() State {
	if c.CanRewind() {
		return StateArmed
	}
	return StateEmpty
}

// Label returns the label of the armed step, or "".
func (c *Controller) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return ""
	}
	return c.token.Label
}

// Rewind applies the token and discards it. It fails with
// domain.ErrNothingToRewind when nothing is armed. If applying fails the
// token stays armed.
func (c *Controller) Rewind() (world.ApplyReport, error) {
	var report world.ApplyReport
	err := c.serialize(func() error {
		var err error
		report, err = c.rewind()
		return err
	})
	return report, err
}

func (c *Controller) rewind() (world.ApplyReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || c.token.Consumed {
		c.metrics.IncRewind(metric.ResultRejected)
		return world.ApplyReport{}, domain.ErrNothingToRewind
	}
	report, err := c.world.Apply(c.token.Snapshot)
	if err != nil {
		c.metrics.IncRewind(metric.ResultError)
		c.logger.Error("rewind failed, token kept", "step", c.token.Label, "error", err)
		return report, err
	}

	c.token.Consumed = true
	label := c.token.Label
	c.token = nil
	c.metrics.IncRewind(metric.ResultOK)
	c.logger.Info("rewound", "step", label, "applied", len(report.Applied))
	return report, nil
}

// Invalidate drops the token without applying it, e.g. after a save was
// loaded over the world.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}
