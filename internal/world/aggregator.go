package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

// Aggregator holds the ordered collaborator registry.
type Aggregator struct {
	mu     sync.RWMutex
	order  []Collaborator
	byID   map[string]Collaborator
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator returns an empty registry.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		byID:   make(map[string]Collaborator),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "aggregator")
	return a
}

// Register appends c to the registry.
func (a *Aggregator) Register(c Collaborator) error {
	if c == nil || strings.TrimSpace(c.ID()) == "" {
		return domain.ErrInvalidArgument.WithDetails("collaborator id is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	id := c.ID()
	if _, exists := a.byID[id]; exists {
		return domain.ErrDuplicateCollaborator.WithDetailsf("id %q", id)
	}
	a.order = append(a.order, c)
	a.byID[id] = c
	a.logger.Debug("collaborator registered", "id", id, "position", len(a.order)-1)
	return nil
}

// IDs returns registered ids in registry order.
func (a *Aggregator) IDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, len(a.order))
	for i, c := range a.order {
		ids[i] = c.ID()
	}
	return ids
}

func (a *Aggregator) snapshotRegistry() []Collaborator {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Collaborator(nil), a.order...)
}

// Capture serializes every collaborator in registry order.
//
// The returned snapshot is always usable. When one or more collaborators
// fail, their fragments are absent, their ids are listed in Missing and the
// error matches domain.ErrPartialCapture; errors.As finds each
// *CollaboratorError.
func (a *Aggregator) Capture() (domain.Snapshot, error) {
	snap := domain.NewSnapshot(a.now())
	var failures []error

	for _, c := range a.snapshotRegistry() {
		id := c.ID()
		snap.Order = append(snap.Order, id)

		frag, err := safeSerialize(c)
		if err == nil && !json.Valid(frag) {
			err = errors.New("fragment is not valid JSON")
		}
		if err != nil {
			cerr := &CollaboratorError{ID: id, Op: "serialize", Err: err}
			failures = append(failures, cerr)
			snap.Missing = append(snap.Missing, id)
			a.logger.Warn("collaborator serialize failed", "id", id, "error", err)
			continue
		}
		snap.Fragments[id] = append(domain.Fragment(nil), frag...)
	}

	if len(failures) > 0 {
		return snap, domain.ErrPartialCapture.
			WithDetailsf("%d of %d collaborators failed: %s", len(failures), len(snap.Order), strings.Join(snap.Missing, ", ")).
			WithCause(errors.Join(failures...))
	}
	return snap, nil
}

// ApplyReport summarizes an Apply.
type ApplyReport struct {
	// Applied lists collaborators that accepted their fragment.
	Applied []string
	// Untouched lists collaborators with no fragment in the snapshot.
	Untouched []string
	// Unknown lists fragment ids with no registered collaborator.
	Unknown []string
	// Failed lists collaborators whose Deserialize failed.
	Failed []string
}

// Apply hands each fragment to its collaborator in registry order.
//
// Fragments with no registered collaborator are ignored. Collaborators with
// no fragment keep their current state. Every Deserialize failure is
// collected; the error matches domain.ErrCollaboratorFailed.
func (a *Aggregator) Apply(snap domain.Snapshot) (ApplyReport, error) {
	var (
		report   ApplyReport
		failures []error
		known    = make(map[string]bool)
	)

	for _, c := range a.snapshotRegistry() {
		id := c.ID()
		known[id] = true

		frag, ok := snap.Fragment(id)
		if !ok {
			report.Untouched = append(report.Untouched, id)
			continue
		}
		if err := safeDeserialize(c, append(domain.Fragment(nil), frag...)); err != nil {
			failures = append(failures, &CollaboratorError{ID: id, Op: "deserialize", Err: err})
			report.Failed = append(report.Failed, id)
			a.logger.Warn("collaborator deserialize failed", "id", id, "error", err)
			continue
		}
		report.Applied = append(report.Applied, id)
	}

	for _, id := range snap.IDs() {
		if !known[id] {
			report.Unknown = append(report.Unknown, id)
		}
	}
	if len(report.Unknown) > 0 {
		a.logger.Debug("ignoring unknown fragments", "ids", report.Unknown)
	}

	if len(failures) > 0 {
		return report, domain.ErrCollaboratorFailed.
			WithDetailsf("deserialize failed for %s", strings.Join(report.Failed, ", ")).
			WithCause(errors.Join(failures...))
	}
	return report, nil
}

// CheckSavable consults every Guard. It returns nil when all agree, or an
// error matching domain.ErrNotSavableNow naming each objection.
func (a *Aggregator) CheckSavable() error {
	var (
		reasons  []string
		failures []error
	)
	for _, c := range a.snapshotRegistry() {
		g, ok := c.(Guard)
		if !ok {
			continue
		}
		if err := g.SafeToSave(); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", c.ID(), err))
			failures = append(failures, &CollaboratorError{ID: c.ID(), Op: "guard", Err: err})
		}
	}
	if len(reasons) == 0 {
		return nil
	}
	return domain.ErrNotSavableNow.WithDetails(strings.Join(reasons, "; ")).WithCause(errors.Join(failures...))
}

func safeSerialize(c Collaborator) (frag domain.Fragment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Serialize()
}

func safeDeserialize(c Collaborator, frag domain.Fragment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Deserialize(frag)
}
