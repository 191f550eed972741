package autosave

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/savegame"
	"github.com/yndnr/savekeep-go/internal/telemetry/metric"
)

// DefaultThreshold is 05:00.
const DefaultThreshold = 5 * 60

// Outcome is what an observed clock event led to.
type Outcome string

const (
	OutcomeNone       Outcome = "none"
	OutcomeFired      Outcome = "fired"
	OutcomeDebounced  Outcome = "debounced"
	OutcomeDeferred   Outcome = "deferred"
	OutcomePending    Outcome = "pending"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeFailed     Outcome = "failed"
)

// Saver is the save manager surface the trigger drives.
type Saver interface {
	CreateSave(ctx context.Context, cat domain.Category, opts ...savegame.SaveOption) (*domain.SaveRecord, error)
	TryCreateSave(ctx context.Context, cat domain.Category, opts ...savegame.SaveOption) (*domain.SaveRecord, error)
}

// Crossed reports whether advancing from -> to passes the time of day
// threshold (minutes after midnight). It returns the absolute minute of the
// latest threshold instance inside (from, to].
func Crossed(from, to domain.GameTime, threshold int) (instance int, ok bool) {
	o := from.AbsoluteMinutes() - threshold
	n := to.AbsoluteMinutes() - threshold
	kOld := domain.FloorDiv(o, domain.MinutesPerDay)
	kNew := domain.FloorDiv(n, domain.MinutesPerDay)
	if kNew <= kOld {
		return 0, false
	}
	return kNew*domain.MinutesPerDay + threshold, true
}

// Option configures a Trigger.
type Option func(*Trigger)

// WithThreshold sets the time of day in minutes after midnight.
func WithThreshold(minutes int) Option {
	return func(t *Trigger) { t.threshold = minutes }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trigger) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithMetrics counts trigger outcomes.
func WithMetrics(r *metric.Registry) Option {
	return func(t *Trigger) { t.metrics = r }
}

// WithClock overrides the wall clock stamped on crossings.
func WithClock(now func() time.Time) Option {
	return func(t *Trigger) {
		if now != nil {
			t.now = now
		}
	}
}

// OnSave registers fn to run after every auto save the trigger creates.
func OnSave(fn func(*domain.SaveRecord)) Option {
	return func(t *Trigger) { t.onSave = fn }
}

type crossing struct {
	instance int
	at       time.Time
	inflight bool
}

// Trigger watches clock events.
type Trigger struct {
	saver     Saver
	threshold int
	logger    *slog.Logger
	metrics   *metric.Registry
	now       func() time.Time
	onSave    func(*domain.SaveRecord)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastFired int
	pending   *crossing
}

// New creates a Trigger. Close stops deferred saves.
func New(saver Saver, opts ...Option) (*Trigger, error) {
	t := &Trigger{
		saver:     saver,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
		now:       time.Now,
		lastFired: math.MinInt,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.threshold < 0 || t.threshold >= domain.MinutesPerDay {
		return nil, domain.ErrInvalidArgument.WithDetailsf("threshold %d outside a day", t.threshold)
	}
	t.logger = t.logger.With("component", "autosave")
	t.ctx, t.cancel = context.WithCancel(context.Background())
	return t, nil
}

// Threshold returns the configured time of day in minutes.
func (t *Trigger) Threshold() int { return t.threshold }

// Observe handles one clock advancement.
func (t *Trigger) Observe(ctx context.Context, from, to domain.GameTime) Outcome {
	t.mu.Lock()
	if inst, ok := Crossed(from, to, t.threshold); ok {
		if inst <= t.lastFired {
			t.mu.Unlock()
			t.logger.Debug("threshold already fired", "instance", domain.GameTimeFromMinutes(inst).String())
			t.record(OutcomeDebounced)
			return OutcomeDebounced
		}
		t.lastFired = inst
		if t.pending != nil && t.pending.inflight {
			// The deferred save will capture the newer world anyway.
			t.pending.instance = inst
			t.mu.Unlock()
			return t.record(OutcomeDeferred)
		}
		t.pending = &crossing{instance: inst, at: t.now()}
		t.logger.Info("autosave threshold crossed",
			"from", from.String(),
			"to", to.String(),
			"instance", domain.GameTimeFromMinutes(inst).String())
	}
	p := t.pending
	t.mu.Unlock()

	if p == nil {
		return OutcomeNone
	}
	return t.attempt(ctx, p)
}

// Retry attempts a pending save, if any.
func (t *Trigger) Retry(ctx context.Context) Outcome {
	t.mu.Lock()
	p := t.pending
	t.mu.Unlock()
	if p == nil {
		return OutcomeNone
	}
	return t.attempt(ctx, p)
}

// Pending reports whether a crossing is waiting for its save.
func (t *Trigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Reset forgets the debounce state and any pending crossing. Call it after
// the clock was moved backwards by a load or rewind.
func (t *Trigger) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFired = math.MinInt
	if t.pending != nil && !t.pending.inflight {
		t.pending = nil
	}
}

// Wait blocks until deferred saves finish.
func (t *Trigger) Wait() { t.wg.Wait() }

// Close cancels deferred saves and waits for them.
func (t *Trigger) Close() {
	t.cancel()
	t.wg.Wait()
}

func (t *Trigger) attempt(ctx context.Context, p *crossing) Outcome {
	t.mu.Lock()
	if p.inflight {
		t.mu.Unlock()
		return OutcomeDeferred
	}
	at := p.at
	t.mu.Unlock()

	rec, err := t.saver.TryCreateSave(ctx, domain.CategoryAuto, savegame.IfNotWrittenSince(at))
	if errors.Is(err, domain.ErrBusy) {
		t.mu.Lock()
		p.inflight = true
		t.mu.Unlock()
		t.logger.Info("save in flight, autosave deferred")

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			rec, err := t.saver.CreateSave(t.ctx, domain.CategoryAuto, savegame.IfNotWrittenSince(at))
			t.mu.Lock()
			p.inflight = false
			t.mu.Unlock()
			t.settle(p, rec, err)
		}()
		return t.record(OutcomeDeferred)
	}
	return t.settle(p, rec, err)
}

// settle applies the result of a save attempt for p.
func (t *Trigger) settle(p *crossing, rec *domain.SaveRecord, err error) Outcome {
	var out Outcome
	switch {
	case err == nil:
		out = OutcomeFired
	case errors.Is(err, domain.ErrSuperseded):
		out = OutcomeSuperseded
	case errors.Is(err, domain.ErrNotSavableNow):
		out = OutcomePending
	default:
		out = OutcomeFailed
	}

	if out == OutcomeFired || out == OutcomeSuperseded {
		t.mu.Lock()
		if t.pending == p {
			t.pending = nil
		}
		t.mu.Unlock()
	}

	switch out {
	case OutcomeFired:
		t.logger.Info("autosave written", "id", rec.ID, "warnings", len(rec.Metadata.Warnings))
		if t.onSave != nil {
			t.onSave(rec)
		}
	case OutcomeSuperseded:
		t.logger.Info("autosave skipped, slot already written for this crossing", "reason", err)
	case OutcomePending:
		t.logger.Info("world not savable, autosave pending", "reason", err)
	default:
		t.logger.Error("autosave failed, will retry", "error", err)
	}
	return t.record(out)
}

func (t *Trigger) record(o Outcome) Outcome {
	t.metrics.IncAutosave(string(o))
	return o
}
