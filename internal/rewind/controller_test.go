package rewind

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/telemetry/metric"
	"github.com/yndnr/savekeep-go/internal/world"
)

type hp struct {
	Value int `json:"value"`
}

func newWorld(t *testing.T, state *hp, failApply *bool) *world.Aggregator {
	t.Helper()
	a := world.NewAggregator()
	err := a.Register(world.Typed("hp", func() hp { return *state }, func(v hp) error {
		if failApply != nil && *failApply {
			return errors.New("locked")
		}
		*state = v
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestController_OneShot(t *testing.T) {
	state := hp{Value: 10}
	reg := metric.NewRegistry()
	c := New(newWorld(t, &state, nil), WithMetrics(reg))

	if c.State() != StateEmpty {
		t.Fatalf("initial state = %s", c.State())
	}
	if _, err := c.Rewind(); !errors.Is(err, domain.ErrNothingToRewind) {
		t.Fatalf("Rewind() on empty = %v", err)
	}

	if err := c.CommitStep("attack"); err != nil {
		t.Fatal(err)
	}
	if !c.CanRewind() || c.Label() != "attack" {
		t.Fatalf("after CommitStep: armed=%v label=%q", c.CanRewind(), c.Label())
	}
	state.Value = 3

	if _, err := c.Rewind(); err != nil {
		t.Fatalf("Rewind() error = %v", err)
	}
	if state.Value != 10 {
		t.Errorf("hp after rewind = %d, want 10", state.Value)
	}
	if _, err := c.Rewind(); !errors.Is(err, domain.ErrNothingToRewind) {
		t.Errorf("second Rewind() error = %v, want ErrNothingToRewind", err)
	}

	// A new step re-arms.
	if err := c.CommitStep("heal"); err != nil {
		t.Fatal(err)
	}
	state.Value = 20
	if _, err := c.Rewind(); err != nil || state.Value != 10 {
		t.Errorf("Rewind() after re-arm = %v, hp %d", err, state.Value)
	}

	if got := testutil.ToFloat64(reg.RewindsTotal.WithLabelValues(metric.ResultOK)); got != 2 {
		t.Errorf("ok rewinds = %v", got)
	}
	if got := testutil.ToFloat64(reg.RewindsTotal.WithLabelValues(metric.ResultRejected)); got != 2 {
		t.Errorf("rejected rewinds = %v", got)
	}
}

func TestController_CommitReplacesToken(t *testing.T) {
	state := hp{Value: 1}
	c := New(newWorld(t, &state, nil))

	c.CommitStep("one")
	state.Value = 2
	c.CommitStep("two")
	state.Value = 3

	if _, err := c.Rewind(); err != nil {
		t.Fatal(err)
	}
	if state.Value != 2 {
		t.Errorf("hp = %d, want the state before the latest step", state.Value)
	}
}

func TestController_FailedApplyKeepsToken(t *testing.T) {
	state := hp{Value: 5}
	fail := true
	c := New(newWorld(t, &state, &fail))

	c.CommitStep("step")
	state.Value = 1
	if _, err := c.Rewind(); !errors.Is(err, domain.ErrCollaboratorFailed) {
		t.Fatalf("Rewind() error = %v, want ErrCollaboratorFailed", err)
	}
	if !c.CanRewind() {
		t.Fatal("failed rewind consumed the token")
	}
	fail = false
	if _, err := c.Rewind(); err != nil || state.Value != 5 {
		t.Errorf("Rewind() retry = %v, hp %d", err, state.Value)
	}
}

func TestController_CaptureFailureDisarms(t *testing.T) {
	state := hp{Value: 5}
	a := newWorld(t, &state, nil)
	c := New(a)
	c.CommitStep("good")

	broken := &world.Funcs{
		Name:            "broken",
		SerializeFunc:   func() (domain.Fragment, error) { return nil, errors.New("boom") },
		DeserializeFunc: func(domain.Fragment) error { return nil },
	}
	if err := a.Register(broken); err != nil {
		t.Fatal(err)
	}

	// One failing collaborator is a partial capture and still arms.
	if err := c.CommitStep("partial"); err != nil {
		t.Fatalf("CommitStep() with partial capture = %v", err)
	}
	if c.Label() != "partial" {
		t.Errorf("Label() = %q", c.Label())
	}

	c.Invalidate()
	if c.CanRewind() {
		t.Error("Invalidate() left the controller armed")
	}
}

func TestController_Serializer(t *testing.T) {
	state := hp{Value: 10}
	var calls int
	var held bool
	c := New(newWorld(t, &state, nil), WithSerializer(func(fn func() error) error {
		calls++
		held = true
		defer func() { held = false }()
		return fn()
	}))

	if err := c.CommitStep("heal"); err != nil {
		t.Fatal(err)
	}
	state.Value = 20
	if _, err := c.Rewind(); err != nil {
		t.Fatalf("Rewind() error = %v", err)
	}
	if calls != 2 || held {
		t.Errorf("serializer calls = %d, held after return = %v", calls, held)
	}
	if state.Value != 10 {
		t.Errorf("hp after rewind = %d, want 10", state.Value)
	}

	busy := errors.New("busy")
	c = New(newWorld(t, &state, nil), WithSerializer(func(func() error) error { return busy }))
	if err := c.CommitStep("heal"); !errors.Is(err, busy) {
		t.Errorf("CommitStep() error = %v, want serializer error", err)
	}
	if c.CanRewind() {
		t.Error("armed although the capture never ran")
	}
}
