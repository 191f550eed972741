package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/yndnr/savekeep-go/internal/autosave"
	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/rewind"
	"github.com/yndnr/savekeep-go/internal/savegame"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/world"
)

func newAggregator(t *testing.T, w *World) *world.Aggregator {
	t.Helper()
	agg := world.NewAggregator()
	if err := w.Register(agg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return agg
}

func TestClock_Advance(t *testing.T) {
	c := NewClock(domain.GameTime{Day: 1, Hour: 23, Minute: 30})

	var events [][2]domain.GameTime
	c.OnAdvance(func(from, to domain.GameTime) {
		events = append(events, [2]domain.GameTime{from, to})
	})

	got, err := c.Advance(45)
	if err != nil {
		t.Fatal(err)
	}
	want := domain.GameTime{Day: 2, Hour: 0, Minute: 15}
	if got != want || c.Now() != want {
		t.Errorf("Advance(45) = %v, want %v", got, want)
	}
	if len(events) != 1 || events[0][0].Hour != 23 || events[0][1] != want {
		t.Errorf("events = %v", events)
	}

	for _, n := range []int{0, -5} {
		if _, err := c.Advance(n); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("Advance(%d) error = %v", n, err)
		}
	}

	// Loading a time is not an advance.
	if err := c.Deserialize(domain.Fragment(`{"time":{"day":1,"hour":6,"minute":0}}`)); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("Deserialize notified observers")
	}
	if err := c.Deserialize(domain.Fragment(`{"time":{"day":1,"hour":25,"minute":0}}`)); err == nil {
		t.Error("Deserialize accepted hour 25")
	}
}

func TestWorld_CaptureApplyRoundTrip(t *testing.T) {
	src := New()
	src.Clock.Advance(90)
	src.Scene.Move("Chapter 2", "Lighthouse")
	src.Actors.AddStat("mara", "hp", 12)
	src.Actors.AddStat("mara", "hp", -2)
	src.Relationships.Bond("mara", "ivo", 3)
	src.Inventory.Give("lantern", 1)
	src.Inventory.Give("rope", 2)
	src.Flags.Set("met_keeper", true)

	snap, err := newAggregator(t, src).Capture()
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	dst := New()
	report, err := newAggregator(t, dst).Apply(snap)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(report.Applied) != 6 {
		t.Errorf("Applied = %v", report.Applied)
	}

	if dst.Clock.Now() != src.Clock.Now() {
		t.Errorf("clock = %v, want %v", dst.Clock.Now(), src.Clock.Now())
	}
	if ch, loc := dst.Scene.Current(); ch != "Chapter 2" || loc != "Lighthouse" {
		t.Errorf("scene = %s/%s", ch, loc)
	}
	if got := dst.Actors.Stat("mara", "hp"); got != 10 {
		t.Errorf("mara hp = %d", got)
	}
	if got := dst.Relationships.Affinity("ivo", "mara"); got != 3 {
		t.Errorf("affinity = %d", got)
	}
	if dst.Inventory.Count("rope") != 2 || dst.Inventory.Count("lantern") != 1 {
		t.Errorf("inventory = %v", dst.Inventory.Keys())
	}
	if !dst.Flags.IsSet("met_keeper") {
		t.Error("flag lost")
	}

	again, _ := newAggregator(t, dst).Capture()
	if again.Digest() != snap.Digest() {
		t.Error("recaptured snapshot differs from the applied one")
	}
}

func TestInventory_GiveNeverNegative(t *testing.T) {
	inv := NewInventory()
	inv.Give("coin", 3)
	if got := inv.Give("coin", -5); got != 0 {
		t.Errorf("Give(-5) = %d, want 0", got)
	}
	if len(inv.Keys()) != 0 {
		t.Errorf("empty entry kept: %v", inv.Keys())
	}
}

func TestScene_GuardsTransitions(t *testing.T) {
	w := New()
	agg := newAggregator(t, w)

	w.Scene.SetTransitioning(true)
	if err := agg.CheckSavable(); !errors.Is(err, domain.ErrNotSavableNow) {
		t.Errorf("CheckSavable() during transition = %v", err)
	}
	w.Scene.SetTransitioning(false)
	if err := agg.CheckSavable(); err != nil {
		t.Errorf("CheckSavable() = %v", err)
	}
}

// TestWorld_SessionFlow plays a short session: step, rewind, overnight
// advance with an autosave, then loading it back.
func TestWorld_SessionFlow(t *testing.T) {
	ctx := context.Background()

	cfg := storage.DefaultConfig(t.TempDir())
	cfg.Backend.Engine = storage.EngineMemory
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	w := New()
	agg := newAggregator(t, w)
	saves, err := savegame.New(store, agg)
	if err != nil {
		t.Fatal(err)
	}
	rw := rewind.New(agg)
	trigger, err := autosave.New(saves)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(trigger.Close)
	w.Clock.OnAdvance(func(from, to domain.GameTime) { trigger.Observe(ctx, from, to) })

	// Step and undo it.
	w.Inventory.Give("potion", 2)
	if err := rw.CommitStep("drink"); err != nil {
		t.Fatal(err)
	}
	w.Inventory.Give("potion", -1)
	if _, err := rw.Rewind(); err != nil {
		t.Fatalf("Rewind() error = %v", err)
	}
	if got := w.Inventory.Count("potion"); got != 2 {
		t.Errorf("potions after rewind = %d, want 2", got)
	}

	// 08:00 day 1 to 10:00 day 2 crosses 05:00 once.
	w.Clock.Advance(26 * 60)
	trigger.Wait()
	autos, _ := saves.ListSaves(ctx, domain.CategoryAuto)
	if len(autos) != 1 {
		t.Fatalf("auto saves = %d, want 1", len(autos))
	}
	if got := autos[0].Metadata.GameTime; got != (domain.GameTime{Day: 2, Hour: 10}) {
		t.Errorf("auto save game time = %v", got)
	}
	if autos[0].Metadata.Chapter != "Prologue" {
		t.Errorf("auto save chapter = %q", autos[0].Metadata.Chapter)
	}

	// Diverge and load the autosave back.
	w.Inventory.Give("potion", 5)
	w.Scene.Move("Chapter 3", "Cave")
	if _, err := saves.RestoreSave(ctx, autos[0].ID); err != nil {
		t.Fatalf("RestoreSave() error = %v", err)
	}
	if got := w.Inventory.Count("potion"); got != 2 {
		t.Errorf("potions after load = %d, want 2", got)
	}
	if ch, _ := w.Scene.Current(); ch != "Prologue" {
		t.Errorf("chapter after load = %q", ch)
	}
}
