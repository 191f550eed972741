package savegame

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/storage/backup"
	"github.com/yndnr/savekeep-go/internal/telemetry/metric"
	"github.com/yndnr/savekeep-go/internal/world"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testWorld is a small world with the well-known scene and clock fragments.
type testWorld struct {
	*world.Aggregator

	Clock   clockSummary
	Scene   sceneSummary
	Counter int

	blocked     error
	failCounter bool
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	w := &testWorld{
		Aggregator: world.NewAggregator(),
		Clock:      clockSummary{Time: domain.GameTime{Day: 1, Hour: 8}},
		Scene:      sceneSummary{Chapter: "prologue", Location: "harbor"},
	}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(w.Register(world.Typed(FragmentClock,
		func() clockSummary { return w.Clock },
		func(v clockSummary) error { w.Clock = v; return nil })))
	must(w.Register(world.Typed(FragmentScene,
		func() sceneSummary { return w.Scene },
		func(v sceneSummary) error { w.Scene = v; return nil })))
	must(w.Register(&world.Funcs{
		Name: "counter",
		SerializeFunc: func() (domain.Fragment, error) {
			if w.failCounter {
				return nil, errors.New("counter offline")
			}
			return domain.Fragment(fmt.Sprintf("%d", w.Counter)), nil
		},
		DeserializeFunc: func(f domain.Fragment) error {
			_, err := fmt.Sscan(string(f), &w.Counter)
			return err
		},
		GuardFunc: func() error { return w.blocked },
	}))
	return w
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	cfg := storage.DefaultConfig(t.TempDir())
	cfg.Backend.Engine = storage.EngineMemory
	s, err := storage.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestManager(t *testing.T, w World, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := DefaultConfig()
	cfg.QuickCooldown = 0
	opts = append([]Option{WithConfig(cfg), WithClock(clock.Now)}, opts...)
	m, err := New(openStore(t), w, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, clock
}

func TestManager_CreateAndLoad(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	m, clock := newTestManager(t, w)

	rec, err := m.CreateSave(ctx, domain.CategoryManual, Named("  before the storm "))
	if err != nil {
		t.Fatalf("CreateSave() error = %v", err)
	}
	if rec.ID != "manual_0" || rec.Slot != 0 {
		t.Errorf("record = %s slot %d, want manual_0", rec.ID, rec.Slot)
	}
	if rec.DisplayName != "before the storm" {
		t.Errorf("DisplayName = %q", rec.DisplayName)
	}
	if !rec.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", rec.CreatedAt, clock.Now())
	}
	if rec.Metadata.Chapter != "prologue" || rec.Metadata.Location != "harbor" {
		t.Errorf("metadata = %+v", rec.Metadata)
	}
	if rec.Metadata.GameTime != (domain.GameTime{Day: 1, Hour: 8}) {
		t.Errorf("GameTime = %v", rec.Metadata.GameTime)
	}
	if rec.Metadata.FragmentCount != 3 || rec.HasWarnings() {
		t.Errorf("FragmentCount = %d, warnings = %v", rec.Metadata.FragmentCount, rec.Metadata.Warnings)
	}

	got, err := m.LoadSave(ctx, "manual_0")
	if err != nil {
		t.Fatalf("LoadSave() error = %v", err)
	}
	if got.Snapshot.Digest() != rec.Snapshot.Digest() || got.DisplayName != rec.DisplayName {
		t.Errorf("LoadSave() = %+v, want %+v", got, rec)
	}

	for _, id := range []string{"manual_1", "bogus", "quick_x"} {
		if _, err := m.LoadSave(ctx, id); !errors.Is(err, domain.ErrSaveNotFound) {
			t.Errorf("LoadSave(%q) error = %v, want ErrSaveNotFound", id, err)
		}
	}
}

func TestManager_QuickRotation(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t, newTestWorld(t))

	var ids []string
	for i := 0; i < 4; i++ {
		rec, err := m.QuickSave(ctx)
		if err != nil {
			t.Fatalf("QuickSave() #%d error = %v", i+1, err)
		}
		ids = append(ids, rec.ID)
		clock.Advance(time.Second)
	}
	want := []string{"quick_0", "quick_1", "quick_2", "quick_0"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("save #%d went to %s, want %s", i+1, ids[i], want[i])
		}
	}

	saves, err := m.ListSaves(ctx, domain.CategoryQuick)
	if err != nil {
		t.Fatal(err)
	}
	if len(saves) != 3 {
		t.Fatalf("ListSaves(quick) = %d records, want 3", len(saves))
	}
	if saves[0].ID != "quick_0" || saves[1].ID != "quick_2" || saves[2].ID != "quick_1" {
		t.Errorf("order = %s, %s, %s; want newest first", saves[0].ID, saves[1].ID, saves[2].ID)
	}
}

func TestManager_LowestFreeSlotAfterDelete(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t, newTestWorld(t))

	for i := 0; i < 3; i++ {
		if _, err := m.CreateSave(ctx, domain.CategoryManual); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Minute)
	}
	if err := m.DeleteSave(ctx, "manual_1"); err != nil {
		t.Fatalf("DeleteSave() error = %v", err)
	}
	if slot, err := m.FindAvailableSlot(ctx, domain.CategoryManual); err != nil || slot != 1 {
		t.Errorf("FindAvailableSlot() = %d, %v; want 1", slot, err)
	}
	rec, err := m.CreateSave(ctx, domain.CategoryManual)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "manual_1" {
		t.Errorf("CreateSave() took %s, want manual_1", rec.ID)
	}
	if err := m.DeleteSave(ctx, "manual_7"); !errors.Is(err, domain.ErrSaveNotFound) {
		t.Errorf("DeleteSave(absent) error = %v", err)
	}
}

func TestPickSlot(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(min int) storage.SlotIndexEntry {
		return storage.SlotIndexEntry{CreatedAt: t0.Add(time.Duration(min) * time.Minute)}
	}
	tests := []struct {
		name string
		used occupied
		n    int
		want int
	}{
		{"empty", occupied{}, 3, 0},
		{"gap", occupied{0: at(1), 2: at(2)}, 3, 1},
		{"full oldest", occupied{0: at(5), 1: at(1), 2: at(3)}, 3, 1},
		{"tie lowest index", occupied{0: at(5), 1: at(2), 2: at(2)}, 3, 1},
		{"all equal", occupied{0: at(0), 1: at(0), 2: at(0)}, 3, 0},
		{"beyond capacity ignored", occupied{0: at(4), 1: at(9), 5: at(0)}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickSlot(tt.used, tt.n)
			if err != nil || got != tt.want {
				t.Errorf("pickSlot() = %d, %v; want %d", got, err, tt.want)
			}
		})
	}
	if _, err := pickSlot(occupied{}, 0); !errors.Is(err, domain.ErrSlotPoolExhausted) {
		t.Errorf("pickSlot(n=0) error = %v", err)
	}
}

func TestManager_ShrunkPoolEvictsOverflow(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	m, clock := newTestManager(t, w)
	for i := 0; i < 3; i++ {
		if _, err := m.QuickSave(ctx); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}

	cfg := m.Config()
	cfg.QuickSlots = 1
	small, err := New(m.store, w, WithConfig(cfg), WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	rec, err := small.QuickSave(ctx)
	if err != nil {
		t.Fatalf("QuickSave() error = %v", err)
	}
	if rec.ID != "quick_0" {
		t.Errorf("QuickSave() took %s, want quick_0", rec.ID)
	}
	saves, _ := small.ListSaves(ctx, domain.CategoryQuick)
	if len(saves) != 1 || saves[0].ID != "quick_0" {
		t.Errorf("quick saves after shrinking the pool = %v, want only quick_0", saveIDs(saves))
	}
	if slot, _ := small.FindAvailableSlot(ctx, domain.CategoryQuick); slot != 0 {
		t.Errorf("FindAvailableSlot() = %d", slot)
	}
}

func saveIDs(recs []*domain.SaveRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

func TestOverflow(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(min int) storage.SlotIndexEntry {
		return storage.SlotIndexEntry{CreatedAt: t0.Add(time.Duration(min) * time.Minute)}
	}
	tests := []struct {
		name string
		used occupied
		slot int
		n    int
		want []int
	}{
		{"within capacity", occupied{0: at(1), 1: at(2)}, 2, 3, nil},
		{"overwrite keeps count", occupied{0: at(1), 1: at(2)}, 0, 2, nil},
		{"room for a stray record", occupied{4: at(1)}, 0, 2, nil},
		{"evict oldest stray", occupied{0: at(5), 3: at(2), 4: at(1)}, 1, 2, []int{4, 3}},
		{"evict only what is needed", occupied{0: at(5), 3: at(2), 4: at(1)}, 0, 2, []int{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overflow(tt.used, tt.slot, tt.n)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("overflow() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManager_Exclusive(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, newTestWorld(t))

	err := m.Exclusive(ctx, func() error {
		if _, err := m.TryCreateSave(ctx, domain.CategoryAuto); !errors.Is(err, domain.ErrBusy) {
			t.Errorf("TryCreateSave() inside Exclusive error = %v, want ErrBusy", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Exclusive() error = %v", err)
	}
	if _, err := m.TryCreateSave(ctx, domain.CategoryAuto); err != nil {
		t.Errorf("TryCreateSave() after Exclusive error = %v", err)
	}
}

func TestManager_AutoUsesSlotZero(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t, newTestWorld(t))

	for i := 0; i < 3; i++ {
		rec, err := m.CreateSave(ctx, domain.CategoryAuto)
		if err != nil {
			t.Fatal(err)
		}
		if rec.ID != "auto_0" {
			t.Errorf("auto save went to %s", rec.ID)
		}
		clock.Advance(time.Second)
	}
	if _, err := m.CreateSave(ctx, domain.CategoryAuto, AtSlot(1)); !errors.Is(err, domain.ErrInvalidSlot) {
		t.Errorf("auto AtSlot(1) error = %v, want ErrInvalidSlot", err)
	}
	if _, err := m.CreateSave(ctx, domain.CategoryManual, AtSlot(10)); !errors.Is(err, domain.ErrInvalidSlot) {
		t.Errorf("manual AtSlot(10) error = %v, want ErrInvalidSlot", err)
	}
	if _, err := m.CreateSave(ctx, "hard"); !errors.Is(err, domain.ErrInvalidCategory) {
		t.Errorf("unknown category error = %v", err)
	}
	saves, _ := m.ListSaves(ctx, domain.CategoryAuto)
	if len(saves) != 1 {
		t.Errorf("ListSaves(auto) = %d records, want 1", len(saves))
	}
}

func TestManager_ConcurrentSavesNeverShareSlot(t *testing.T) {
	ctx := context.Background()
	m, err := New(openStore(t), newTestWorld(t))
	if err != nil {
		t.Fatal(err)
	}

	const n = 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := m.CreateSave(ctx, domain.CategoryManual)
			if err != nil {
				t.Errorf("CreateSave() error = %v", err)
				return
			}
			mu.Lock()
			ids[rec.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ids) != n {
		t.Errorf("got %d distinct ids, want %d: %v", len(ids), n, ids)
	}
	for id, c := range ids {
		if c != 1 {
			t.Errorf("%s claimed by %d saves", id, c)
		}
	}
	counts, err := m.RecordCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["manual"] != n || counts["quick"] != 0 {
		t.Errorf("RecordCounts() = %v", counts)
	}
}

func TestManager_TryCreateSaveBusy(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, newTestWorld(t))

	if err := m.acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := m.TryCreateSave(ctx, domain.CategoryAuto); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("TryCreateSave() error = %v, want ErrBusy", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := m.CreateSave(cctx, domain.CategoryAuto); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("CreateSave() while busy error = %v, want DeadlineExceeded", err)
	}
	m.release()

	if _, err := m.TryCreateSave(ctx, domain.CategoryAuto); err != nil {
		t.Errorf("TryCreateSave() after release error = %v", err)
	}
}

func TestManager_QuickSaveCooldown(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	m, clock := newTestManager(t, w, WithConfig(DefaultConfig()))

	if _, err := m.QuickSave(ctx); err != nil {
		t.Fatalf("first QuickSave() error = %v", err)
	}
	clock.Advance(time.Second)
	if _, err := m.QuickSave(ctx); !errors.Is(err, domain.ErrTooSoon) {
		t.Fatalf("QuickSave() after 1s error = %v, want ErrTooSoon", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := m.QuickSave(ctx); err != nil {
		t.Fatalf("QuickSave() after 3s error = %v", err)
	}

	// A failed quick save does not start the cooldown.
	clock.Advance(5 * time.Second)
	w.blocked = errors.New("mid transition")
	if _, err := m.QuickSave(ctx); !errors.Is(err, domain.ErrNotSavableNow) {
		t.Fatalf("QuickSave() while blocked error = %v", err)
	}
	w.blocked = nil
	if _, err := m.QuickSave(ctx); err != nil {
		t.Errorf("QuickSave() right after a failed one error = %v", err)
	}

	saves, _ := m.ListSaves(ctx, domain.CategoryQuick)
	if len(saves) != 3 {
		t.Errorf("ListSaves(quick) = %d, want 3", len(saves))
	}
}

func TestManager_NotSavableNow(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	reg := metric.NewRegistry()
	m, _ := newTestManager(t, w, WithMetrics(reg))

	w.blocked = errors.New("unresolved modal")
	_, err := m.CreateSave(ctx, domain.CategoryManual)
	if !errors.Is(err, domain.ErrNotSavableNow) {
		t.Fatalf("CreateSave() error = %v, want ErrNotSavableNow", err)
	}
	if saves, _ := m.ListSaves(ctx, ""); len(saves) != 0 {
		t.Errorf("rejected save left %d records", len(saves))
	}
	if got := testutil.ToFloat64(reg.SavesTotal.WithLabelValues("manual", metric.ResultRejected)); got != 1 {
		t.Errorf("rejected saves metric = %v", got)
	}

	custom, _ := newTestManager(t, w, WithEligibility(func() error { return nil }))
	if _, err := custom.CreateSave(ctx, domain.CategoryManual); err != nil {
		t.Errorf("CreateSave() with permissive predicate error = %v", err)
	}
}

func TestManager_PartialCaptureSavesWithWarnings(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	reg := metric.NewRegistry()
	m, _ := newTestManager(t, w, WithMetrics(reg))

	w.failCounter = true
	rec, err := m.CreateSave(ctx, domain.CategoryManual)
	if err != nil {
		t.Fatalf("CreateSave() error = %v", err)
	}
	if !rec.HasWarnings() {
		t.Fatal("partial save has no warnings")
	}
	if _, ok := rec.Snapshot.Fragment("counter"); ok {
		t.Error("failed collaborator has a fragment")
	}
	if rec.Metadata.Chapter != "prologue" {
		t.Errorf("Chapter = %q", rec.Metadata.Chapter)
	}
	if got := testutil.ToFloat64(reg.SavesTotal.WithLabelValues("manual", metric.ResultPartial)); got != 1 {
		t.Errorf("partial saves metric = %v", got)
	}
}

func TestManager_IfNotWrittenSince(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestManager(t, newTestWorld(t))

	trigger := clock.Now()
	clock.Advance(time.Second)
	if _, err := m.CreateSave(ctx, domain.CategoryAuto); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)

	_, err := m.CreateSave(ctx, domain.CategoryAuto, IfNotWrittenSince(trigger))
	if !errors.Is(err, domain.ErrSuperseded) {
		t.Errorf("CreateSave() error = %v, want ErrSuperseded", err)
	}
	if _, err := m.CreateSave(ctx, domain.CategoryAuto, IfNotWrittenSince(clock.Now())); err != nil {
		t.Errorf("CreateSave() with a later bound error = %v", err)
	}
}

func TestManager_RestoreSave(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	reg := metric.NewRegistry()
	m, _ := newTestManager(t, w, WithMetrics(reg))

	w.Counter = 7
	rec, err := m.CreateSave(ctx, domain.CategoryManual)
	if err != nil {
		t.Fatal(err)
	}

	w.Counter = 99
	w.Scene = sceneSummary{Chapter: "act 2", Location: "keep"}
	res, err := m.RestoreSave(ctx, rec.ID)
	if err != nil {
		t.Fatalf("RestoreSave() error = %v", err)
	}
	if w.Counter != 7 || w.Scene.Chapter != "prologue" {
		t.Errorf("world after restore: counter=%d scene=%+v", w.Counter, w.Scene)
	}
	if len(res.Report.Applied) != 3 {
		t.Errorf("Applied = %v", res.Report.Applied)
	}

	var stored domain.Snapshot
	if ok, err := m.store.GetJSON(ctx, storage.TableWorldState, storage.MainKey, &stored); err != nil || !ok {
		t.Fatalf("world_state after restore: %v, %v", ok, err)
	}
	if stored.Digest() != rec.Snapshot.Digest() {
		t.Error("world_state does not match the restored save")
	}

	w.blocked = errors.New("combat")
	if _, err := m.RestoreSave(ctx, rec.ID); !errors.Is(err, domain.ErrNotSavableNow) {
		t.Errorf("RestoreSave() while blocked error = %v", err)
	}
	w.blocked = nil
	if _, err := m.RestoreSave(ctx, "manual_5"); !errors.Is(err, domain.ErrSaveNotFound) {
		t.Errorf("RestoreSave(absent) error = %v", err)
	}
	if got := testutil.ToFloat64(reg.LoadsTotal.WithLabelValues(metric.ResultOK)); got != 1 {
		t.Errorf("loads ok metric = %v", got)
	}
}

func TestManager_QuickLoad(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	m, clock := newTestManager(t, w)

	if _, err := m.QuickLoad(ctx); !errors.Is(err, domain.ErrSaveNotFound) {
		t.Errorf("QuickLoad() with no saves error = %v", err)
	}
	for _, n := range []int{1, 2, 3, 4} {
		w.Counter = n
		if _, err := m.QuickSave(ctx); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}
	w.Counter = 0
	res, err := m.QuickLoad(ctx)
	if err != nil {
		t.Fatalf("QuickLoad() error = %v", err)
	}
	if res.Record.ID != "quick_0" || w.Counter != 4 {
		t.Errorf("QuickLoad() restored %s, counter = %d; want quick_0 and 4", res.Record.ID, w.Counter)
	}
}

func TestManager_RenameSave(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, newTestWorld(t))
	rec, _ := m.CreateSave(ctx, domain.CategoryManual)

	got, err := m.RenameSave(ctx, rec.ID, "  the gate ")
	if err != nil {
		t.Fatalf("RenameSave() error = %v", err)
	}
	if got.DisplayName != "the gate" {
		t.Errorf("DisplayName = %q", got.DisplayName)
	}
	loaded, _ := m.LoadSave(ctx, rec.ID)
	if loaded.DisplayName != "the gate" || !loaded.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("after rename: %+v", loaded.Summary())
	}

	if _, err := m.RenameSave(ctx, rec.ID, "   "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("RenameSave(blank) error = %v", err)
	}
	if _, err := m.RenameSave(ctx, "manual_4", "x"); !errors.Is(err, domain.ErrSaveNotFound) {
		t.Errorf("RenameSave(absent) error = %v", err)
	}
}

func TestManager_DeleteTakesBackup(t *testing.T) {
	ctx := context.Background()
	backups, err := backup.NewManager(backup.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	m, _ := newTestManager(t, newTestWorld(t), WithBackups(backups))
	rec, _ := m.CreateSave(ctx, domain.CategoryManual)

	if err := m.DeleteSave(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteSave() error = %v", err)
	}
	if _, err := m.LoadSave(ctx, rec.ID); !errors.Is(err, domain.ErrSaveNotFound) {
		t.Errorf("LoadSave() after delete error = %v", err)
	}

	list, err := backups.List()
	if err != nil || len(list) != 1 {
		t.Fatalf("backups = %d, %v; want 1", len(list), err)
	}
	tables, _, err := backups.Load(list[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tables[storage.TableSaveSlots][rec.ID]; !ok {
		t.Error("backup does not contain the deleted save")
	}
}

func TestManager_RestoreBackup(t *testing.T) {
	ctx := context.Background()
	backups, err := backup.NewManager(backup.DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	var hooked []ImportResult
	m, _ := newTestManager(t, newTestWorld(t), WithBackups(backups),
		WithImportHook(func(r ImportResult) { hooked = append(hooked, r) }))

	first, _ := m.CreateSave(ctx, domain.CategoryManual)
	second, _ := m.CreateSave(ctx, domain.CategoryManual)
	if err := m.DeleteSave(ctx, first.ID); err != nil {
		t.Fatal(err)
	}
	list, _ := backups.List()
	if len(list) != 1 {
		t.Fatalf("backups = %d", len(list))
	}

	res, err := m.RestoreBackup(ctx, list[0].ID)
	if err != nil {
		t.Fatalf("RestoreBackup() error = %v", err)
	}
	if res.Restored.ID != list[0].ID || res.BackupID == "" {
		t.Errorf("RestoreBackup() = %+v", res)
	}
	saves, _ := m.ListSaves(ctx, "")
	if len(saves) != 2 {
		t.Errorf("saves after restore = %d, want 2", len(saves))
	}
	if _, err := m.LoadSave(ctx, first.ID); err != nil {
		t.Errorf("restored save missing: %v", err)
	}
	if len(hooked) != 1 || len(hooked[0].Saves) != 2 || !hooked[0].ConfigPresets {
		t.Errorf("hooks = %+v", hooked)
	}

	// The index came back too: both manual slots are taken.
	if slot, _ := m.FindAvailableSlot(ctx, domain.CategoryManual); slot != 2 {
		t.Errorf("next manual slot = %d, want 2 (second is %s)", slot, second.ID)
	}

	if _, err := m.RestoreBackup(ctx, "nope"); !errors.Is(err, domain.ErrStorageError) {
		t.Errorf("RestoreBackup(unknown) error = %v", err)
	}
	plain, _ := newTestManager(t, newTestWorld(t))
	if _, err := plain.RestoreBackup(ctx, list[0].ID); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("RestoreBackup() without backups error = %v", err)
	}
}

func TestManager_SyncAndRecoverWorldState(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	m, _ := newTestManager(t, w)

	if report, err := m.RecoverWorldState(ctx); err != nil || report != nil {
		t.Errorf("RecoverWorldState() on empty store = %v, %v", report, err)
	}

	w.Counter = 3
	if wrote, err := m.SyncWorldState(ctx); err != nil || !wrote {
		t.Fatalf("SyncWorldState() = %v, %v", wrote, err)
	}
	if wrote, err := m.SyncWorldState(ctx); err != nil || wrote {
		t.Errorf("SyncWorldState() unchanged = %v, %v; want skipped", wrote, err)
	}

	// A collaborator failing now keeps its last stored fragment.
	w.Counter = 4
	w.failCounter = true
	w.Scene.Location = "tower"
	if wrote, err := m.SyncWorldState(ctx); err != nil || !wrote {
		t.Fatalf("SyncWorldState() partial = %v, %v", wrote, err)
	}
	w.failCounter = false

	w.Counter, w.Scene.Location = 0, ""
	report, err := m.RecoverWorldState(ctx)
	if err != nil || report == nil {
		t.Fatalf("RecoverWorldState() = %v, %v", report, err)
	}
	if w.Counter != 3 || w.Scene.Location != "tower" {
		t.Errorf("recovered counter=%d location=%q; want 3 and tower", w.Counter, w.Scene.Location)
	}
}

func TestManager_ClearAll(t *testing.T) {
	ctx := context.Background()
	backups, _ := backup.NewManager(backup.DefaultConfig(t.TempDir()))
	m, clock := newTestManager(t, newTestWorld(t), WithBackups(backups))

	for _, c := range domain.Categories {
		if _, err := m.CreateSave(ctx, c); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}
	m.SyncWorldState(ctx)
	m.store.Put(ctx, storage.TableConfigPresets, storage.MainKey, []byte(`{"presets":[]}`))

	res, err := m.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if res.Saves != 3 || !res.WorldState || res.BackupID == "" {
		t.Errorf("ClearAll() = %+v", res)
	}
	if saves, _ := m.ListSaves(ctx, ""); len(saves) != 0 {
		t.Errorf("%d saves left", len(saves))
	}
	counts, _ := m.RecordCounts(ctx)
	for c, n := range counts {
		if n != 0 {
			t.Errorf("index still counts %d %s slots", n, c)
		}
	}
	if _, ok, _ := m.store.Get(ctx, storage.TableConfigPresets, storage.MainKey); !ok {
		t.Error("ClearAll removed config presets")
	}
}
