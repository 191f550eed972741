package benchmark

import (
	"context"
	"fmt"
	"runtime"
	"testing"

	"github.com/yndnr/savekeep-go/internal/sandbox"
	"github.com/yndnr/savekeep-go/internal/savegame"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/telemetry/logger"
	"github.com/yndnr/savekeep-go/internal/world"
)

// WorldSizes is the number of inventory items and flags in the world.
var WorldSizes = []int{100, 1000, 10000}

// Engines are the durable engines compared by the store benchmarks.
var Engines = []string{storage.EngineBadger, storage.EngineSQLite, storage.EngineMemory}

// newWorld builds a sandbox world with size items, flags and actors.
func newWorld(size int) *sandbox.World {
	w := sandbox.New()
	for i := 0; i < size; i++ {
		w.Inventory.Give(fmt.Sprintf("item-%d", i), i%7+1)
		w.Flags.Set(fmt.Sprintf("flag-%d", i), i%2 == 0)
		if i%10 == 0 {
			actor := fmt.Sprintf("npc-%d", i)
			w.Actors.AddStat(actor, "courage", i%5)
			w.Relationships.Bond(actor, "hero", i%9)
		}
	}
	return w
}

func newAggregator(b *testing.B, w *sandbox.World) *world.Aggregator {
	b.Helper()
	agg := world.NewAggregator(world.WithLogger(logger.Discard()))
	if err := w.Register(agg); err != nil {
		b.Fatal(err)
	}
	return agg
}

func openStore(b *testing.B, engine string) *storage.Store {
	b.Helper()
	cfg := storage.DefaultConfig(b.TempDir())
	cfg.Backend.Engine = engine
	cfg.Backend.Badger.SyncWrites = false
	cfg.Logger = logger.Discard()
	s, err := storage.Open(context.Background(), cfg)
	if err != nil {
		b.Fatalf("storage.Open(%s) error = %v", engine, err)
	}
	b.Cleanup(func() { s.Close() })
	return s
}

func newManager(b *testing.B, engine string, size int, opts ...savegame.Option) *savegame.Manager {
	b.Helper()
	cfg := savegame.DefaultConfig()
	cfg.QuickCooldown = 0
	opts = append([]savegame.Option{savegame.WithConfig(cfg), savegame.WithLogger(logger.Discard())}, opts...)
	m, err := savegame.New(openStore(b, engine), newAggregator(b, newWorld(size)), opts...)
	if err != nil {
		b.Fatal(err)
	}
	return m
}

// reportMemory reports memory usage.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.Alloc)/(1024*1024), prefix+"_MB")
	b.ReportMetric(float64(m.NumGC), prefix+"_GC")
}

// runWithSizes runs a benchmark function for every world size.
func runWithSizes(b *testing.B, sizes []int, benchFn func(b *testing.B, size int)) {
	for _, size := range sizes {
		b.Run(fmt.Sprintf("world_%d", size), func(b *testing.B) {
			benchFn(b, size)
		})
	}
}
