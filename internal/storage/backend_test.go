package storage

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
)

func openTestBackends(t *testing.T) map[string]Backend {
	t.Helper()
	logger := slog.Default()

	cfg := DefaultBackendConfig(t.TempDir())
	cfg.Badger.GCInterval = "1h"
	cfg.Badger.SyncWrites = false
	bdg, err := NewBadgerBackend(cfg, logger)
	if err != nil {
		t.Fatalf("NewBadgerBackend() error = %v", err)
	}

	sq, err := NewSQLiteBackend(BackendConfig{Engine: EngineSQLite, Dir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("NewSQLiteBackend() error = %v", err)
	}

	mem, err := NewMemoryBackend(DefaultBadgerConfig(), logger)
	if err != nil {
		t.Fatalf("NewMemoryBackend() error = %v", err)
	}

	backends := map[string]Backend{EngineBadger: bdg, EngineSQLite: sq, EngineMemory: mem}
	t.Cleanup(func() {
		for _, b := range backends {
			b.Close()
		}
	})
	return backends
}

func TestBackend_TableOperations(t *testing.T) {
	ctx := context.Background()

	for name, b := range openTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			if b.Name() != name {
				t.Errorf("Name() = %q, want %q", b.Name(), name)
			}

			err := b.Update(ctx, func(rw ReadWriter) error {
				if err := rw.CreateTable("empty"); err != nil {
					return err
				}
				for _, k := range []string{"b", "a", "c"} {
					if err := rw.Set("letters", k, []byte("v-"+k)); err != nil {
						return err
					}
				}
				return rw.SetMeta("schema_version", []byte("3"))
			})
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}

			err = b.View(ctx, func(r Reader) error {
				tables, err := r.Tables()
				if err != nil {
					return err
				}
				if want := []string{"empty", "letters"}; !reflect.DeepEqual(tables, want) {
					t.Errorf("Tables() = %v, want %v", tables, want)
				}

				v, err := r.Get("letters", "a")
				if err != nil || string(v) != "v-a" {
					t.Errorf("Get(a) = %q, %v", v, err)
				}
				if _, err := r.Get("letters", "zz"); !errors.Is(err, ErrKeyNotFound) {
					t.Errorf("Get(zz) error = %v, want ErrKeyNotFound", err)
				}
				if _, err := r.Meta("missing"); !errors.Is(err, ErrKeyNotFound) {
					t.Errorf("Meta(missing) error = %v, want ErrKeyNotFound", err)
				}

				var keys []string
				if err := r.Scan("letters", func(key string, _ []byte) bool {
					keys = append(keys, key)
					return true
				}); err != nil {
					return err
				}
				if want := []string{"a", "b", "c"}; !reflect.DeepEqual(keys, want) {
					t.Errorf("Scan() keys = %v, want %v", keys, want)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("View() error = %v", err)
			}
		})
	}
}

func TestBackend_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	for name, b := range openTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := b.Update(ctx, func(rw ReadWriter) error {
				return rw.Set("t", "keep", []byte("1"))
			}); err != nil {
				t.Fatal(err)
			}

			err := b.Update(ctx, func(rw ReadWriter) error {
				if err := rw.Set("t", "partial", []byte("x")); err != nil {
					return err
				}
				if err := rw.Delete("t", "keep"); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Update() error = %v, want boom", err)
			}

			b.View(ctx, func(r Reader) error {
				if _, err := r.Get("t", "partial"); !errors.Is(err, ErrKeyNotFound) {
					t.Error("partial write survived a failed transaction")
				}
				if _, err := r.Get("t", "keep"); err != nil {
					t.Error("delete survived a failed transaction")
				}
				return nil
			})
		})
	}
}

func TestBackend_DropTable(t *testing.T) {
	ctx := context.Background()

	for name, b := range openTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			b.Update(ctx, func(rw ReadWriter) error {
				rw.Set("gone", "k", []byte("v"))
				return rw.Set("gone2", "k", []byte("v"))
			})
			if err := b.Update(ctx, func(rw ReadWriter) error {
				return rw.DropTable("gone")
			}); err != nil {
				t.Fatalf("DropTable() error = %v", err)
			}
			b.View(ctx, func(r Reader) error {
				tables, _ := r.Tables()
				if !reflect.DeepEqual(tables, []string{"gone2"}) {
					t.Errorf("Tables() = %v, want [gone2]", tables)
				}
				if _, err := r.Get("gone", "k"); !errors.Is(err, ErrKeyNotFound) {
					t.Error("dropped table still has keys")
				}
				return nil
			})
		})
	}
}

func TestOpenBackend_UnknownEngine(t *testing.T) {
	if _, err := OpenBackend(BackendConfig{Engine: "pebble", Dir: t.TempDir()}, nil); err == nil {
		t.Error("OpenBackend() expected error for unknown engine")
	}
}

func TestBadgerBackend_GCAndStats(t *testing.T) {
	cfg := DefaultBackendConfig(t.TempDir())
	cfg.Badger.GCInterval = "1h"
	b, err := NewBadgerBackend(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if _, err := b.GC(context.Background()); err != nil {
		t.Errorf("GC() error = %v", err)
	}
	stats, err := b.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Engine != EngineBadger {
		t.Errorf("Stats().Engine = %q", stats.Engine)
	}
	if stats.LastGCTime == 0 {
		t.Error("LastGCTime not recorded")
	}
}
