package backup

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/pkg/crypto/adaptive"
)

func sampleTables() storage.Tables {
	return storage.Tables{
		storage.TableWorldState: storage.Table{storage.MainKey: []byte(`{"clock":{"day":1}}`)},
		storage.TableSaveSlots: storage.Table{
			"quick_0": []byte(`{"id":"quick_0"}`),
			"quick_1": []byte(`{"id":"quick_1"}`),
		},
		storage.TableConfigPresets: storage.Table{},
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestManager_CreateLoad(t *testing.T) {
	m := newTestManager(t, Config{})

	info, err := m.Create(sampleTables(), 3, "pre-import")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if info.Records != 3 || info.Tables != 3 || info.SchemaVersion != 3 {
		t.Errorf("Create() info = %+v", info)
	}

	tables, loaded, err := m.Load(info.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(tables, sampleTables()) {
		t.Errorf("Load() tables = %v", tables)
	}
	if loaded.Reason != "pre-import" || loaded.Checksum != info.Checksum {
		t.Errorf("Load() info = %+v", loaded)
	}
}

func TestManager_Encrypted(t *testing.T) {
	key := make([]byte, adaptive.KeySize)
	c, err := adaptive.New(key)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir, Cipher: c})

	info, err := m.Create(sampleTables(), 3, "manual")
	if err != nil {
		t.Fatal(err)
	}
	if !info.Encrypted {
		t.Error("Info.Encrypted = false")
	}
	if _, _, err := m.Load(info.ID); err != nil {
		t.Errorf("Load() with key error = %v", err)
	}

	plain := newTestManager(t, Config{Dir: dir})
	if _, _, err := plain.Load(info.ID); !errors.Is(err, ErrEncrypted) {
		t.Errorf("Load() without key error = %v, want ErrEncrypted", err)
	}
	list, err := plain.List()
	if err != nil || len(list) != 1 || !list[0].Encrypted {
		t.Errorf("List() without key = %v, %v", list, err)
	}
}

func TestManager_LatestSkipsCorrupt(t *testing.T) {
	m := newTestManager(t, Config{})

	good, err := m.Create(sampleTables(), 3, "first")
	if err != nil {
		t.Fatal(err)
	}
	bad, err := m.Create(storage.Tables{"x": storage.Table{"k": []byte("v")}}, 3, "second")
	if err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(bad.Path)
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(bad.Path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	_, info, err := m.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if info.ID != good.ID {
		t.Errorf("Latest() = %s, want %s", info.ID, good.ID)
	}
}

func TestManager_LatestEmpty(t *testing.T) {
	m := newTestManager(t, Config{})
	if _, _, err := m.Latest(); !errors.Is(err, ErrNoBackups) {
		t.Errorf("Latest() error = %v, want ErrNoBackups", err)
	}
}

func TestManager_LoadUnknown(t *testing.T) {
	m := newTestManager(t, Config{})
	for _, id := range []string{"backup-nope", "../etc/passwd", "other"} {
		if _, _, err := m.Load(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestManager_PruneByCount(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir, RetentionCount: 2, RetentionDays: 1})

	var ids []string
	for i := 0; i < 4; i++ {
		info, err := m.Create(sampleTables(), 3, "loop")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, info.ID)
		old := time.Now().Add(-72 * time.Hour)
		os.Chtimes(info.Path, old, old)
	}

	list, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("List() len = %d, want 2", len(list))
	}
	if list[0].ID != ids[2] || list[1].ID != ids[3] {
		t.Errorf("kept %s, %s; want the newest two", list[0].ID, list[1].ID)
	}
}

func TestManager_ListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Config{Dir: dir})
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600)
	os.Mkdir(filepath.Join(dir, "backup-dir.skb"), 0o750)

	if _, err := m.Create(sampleTables(), 3, ""); err != nil {
		t.Fatal(err)
	}
	list, _ := m.List()
	if len(list) != 1 {
		t.Errorf("List() len = %d, want 1", len(list))
	}
}

func TestNewManager_EmptyDir(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Error("NewManager() expected error for empty dir")
	}
}
