package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Table names of the current schema.
const (
	TableWorldState     = "world_state"
	TableConfigPresets  = "config_presets"
	TableSaveSlots      = "save_slots"
	TableSaveIndex      = "save_index"
	TableLegacySettings = "legacy_settings"

	// MainKey is the fixed key of single-row tables.
	MainKey = "main"
)

// Table is the decoded content of one table.
type Table map[string][]byte

// Tables is the decoded content of a whole store.
type Tables map[string]Table

// Clone returns a deep copy.
func (t Tables) Clone() Tables {
	out := make(Tables, len(t))
	for name, tbl := range t {
		c := make(Table, len(tbl))
		for k, v := range tbl {
			c[k] = append([]byte(nil), v...)
		}
		out[name] = c
	}
	return out
}

// Names returns table names, sorted.
func (t Tables) Names() []string {
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t Table) equal(o Table) bool {
	if len(t) != len(o) {
		return false
	}
	for k, v := range t {
		ov, ok := o[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

// Migration upgrades a store from Version-1 to Version.
//
// Up receives a private copy of the tables and returns the new table set.
// Tables not named in Touches must come back unchanged; the runner rejects
// a step that alters or drops them.
type Migration struct {
	Version int
	Name    string
	Touches []string
	Up      func(Tables) (Tables, error)
}

// TargetVersion returns the version a ladder migrates to.
func TargetVersion(ladder []Migration) int {
	if len(ladder) == 0 {
		return 0
	}
	return ladder[len(ladder)-1].Version
}

// ValidateLadder checks that versions run 1, 2, 3... without gaps.
func ValidateLadder(ladder []Migration) error {
	for i, m := range ladder {
		if m.Version != i+1 {
			return fmt.Errorf("migration %q has version %d, want %d", m.Name, m.Version, i+1)
		}
		if m.Up == nil {
			return fmt.Errorf("migration %d (%s) has no Up func", m.Version, m.Name)
		}
	}
	return nil
}

// Migrate runs every step above from, in order, and returns the migrated
// tables and the version reached.
func Migrate(tables Tables, from int, ladder []Migration) (Tables, int, error) {
	if err := ValidateLadder(ladder); err != nil {
		return nil, from, err
	}
	target := TargetVersion(ladder)
	if from > target {
		return nil, from, fmt.Errorf("store schema version %d is newer than supported version %d", from, target)
	}
	if from < 0 {
		return nil, from, fmt.Errorf("invalid schema version %d", from)
	}

	cur := tables
	if cur == nil {
		cur = Tables{}
	}
	version := from
	for _, m := range ladder[from:] {
		next, err := m.Up(cur.Clone())
		if err != nil {
			return nil, version, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if next == nil {
			next = Tables{}
		}
		if err := checkUntouched(cur, next, m.Touches); err != nil {
			return nil, version, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		cur = next
		version = m.Version
	}
	return cur, version, nil
}

func checkUntouched(before, after Tables, touches []string) error {
	allowed := make(map[string]bool, len(touches))
	for _, t := range touches {
		allowed[t] = true
	}
	for name, tbl := range before {
		if allowed[name] {
			continue
		}
		got, ok := after[name]
		if !ok {
			return fmt.Errorf("dropped untouched table %q", name)
		}
		if !tbl.equal(got) {
			return fmt.Errorf("modified untouched table %q", name)
		}
	}
	for name := range after {
		if _, existed := before[name]; !existed && !allowed[name] {
			return fmt.Errorf("created undeclared table %q", name)
		}
	}
	return nil
}

// DefaultMigrations is the ladder for the current schema.
func DefaultMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "base tables",
			Touches: []string{TableWorldState, TableConfigPresets, TableSaveSlots},
			Up:      migrateBaseTables,
		},
		{
			Version: 2,
			Name:    "save record fields",
			Touches: []string{TableSaveSlots},
			Up:      migrateSaveRecordFields,
		},
		{
			Version: 3,
			Name:    "save slot index",
			Touches: []string{TableSaveIndex},
			Up:      migrateSaveSlotIndex,
		},
	}
}

func migrateBaseTables(t Tables) (Tables, error) {
	for _, name := range []string{TableWorldState, TableConfigPresets, TableSaveSlots} {
		if _, ok := t[name]; !ok {
			t[name] = Table{}
		}
	}
	return t, nil
}

// migrateSaveRecordFields renames "name" to "display_name", converts a
// millisecond "timestamp" into "created_at" and stamps schema_version.
func migrateSaveRecordFields(t Tables) (Tables, error) {
	for key, raw := range t[TableSaveSlots] {
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("save %q: %w", key, err)
		}
		if name, ok := rec["name"]; ok {
			if _, has := rec["display_name"]; !has {
				rec["display_name"] = name
			}
			delete(rec, "name")
		}
		if ts, ok := rec["timestamp"].(float64); ok {
			if _, has := rec["created_at"]; !has {
				rec["created_at"] = time.UnixMilli(int64(ts)).UTC().Format(time.RFC3339Nano)
			}
			delete(rec, "timestamp")
		}
		if _, ok := rec["schema_version"]; !ok {
			rec["schema_version"] = 2
		}
		out, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("save %q: %w", key, err)
		}
		t[TableSaveSlots][key] = out
	}
	return t, nil
}

func migrateSaveSlotIndex(t Tables) (Tables, error) {
	idx := Table{}
	for key, raw := range t[TableSaveSlots] {
		var head struct {
			ID        string    `json:"id"`
			Category  string    `json:"category"`
			Slot      int       `json:"slot"`
			CreatedAt time.Time `json:"created_at"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("save %q: %w", key, err)
		}
		if head.ID == "" {
			head.ID = key
		}
		entry, err := json.Marshal(SlotIndexEntry{ID: head.ID, CreatedAt: head.CreatedAt})
		if err != nil {
			return nil, err
		}
		idx[SlotIndexKey(head.Category, head.Slot)] = entry
	}
	t[TableSaveIndex] = idx
	return t, nil
}

// SlotIndexEntry is the save_index value for one occupied slot.
type SlotIndexEntry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// SlotIndexKey returns the save_index key of a category slot. Keys sort by
// category, then slot.
func SlotIndexKey(category string, slot int) string {
	return fmt.Sprintf("%s/%04d", category, slot)
}

// SlotIndexPrefix is the key prefix of every slot in category.
func SlotIndexPrefix(category string) string {
	return category + "/"
}
