package storage

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMigrate_FullLadderFromEmpty(t *testing.T) {
	got, version, err := Migrate(nil, 0, DefaultMigrations())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}
	for _, name := range []string{TableWorldState, TableConfigPresets, TableSaveSlots, TableSaveIndex} {
		if _, ok := got[name]; !ok {
			t.Errorf("table %s missing after migration", name)
		}
	}
}

func TestMigrate_LegacySaveRecords(t *testing.T) {
	old := Tables{
		TableSaveSlots: Table{
			"manual_2": []byte(`{"id":"manual_2","category":"manual","slot":2,"name":"Before the gate","timestamp":1700000000000}`),
		},
		TableLegacySettings: Table{"ai_config": []byte(`{"provider":"x"}`)},
	}

	got, version, err := Migrate(old, 1, DefaultMigrations())
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}

	var rec map[string]any
	if err := json.Unmarshal(got[TableSaveSlots]["manual_2"], &rec); err != nil {
		t.Fatal(err)
	}
	if rec["display_name"] != "Before the gate" {
		t.Errorf("display_name = %v", rec["display_name"])
	}
	if _, ok := rec["name"]; ok {
		t.Error("name field should be renamed")
	}
	if rec["created_at"] != time.UnixMilli(1700000000000).UTC().Format(time.RFC3339Nano) {
		t.Errorf("created_at = %v", rec["created_at"])
	}

	var entry SlotIndexEntry
	if err := json.Unmarshal(got[TableSaveIndex][SlotIndexKey("manual", 2)], &entry); err != nil {
		t.Fatalf("index entry: %v", err)
	}
	if entry.ID != "manual_2" || entry.CreatedAt.UnixMilli() != 1700000000000 {
		t.Errorf("index entry = %+v", entry)
	}

	if string(got[TableLegacySettings]["ai_config"]) != `{"provider":"x"}` {
		t.Error("untouched table changed")
	}
	if string(old[TableSaveSlots]["manual_2"]) == string(got[TableSaveSlots]["manual_2"]) {
		t.Error("input tables should not be mutated in place")
	}
}

func TestMigrate_RejectsUndeclaredChanges(t *testing.T) {
	tests := []struct {
		name string
		up   func(Tables) (Tables, error)
		want string
	}{
		{
			name: "drops untouched table",
			up: func(t Tables) (Tables, error) {
				delete(t, "keep")
				return t, nil
			},
			want: "dropped",
		},
		{
			name: "modifies untouched table",
			up: func(t Tables) (Tables, error) {
				t["keep"]["k"] = []byte("changed")
				return t, nil
			},
			want: "modified",
		},
		{
			name: "creates undeclared table",
			up: func(t Tables) (Tables, error) {
				t["surprise"] = Table{}
				return t, nil
			},
			want: "undeclared",
		},
		{
			name: "step error",
			up: func(Tables) (Tables, error) {
				return nil, errors.New("boom")
			},
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ladder := []Migration{{Version: 1, Name: "bad", Touches: []string{"other"}, Up: tt.up}}
			_, _, err := Migrate(Tables{"keep": Table{"k": []byte("v")}}, 0, ladder)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Migrate() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestMigrate_RefusesDowngrade(t *testing.T) {
	if _, _, err := Migrate(Tables{}, 7, DefaultMigrations()); err == nil {
		t.Error("Migrate() expected error for a newer store")
	}
}

func TestValidateLadder(t *testing.T) {
	noop := func(t Tables) (Tables, error) { return t, nil }
	if err := ValidateLadder([]Migration{{Version: 1, Up: noop}, {Version: 3, Up: noop}}); err == nil {
		t.Error("ValidateLadder() expected error for a gap")
	}
	if err := ValidateLadder([]Migration{{Version: 1}}); err == nil {
		t.Error("ValidateLadder() expected error for nil Up")
	}
}
