package command

import (
	"strings"
	"testing"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

func runShell(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	out, err := runCLI(t, dir, strings.Join(lines, "\n")+"\n", "shell", "--no-history")
	if err != nil {
		t.Fatalf("shell error = %v", err)
	}
	return out
}

func TestShell_Session(t *testing.T) {
	dir := t.TempDir()
	out := runShell(t, dir,
		"give potion 3",
		"step drink",
		"give potion -1",
		"rewind",
		"rewind",
		`save manual "by the harbor"`,
		"transition on",
		"quicksave",
		"transition off",
		"advance 1440",
		"stat mira courage 2",
		"bond mira jon 5",
		"flag met_jon on",
		"bogus",
		"exit",
	)
	for _, want := range []string{
		"day 1 08:00, Prologue, Harbor",
		"potion: 3",
		"potion: 2",
		`rewound "drink"`,
		"nothing to rewind",
		`saved manual_0 "by the harbor"`,
		"savable state",
		"day 2 08:00",
		"autosaved auto_0",
		"mira.courage: 2",
		"mira & jon: 5",
		"met_jon: true",
		"unknown command",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("shell output lacks %q:\n%s", want, out)
		}
	}

	saves := decodeJSON[[]domain.SaveSummary](t, mustRun(t, dir, "-o", "json", "save", "list"))
	ids := make([]string, 0, len(saves))
	for _, s := range saves {
		ids = append(ids, s.ID)
	}
	if got := strings.Join(ids, ","); got != "auto_0,manual_0" {
		t.Errorf("saves after the session = %s", got)
	}
}

func TestShell_WorldSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	runShell(t, dir, "give rope 2", "advance 90", "exit")

	out := runShell(t, dir, "give rope 0", "time", "exit")
	if !strings.Contains(out, "rope: 2") || !strings.Contains(out, "day 1 09:30") {
		t.Errorf("world not recovered:\n%s", out)
	}
}

func TestShell_LoadInvalidatesRewind(t *testing.T) {
	dir := t.TempDir()
	out := runShell(t, dir,
		"save",
		"step",
		"give coin 5",
		"load manual_0",
		"load manual_0 --yes",
		"rewind",
		"give coin 0",
		"status",
		"exit",
	)
	if !strings.Contains(out, "replaces the current world") {
		t.Errorf("load without --yes was not refused:\n%s", out)
	}
	if !strings.Contains(out, "loaded manual_0") || !strings.Contains(out, "nothing to rewind") {
		t.Errorf("rewind token survived a load:\n%s", out)
	}
	if !strings.Contains(out, "coin: 0") {
		t.Errorf("load did not restore the inventory:\n%s", out)
	}
}

func TestShell_DeleteNeedsConfirmation(t *testing.T) {
	dir := t.TempDir()
	out := runShell(t, dir,
		"save",
		"delete manual_0",
		"list",
		"delete manual_0 --yes",
		"list",
		"exit",
	)
	if !strings.Contains(out, "repeat with --yes to delete manual_0") {
		t.Errorf("delete without --yes was not refused:\n%s", out)
	}
	if !strings.Contains(out, "deleted manual_0") || !strings.Contains(out, "no saves") {
		t.Errorf("confirmed delete did not remove the save:\n%s", out)
	}
}
