package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

func findRow(rows []presetRow, id string) (presetRow, bool) {
	for _, r := range rows {
		if r.ID == id {
			return r, true
		}
	}
	return presetRow{}, false
}

func TestPresetCommand(t *testing.T) {
	dir := t.TempDir()

	mustRun(t, dir, "preset", "add", "--id", "local", "--name", "Local", "--provider", "ollama",
		"--model", "llama3", "--api-key", "sk-0123456789abcdef", "--activate")
	mustRun(t, dir, "preset", "add", "--id", "backup", "--name", "Backup", "--provider", "openai")

	rows := decodeJSON[[]presetRow](t, mustRun(t, dir, "-o", "json", "preset", "list"))
	local, ok := findRow(rows, "local")
	if !ok || !local.Active || local.Model != "llama3" {
		t.Fatalf("preset list = %+v", rows)
	}
	if local.APIKey != "sk-012...def" {
		t.Errorf("api key shown as %q", local.APIKey)
	}
	table := mustRun(t, dir, "preset", "list")
	if strings.Contains(table, "sk-0123456789abcdef") || strings.Contains(table, "API_KEY") {
		t.Errorf("narrow table shows keys:\n%s", table)
	}

	mustRun(t, dir, "preset", "use", "backup")
	out := mustRun(t, dir, "preset", "delete", "backup")
	if strings.Contains(out, "active preset is backup") {
		t.Errorf("active pointer not repaired: %q", out)
	}

	if _, err := runCLI(t, dir, "", "preset", "use", "nope"); !errors.Is(err, domain.ErrPresetNotFound) {
		t.Errorf("use unknown preset error = %v", err)
	}
	if out := mustRun(t, dir, "preset", "import-legacy"); !strings.Contains(out, "already initialized") {
		t.Errorf("import-legacy on an initialized store = %q", out)
	}
}

func TestMaskKey(t *testing.T) {
	tests := map[string]string{
		"":                    "",
		"sk-0123456789abcdef": "sk-012...def",
		"plain-secret":        "****",
	}
	for in, want := range tests {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}
