package repl

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func newTestREPL(t *testing.T, input string) (*REPL, *bytes.Buffer, *[][]string) {
	t.Helper()
	var out bytes.Buffer
	var calls [][]string
	r := New(WithIO(strings.NewReader(input), &out), WithPrompt("sk> "))
	err := r.Register(
		Command{Name: "save", Args: "<category>", Usage: "create a save", Run: func(_ context.Context, args []string) error {
			calls = append(calls, append([]string{"save"}, args...))
			return nil
		}},
		Command{Name: "scene", Usage: "move", Run: func(_ context.Context, args []string) error {
			calls = append(calls, append([]string{"scene"}, args...))
			return nil
		}},
		Command{Name: "fail", Usage: "always fails", Run: func(context.Context, []string) error {
			return errors.New("boom")
		}},
	)
	if err != nil {
		t.Fatal(err)
	}
	return r, &out, &calls
}

func TestREPL_Run(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCalls [][]string
		wantOut   []string
	}{
		{"eof", "", nil, nil},
		{"exit stops", "exit\nsave manual\n", nil, nil},
		{"blank and comments", "\n# note\nsave quick\nquit\n", [][]string{{"save", "quick"}}, nil},
		{"quoted args", `scene "Chapter 2" "Old Lighthouse"` + "\n", [][]string{{"scene", "Chapter 2", "Old Lighthouse"}}, nil},
		{"errors continue", "fail\nsave auto\n", [][]string{{"save", "auto"}}, []string{"error: boom"}},
		{"unknown with hint", "s\n", nil, []string{"unknown command", "did you mean save, scene"}},
		{"help", "help\n", nil, []string{"save <category>", "create a save", "exit"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, out, calls := newTestREPL(t, tt.input)
			if err := r.Run(context.Background()); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if !reflect.DeepEqual(*calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", *calls, tt.wantCalls)
			}
			for _, s := range tt.wantOut {
				if !strings.Contains(out.String(), s) {
					t.Errorf("output lacks %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestREPL_RegisterRejects(t *testing.T) {
	r, _, _ := newTestREPL(t, "")
	noop := func(context.Context, []string) error { return nil }
	for _, c := range []Command{
		{Name: "save", Run: noop},
		{Name: "help", Run: noop},
		{Name: "", Run: noop},
		{Name: "x"},
	} {
		if err := r.Register(c); err == nil {
			t.Errorf("Register(%q) succeeded", c.Name)
		}
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"advance 60", []string{"advance", "60"}, false},
		{"  give   rope  2 ", []string{"give", "rope", "2"}, false},
		{`save manual --name "at the dock"`, []string{"save", "manual", "--name", "at the dock"}, false},
		{`flag ""`, []string{"flag", ""}, false},
		{`scene "open`, nil, true},
	}
	for _, tt := range tests {
		got, err := SplitArgs(tt.in)
		if (err != nil) != tt.wantErr || !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitArgs(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestComplete(t *testing.T) {
	got := Complete([]string{"quickload", "quicksave", "rewind"}, "quick")
	if !reflect.DeepEqual(got, []string{"quickload", "quicksave"}) {
		t.Errorf("Complete() = %v", got)
	}
}

func TestHistory_SaveLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sub", "history")
	h := NewHistory(file, 3)
	for _, l := range []string{"a", "b", "b", "c", "d"} {
		h.Add(l)
	}
	if h.Len() != 3 || h.Get(0) != "d" || h.Get(2) != "b" {
		t.Fatalf("entries: len %d, newest %q, oldest %q", h.Len(), h.Get(0), h.Get(2))
	}
	if err := h.Save(); err != nil {
		t.Fatal(err)
	}

	loaded := NewHistory(file, 3)
	if err := loaded.Load(); err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 3 || loaded.Get(0) != "d" {
		t.Errorf("loaded %d entries, newest %q", loaded.Len(), loaded.Get(0))
	}
	if err := NewHistory(filepath.Join(t.TempDir(), "absent"), 0).Load(); err != nil {
		t.Errorf("Load() of a missing file = %v", err)
	}
}
