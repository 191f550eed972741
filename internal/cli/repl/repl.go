package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// ErrUnknownCommand is returned by Execute for unregistered names.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one shell command.
type Command struct {
	Name  string
	Args  string // argument synopsis shown by help
	Usage string
	Run   func(ctx context.Context, args []string) error
}

// REPL is the read-eval-print loop.
type REPL struct {
	input   io.Reader
	output  io.Writer
	prompt  string
	history *History

	commands map[string]*Command
}

// Option configures a REPL.
type Option func(*REPL)

// WithIO sets the input and output streams.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *REPL) {
		r.input, r.output = in, out
	}
}

// WithPrompt sets the prompt.
func WithPrompt(p string) Option {
	return func(r *REPL) { r.prompt = p }
}

// WithHistory sets the history store.
func WithHistory(h *History) Option {
	return func(r *REPL) { r.history = h }
}

// New creates a REPL reading stdin and writing stdout.
func New(opts ...Option) *REPL {
	r := &REPL{
		input:    os.Stdin,
		output:   os.Stdout,
		prompt:   "> ",
		history:  NewHistory("", DefaultHistorySize),
		commands: make(map[string]*Command),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Output is where commands should print.
func (r *REPL) Output() io.Writer { return r.output }

// History returns the session history.
func (r *REPL) History() *History { return r.history }

// Register adds commands. Names must be unique; help, exit and quit are
// reserved.
func (r *REPL) Register(cmds ...Command) error {
	for i := range cmds {
		c := cmds[i]
		switch {
		case c.Name == "" || c.Run == nil:
			return fmt.Errorf("repl: command %q needs a name and a handler", c.Name)
		case c.Name == "help" || c.Name == "exit" || c.Name == "quit":
			return fmt.Errorf("repl: %q is reserved", c.Name)
		case r.commands[c.Name] != nil:
			return fmt.Errorf("repl: duplicate command %q", c.Name)
		}
		r.commands[c.Name] = &c
	}
	return nil
}

// Names returns the registered command names, sorted.
func (r *REPL) Names() []string {
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run reads lines until EOF, exit, quit or ctx is done. Command errors are
// printed and the loop continues.
func (r *REPL) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(r.input)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.output, r.prompt)
		if !scanner.Scan() {
			fmt.Fprintln(r.output)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.history.Add(line)
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := r.Execute(ctx, line); err != nil {
			fmt.Fprintf(r.output, "error: %v\n", err)
		}
	}
}

// Execute runs one line.
func (r *REPL) Execute(ctx context.Context, line string) error {
	args, err := SplitArgs(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	if args[0] == "help" {
		r.help(args[1:])
		return nil
	}
	cmd := r.commands[args[0]]
	if cmd == nil {
		if s := Complete(r.Names(), args[0]); len(s) > 0 {
			return fmt.Errorf("%w %q (did you mean %s?)", ErrUnknownCommand, args[0], strings.Join(s, ", "))
		}
		return fmt.Errorf("%w %q, try help", ErrUnknownCommand, args[0])
	}
	return cmd.Run(ctx, args[1:])
}

func (r *REPL) help(topic []string) {
	names := r.Names()
	if len(topic) > 0 {
		names = Complete(names, topic[0])
	}
	w := 0
	for _, n := range names {
		c := r.commands[n]
		w = max(w, len(c.Name)+len(c.Args)+1)
	}
	for _, n := range names {
		c := r.commands[n]
		fmt.Fprintf(r.output, "  %-*s  %s\n", w, strings.TrimSpace(c.Name+" "+c.Args), c.Usage)
	}
	if len(topic) == 0 {
		fmt.Fprintf(r.output, "  %-*s  %s\n", w, "exit", "leave the shell")
	}
}

// SplitArgs splits a line on whitespace. Double quotes group words and
// are removed.
func SplitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		has     bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			has = true
		case !inQuote && (r == ' ' || r == '\t'):
			if has {
				args = append(args, cur.String())
				cur.Reset()
				has = false
			}
		default:
			cur.WriteRune(r)
			has = true
		}
	}
	if inQuote {
		return nil, errors.New("unterminated quote")
	}
	if has {
		args = append(args, cur.String())
	}
	return args, nil
}
