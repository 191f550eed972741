package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/savekeep-go/internal/app"
	"github.com/yndnr/savekeep-go/internal/cli/output"
	"github.com/yndnr/savekeep-go/internal/cli/repl"
	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/infra/confloader"
	"github.com/yndnr/savekeep-go/internal/savegame"
	"github.com/yndnr/savekeep-go/internal/telemetry/logger"
	"github.com/yndnr/savekeep-go/internal/telemetry/metric"
)

// ShellCommand returns the interactive sandbox shell.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Play with the sandbox world: advance time, save, load and rewind",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-history", Usage: "Do not read or write ~/.savekeep/history"},
		},
		Action: shellAction,
	}
}

// syncWriter serializes writes from the prompt loop and from deferred
// autosaves.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func shellAction(c *cli.Context) (err error) {
	ctx := c.Context
	out := &syncWriter{w: c.App.Writer}
	reg := metric.NewRegistry()

	s, err := openSession(c, true,
		app.WithMetrics(reg),
		app.OnAutosave(func(rec *domain.SaveRecord) {
			fmt.Fprintf(out, "autosaved %s at %s\n", rec.ID, rec.Metadata.GameTime)
		}),
	)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if addr := s.Config.Metrics.Addr; addr != "" {
		if err := serveMetrics(s, addr, reg); err != nil {
			return err
		}
	}
	if path := c.String("config"); path != "" {
		if err := watchConfig(c, s, path); err != nil {
			loggerFrom(c).Warn("config reload disabled", "error", err)
		}
	}

	histFile := ""
	if !c.Bool("no-history") {
		histFile = repl.DefaultHistoryFile()
	}
	hist := repl.NewHistory(histFile, repl.DefaultHistorySize)
	if err := hist.Load(); err != nil {
		loggerFrom(c).Warn("read history", "error", err)
	}

	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	sh := &shell{s: s, out: out, format: flags.Output, wide: flags.Wide}
	r := repl.New(
		repl.WithIO(c.App.Reader, out),
		repl.WithPrompt("savekeep> "),
		repl.WithHistory(hist),
	)
	if err := r.Register(sh.commands()...); err != nil {
		return err
	}

	chapter, location := s.World.Scene.Current()
	fmt.Fprintf(out, "savekeep %s on %s. %s, %s, %s. Type help for commands.\n",
		s.Store.Engine(), s.Config.Storage.DataDir, s.World.Clock.Now(), chapter, location)
	err = r.Run(ctx)
	if herr := hist.Save(); herr != nil {
		loggerFrom(c).Warn("write history", "error", herr)
	}
	return err
}

func serveMetrics(s *session, addr string, reg *metric.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	s.Logger.Info("serving metrics", "addr", ln.Addr().String())
	s.OnShutdown("metrics", srv.Shutdown)
	return nil
}

// watchConfig reloads the log level when the config file changes.
func watchConfig(c *cli.Context, s *session, path string) error {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(s.Logger))
	if err != nil {
		return err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return err
	}
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		w.Stop()
		return err
	}
	w.OnChange(func(string) {
		cfg, err := loadConfig(flags)
		if err != nil {
			s.Logger.Warn("config reload failed", "error", err)
			return
		}
		logger.SetLevel(cfg.Log.Level)
		s.Logger.Info("config reloaded", "log_level", logger.GetLevel())
	})
	w.StartAsync()
	s.OnShutdown("config_watcher", func(context.Context) error { return w.Stop() })
	return nil
}

// shell binds REPL commands to a live session.
type shell struct {
	s      *session
	out    io.Writer
	format output.Format
	wide   bool
}

func (sh *shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format, args...)
}

func (sh *shell) commands() []repl.Command {
	return []repl.Command{
		{Name: "time", Usage: "show the game clock", Run: sh.showTime},
		{Name: "advance", Args: "<minutes>", Usage: "move the clock forward", Run: sh.advance},
		{Name: "scene", Args: "<chapter> <location>", Usage: "move to another scene", Run: sh.scene},
		{Name: "transition", Args: "on|off", Usage: "mark a scene transition; saves are refused meanwhile", Run: sh.transition},
		{Name: "flag", Args: "<name> [on|off]", Usage: "show or set a story flag", Run: sh.flag},
		{Name: "give", Args: "<item> [n]", Usage: "add n items, negative to take", Run: sh.give},
		{Name: "stat", Args: "<actor> <stat> [delta]", Usage: "show or change an actor stat", Run: sh.stat},
		{Name: "bond", Args: "<a> <b> [delta]", Usage: "show or change affinity between two actors", Run: sh.bond},
		{Name: "step", Args: "[label]", Usage: "commit a step; rewind returns here", Run: sh.step},
		{Name: "rewind", Usage: "undo everything since the last step", Run: sh.rewind},
		{Name: "save", Args: "[manual|quick|auto] [name]", Usage: "save the world", Run: sh.save},
		{Name: "quicksave", Usage: "quick save", Run: sh.quicksave},
		{Name: "quickload", Usage: "load the newest quick save", Run: sh.quickload},
		{Name: "load", Args: "<id> --yes", Usage: "replace the world with a save", Run: sh.load},
		{Name: "delete", Args: "<id> --yes", Usage: "delete a save", Run: sh.delete},
		{Name: "list", Args: "[category]", Usage: "list saves", Run: sh.list},
		{Name: "status", Usage: "show world, rewind and autosave state", Run: sh.status},
	}
}

// confirmed strips --yes (or -y) from args and reports whether it was given.
func confirmed(args []string) ([]string, bool) {
	rest := make([]string, 0, len(args))
	yes := false
	for _, a := range args {
		if a == "--yes" || a == "-y" {
			yes = true
			continue
		}
		rest = append(rest, a)
	}
	return rest, yes
}

func wantArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return domain.ErrInvalidArgument.WithDetails("usage: " + usage)
	}
	return nil
}

func intArg(args []string, i int, def int) (int, error) {
	if len(args) <= i {
		return def, nil
	}
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, domain.ErrInvalidArgument.WithDetailsf("%q is not a number", args[i])
	}
	return n, nil
}

func (sh *shell) showTime(context.Context, []string) error {
	sh.printf("%s\n", sh.s.World.Clock.Now())
	return nil
}

func (sh *shell) advance(_ context.Context, args []string) error {
	if err := wantArgs(args, 1, "advance <minutes>"); err != nil {
		return err
	}
	n, err := intArg(args, 0, 0)
	if err != nil {
		return err
	}
	now, err := sh.s.World.Clock.Advance(n)
	if err != nil {
		return err
	}
	sh.printf("%s\n", now)
	return nil
}

func (sh *shell) scene(_ context.Context, args []string) error {
	if err := wantArgs(args, 2, "scene <chapter> <location>"); err != nil {
		return err
	}
	sh.s.World.Scene.Move(args[0], strings.Join(args[1:], " "))
	chapter, location := sh.s.World.Scene.Current()
	sh.printf("%s, %s\n", chapter, location)
	return nil
}

func (sh *shell) transition(_ context.Context, args []string) error {
	if err := wantArgs(args, 1, "transition on|off"); err != nil {
		return err
	}
	on, err := onOff(args[0])
	if err != nil {
		return err
	}
	sh.s.World.Scene.SetTransitioning(on)
	if !on && sh.s.Autosave != nil && sh.s.Autosave.Pending() {
		sh.s.Autosave.Retry(context.Background())
	}
	return nil
}

func onOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, domain.ErrInvalidArgument.WithDetailsf("want on or off, got %q", s)
}

func (sh *shell) flag(_ context.Context, args []string) error {
	if err := wantArgs(args, 1, "flag <name> [on|off]"); err != nil {
		return err
	}
	if len(args) > 1 {
		on, err := onOff(args[1])
		if err != nil {
			return err
		}
		sh.s.World.Flags.Set(args[0], on)
	}
	sh.printf("%s: %t\n", args[0], sh.s.World.Flags.IsSet(args[0]))
	return nil
}

func (sh *shell) give(_ context.Context, args []string) error {
	if err := wantArgs(args, 1, "give <item> [n]"); err != nil {
		return err
	}
	n, err := intArg(args, 1, 1)
	if err != nil {
		return err
	}
	sh.printf("%s: %d\n", args[0], sh.s.World.Inventory.Give(args[0], n))
	return nil
}

func (sh *shell) stat(_ context.Context, args []string) error {
	if err := wantArgs(args, 2, "stat <actor> <stat> [delta]"); err != nil {
		return err
	}
	d, err := intArg(args, 2, 0)
	if err != nil {
		return err
	}
	sh.printf("%s.%s: %d\n", args[0], args[1], sh.s.World.Actors.AddStat(args[0], args[1], d))
	return nil
}

func (sh *shell) bond(_ context.Context, args []string) error {
	if err := wantArgs(args, 2, "bond <a> <b> [delta]"); err != nil {
		return err
	}
	d, err := intArg(args, 2, 0)
	if err != nil {
		return err
	}
	sh.printf("%s & %s: %d\n", args[0], args[1], sh.s.World.Relationships.Bond(args[0], args[1], d))
	return nil
}

func (sh *shell) step(_ context.Context, args []string) error {
	label := strings.Join(args, " ")
	if err := sh.s.Rewind.CommitStep(label); err != nil {
		return err
	}
	sh.printf("step committed\n")
	return nil
}

func (sh *shell) rewind(context.Context, []string) error {
	label := sh.s.Rewind.Label()
	report, err := sh.s.RewindStep()
	if err != nil {
		return err
	}
	sh.printf("rewound %q (%d collaborators)\n", label, len(report.Applied))
	return nil
}

func (sh *shell) save(ctx context.Context, args []string) error {
	cat := domain.CategoryManual
	if len(args) > 0 {
		if c, err := domain.ParseCategory(args[0]); err == nil {
			cat, args = c, args[1:]
		}
	}
	var opts []savegame.SaveOption
	if len(args) > 0 {
		opts = append(opts, savegame.Named(strings.Join(args, " ")))
	}
	rec, err := sh.s.Saves.CreateSave(ctx, cat, opts...)
	if err != nil {
		return err
	}
	sh.printSaved(rec)
	return nil
}

func (sh *shell) printSaved(rec *domain.SaveRecord) {
	sh.printf("saved %s %q\n", rec.ID, rec.DisplayName)
	if rec.HasWarnings() {
		sh.printf("warning: saved without %s\n", strings.Join(rec.Metadata.Warnings, ", "))
	}
}

func (sh *shell) quicksave(ctx context.Context, _ []string) error {
	rec, err := sh.s.Saves.QuickSave(ctx)
	if err != nil {
		return err
	}
	sh.printSaved(rec)
	return nil
}

func (sh *shell) quickload(ctx context.Context, _ []string) error {
	res, err := sh.s.QuickLoad(ctx)
	return sh.loaded(res, err)
}

func (sh *shell) load(ctx context.Context, args []string) error {
	args, yes := confirmed(args)
	if err := wantArgs(args, 1, "load <id> --yes"); err != nil {
		return err
	}
	if !yes {
		return domain.ErrConfirmationRequired.WithDetailsf("loading %s replaces the current world; repeat with --yes", args[0])
	}
	res, err := sh.s.LoadSave(ctx, args[0])
	return sh.loaded(res, err)
}

func (sh *shell) delete(ctx context.Context, args []string) error {
	args, yes := confirmed(args)
	if err := wantArgs(args, 1, "delete <id> --yes"); err != nil {
		return err
	}
	if !yes {
		return domain.ErrConfirmationRequired.WithDetailsf("repeat with --yes to delete %s", args[0])
	}
	if err := sh.s.Saves.DeleteSave(ctx, args[0]); err != nil {
		return err
	}
	sh.printf("deleted %s\n", args[0])
	return nil
}

func (sh *shell) loaded(res *savegame.RestoreResult, err error) error {
	if res == nil {
		return err
	}
	sh.printf("loaded %s: %s\n", res.Record.ID, sh.s.World.Clock.Now())
	if len(res.Report.Failed) > 0 {
		sh.printf("warning: not restored: %s\n", strings.Join(res.Report.Failed, ", "))
	}
	return err
}

func (sh *shell) list(ctx context.Context, args []string) error {
	var cat domain.Category
	if len(args) > 0 {
		c, err := domain.ParseCategory(args[0])
		if err != nil {
			return err
		}
		cat = c
	}
	recs, err := sh.s.Saves.ListSaves(ctx, cat)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		sh.printf("no saves\n")
		return nil
	}
	return output.NewFormatter(sh.format, sh.wide).Format(sh.out, summaries(recs))
}

type shellStatus struct {
	Time       string `json:"time"`
	Chapter    string `json:"chapter"`
	Location   string `json:"location"`
	Savable    bool   `json:"savable"`
	Rewind     string `json:"rewind"`
	RewindStep string `json:"rewind_step,omitempty"`
	Autosave   string `json:"autosave"`
	Engine     string `json:"engine"`
}

func (sh *shell) status(context.Context, []string) error {
	w := sh.s.World
	chapter, location := w.Scene.Current()
	st := shellStatus{
		Time:       w.Clock.Now().String(),
		Chapter:    chapter,
		Location:   location,
		Savable:    sh.s.World.Scene.SafeToSave() == nil,
		Rewind:     string(sh.s.Rewind.State()),
		RewindStep: sh.s.Rewind.Label(),
		Autosave:   "off",
		Engine:     sh.s.Store.Engine(),
	}
	if a := sh.s.Autosave; a != nil {
		st.Autosave = "idle"
		if a.Pending() {
			st.Autosave = "pending"
		}
	}
	return output.NewFormatter(sh.format, sh.wide).Format(sh.out, st)
}
