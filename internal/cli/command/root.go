package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/savekeep-go/internal/app"
	"github.com/yndnr/savekeep-go/internal/cli/output"
	"github.com/yndnr/savekeep-go/internal/config"
	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/infra/buildinfo"
	"github.com/yndnr/savekeep-go/internal/infra/confloader"
	"github.com/yndnr/savekeep-go/internal/sandbox"
	"github.com/yndnr/savekeep-go/internal/telemetry/logger"
)

const (
	metaConfig = "config"
	metaLogger = "logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "savekeep",
		Usage:   "World persistence and save slot management",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SaveCommand(),
			PresetCommand(),
			StoreCommand(),
			ShellCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Before: before,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML config file",
			EnvVars: []string{"SAVEKEEP_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Override storage.data_dir",
		},
		&cli.StringFlag{
			Name:  "engine",
			Usage: "Override storage.engine (badger, sqlite)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override log.level (debug, info, warn, error)",
		},
	}
}

// GlobalFlags holds the parsed global flags.
type GlobalFlags struct {
	ConfigFile string
	DataDir    string
	Engine     string
	Output     output.Format
	Wide       bool
	LogLevel   string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return nil, err
	}
	return &GlobalFlags{
		ConfigFile: c.String("config"),
		DataDir:    c.String("data-dir"),
		Engine:     c.String("engine"),
		Output:     format,
		Wide:       c.Bool("wide"),
		LogLevel:   c.String("log-level"),
	}, nil
}

func (f *GlobalFlags) overrides() map[string]any {
	m := make(map[string]any)
	if f.DataDir != "" {
		m["storage.data_dir"] = f.DataDir
	}
	if f.Engine != "" {
		m["storage.engine"] = f.Engine
	}
	if f.LogLevel != "" {
		m["log.level"] = f.LogLevel
	}
	return m
}

// loadConfig reads defaults, the config file, SAVEKEEP_ env vars and flag
// overrides, in that order.
func loadConfig(f *GlobalFlags) (*config.Config, error) {
	cfg := config.Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(f.ConfigFile),
		confloader.WithOverrides(f.overrides()),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func before(c *cli.Context) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	// config validate reports problems itself.
	if c.Args().First() != "config" {
		if err := config.Verify(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	}).With("op_id", logger.NewOpID())

	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaLogger] = log
	if c.Context == nil {
		c.Context = context.Background()
	}
	c.Context = logger.WithLogger(c.Context, log)
	return nil
}

// configFrom returns the config loaded by the Before hook.
func configFrom(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}

func loggerFrom(c *cli.Context) *slog.Logger {
	if l, ok := c.App.Metadata[metaLogger].(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// session is an opened App. World is nil for store-only sessions.
type session struct {
	*app.App
	World *sandbox.World
}

// openSession opens the store. With live set the sandbox world is
// registered and recovered from world_state. The caller must close the
// session.
func openSession(c *cli.Context, live bool, opts ...app.Option) (*session, error) {
	ctx := c.Context
	opts = append([]app.Option{app.WithLogger(loggerFrom(c))}, opts...)

	var w *sandbox.World
	if live {
		w = sandbox.New()
		opts = append(opts, app.WithCollaborators(w.Collaborators()...))
	}
	a, err := app.New(ctx, configFrom(c), opts...)
	if err != nil {
		return nil, err
	}
	if !live {
		return &session{App: a}, nil
	}
	w.Clock.OnAdvance(func(from, to domain.GameTime) {
		a.ObserveClock(context.WithoutCancel(ctx), from, to)
	})
	if _, err := a.Recover(ctx); err != nil {
		loggerFrom(c).Warn("live world only partly recovered", "error", err)
	}
	return &session{App: a, World: w}, nil
}

// withSession runs fn with the live world recovered and writes it back on
// close.
func withSession(c *cli.Context, fn func(ctx context.Context, s *session) error) error {
	return run(c, true, fn)
}

// withStore runs fn without a live world. Use it for commands that
// replace stored tables wholesale.
func withStore(c *cli.Context, fn func(ctx context.Context, s *session) error) error {
	return run(c, false, fn)
}

func run(c *cli.Context, live bool, fn func(ctx context.Context, s *session) error) (err error) {
	s, err := openSession(c, live)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(context.WithoutCancel(c.Context)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(c.Context, s)
}

// render writes data in the selected output format.
func render(c *cli.Context, data any) error {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	return output.NewFormatter(flags.Output, flags.Wide).Format(c.App.Writer, data)
}

// interactive reports whether progress output makes sense.
func interactive(c *cli.Context) bool {
	flags, err := ParseGlobalFlags(c)
	return err == nil && flags.Output == output.FormatTable
}

func printf(c *cli.Context, format string, args ...any) {
	fmt.Fprintf(out(c), format, args...)
}

func out(c *cli.Context) io.Writer {
	return c.App.Writer
}
