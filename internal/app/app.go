package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yndnr/savekeep-go/internal/autosave"
	"github.com/yndnr/savekeep-go/internal/config"
	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/infra/shutdown"
	"github.com/yndnr/savekeep-go/internal/presets"
	"github.com/yndnr/savekeep-go/internal/rewind"
	"github.com/yndnr/savekeep-go/internal/savegame"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/storage/backup"
	"github.com/yndnr/savekeep-go/internal/telemetry/metric"
	"github.com/yndnr/savekeep-go/internal/world"
	"github.com/yndnr/savekeep-go/pkg/crypto/adaptive"
)

// Key derivation purposes for the master encryption key.
const (
	purposeBackups = "backups"
	purposePresets = "presets"
)

// Option configures New.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	metrics       *metric.Registry
	collaborators []world.Collaborator
	onAutosave    func(*domain.SaveRecord)
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(r *metric.Registry) Option {
	return func(o *options) { o.metrics = r }
}

// WithCollaborators registers world collaborators at startup.
func WithCollaborators(c ...world.Collaborator) Option {
	return func(o *options) { o.collaborators = append(o.collaborators, c...) }
}

// OnAutosave is called after every autosave attempt that produced a record.
func OnAutosave(fn func(*domain.SaveRecord)) Option {
	return func(o *options) { o.onAutosave = fn }
}

// App holds the wired components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metric.Registry

	Store   *storage.Store
	Backups *backup.Manager
	World   *world.Aggregator
	Saves   *savegame.Manager
	Presets *presets.Store
	Rewind  *rewind.Controller

	// Autosave is nil when autosave is disabled.
	Autosave *autosave.Trigger

	shutdown *shutdown.Handler
}

// New opens the store and builds every component from cfg. The caller
// must Close the App.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{
		Config:   cfg,
		Logger:   o.logger,
		Metrics:  o.metrics,
		shutdown: shutdown.NewHandler(0, o.logger),
	}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	// 1. Keys
	var master []byte
	if cfg.Security.EncryptionKey != "" {
		if master, err = adaptive.ParseHexKey(cfg.Security.EncryptionKey); err != nil {
			return nil, fmt.Errorf("encryption key: %w", err)
		}
	}

	// 2. Store
	sc := cfg.StoreConfig()
	sc.Logger = o.logger
	a.Store, err = storage.Open(ctx, sc)
	if a.Store == nil {
		return nil, err
	}
	a.shutdown.OnShutdown("store", func(context.Context) error { return a.Store.Close() })
	if err != nil {
		// Degraded: the store works but nothing will persist.
		o.logger.Warn("store running in memory; nothing will persist", "error", err)
		err = nil
	}

	// 3. Backups
	bc := cfg.BackupConfig()
	bc.Logger = o.logger
	if master != nil {
		if bc.Cipher, err = adaptive.ForPurpose(master, purposeBackups); err != nil {
			return nil, err
		}
	}
	if a.Backups, err = backup.NewManager(bc); err != nil {
		return nil, err
	}

	// 4. World
	a.World = world.NewAggregator(world.WithLogger(o.logger))
	for _, c := range o.collaborators {
		if err = a.World.Register(c); err != nil {
			return nil, err
		}
	}

	// 5. Presets
	presetOpts := []presets.Option{
		presets.WithLogger(o.logger),
		presets.WithMetrics(o.metrics),
		presets.WithLegacySources(presets.DefaultLegacySources(cfg.Presets.LegacyFile)...),
	}
	if master != nil {
		c, cerr := adaptive.ForPurpose(master, purposePresets)
		if cerr != nil {
			return nil, cerr
		}
		presetOpts = append(presetOpts, presets.WithCipher(c))
	}
	a.Presets = presets.New(a.Store, presetOpts...)

	// 6. Saves. Imports and backup restores may replace the presets table.
	a.Saves, err = savegame.New(a.Store, a.World,
		savegame.WithConfig(cfg.SavesConfig()),
		savegame.WithBackups(a.Backups),
		savegame.WithLogger(o.logger),
		savegame.WithMetrics(o.metrics),
		savegame.WithPresetCodec(a.Presets),
		savegame.WithImportHook(func(r savegame.ImportResult) {
			if !r.ConfigPresets {
				return
			}
			if rerr := a.Presets.Reload(context.Background(), presets.ChangeImport); rerr != nil {
				o.logger.Error("reload presets after import", "error", rerr)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	// 7. Autosave
	if cfg.Autosave.Enabled {
		threshold, terr := domain.ParseTimeOfDay(cfg.Autosave.Threshold)
		if terr != nil {
			return nil, domain.ErrInvalidArgument.WithDetails("autosave threshold").WithCause(terr)
		}
		trigOpts := []autosave.Option{
			autosave.WithThreshold(threshold),
			autosave.WithLogger(o.logger),
			autosave.WithMetrics(o.metrics),
		}
		if o.onAutosave != nil {
			trigOpts = append(trigOpts, autosave.OnSave(o.onAutosave))
		}
		if a.Autosave, err = autosave.New(a.Saves, trigOpts...); err != nil {
			return nil, err
		}
		a.shutdown.OnShutdown("autosave", func(context.Context) error {
			a.Autosave.Close()
			return nil
		})
	}

	// 8. Rewind
	a.Rewind = rewind.New(a.World,
		rewind.WithLogger(o.logger),
		rewind.WithMetrics(o.metrics),
		rewind.WithSerializer(func(fn func() error) error {
			return a.Saves.Exclusive(context.Background(), fn)
		}),
	)

	// 9. Metrics
	if o.metrics != nil {
		if err = a.Store.RegisterMetrics(o.metrics.Registerer()); err != nil {
			return nil, err
		}
		if err = o.metrics.RegisterRecordCounts(a.Saves.RecordCounts); err != nil {
			return nil, err
		}
	}

	// The live world is written last on the way out.
	a.shutdown.OnShutdown("world_state", func(ctx context.Context) error {
		_, serr := a.Saves.SyncWorldState(ctx)
		if errors.Is(serr, domain.ErrPartialCapture) {
			return nil
		}
		return serr
	})

	o.logger.Info("savekeep ready",
		"engine", a.Store.Engine(),
		"schema_version", a.Store.SchemaVersion(),
		"autosave", a.Autosave != nil,
		"encrypted", master != nil)
	return a, nil
}

// OnShutdown registers an extra hook that runs before the built-in ones.
func (a *App) OnShutdown(name string, fn func(context.Context) error) {
	a.shutdown.OnShutdown(name, fn)
}

// Close syncs the live world and releases every resource. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}

// Wait blocks until SIGINT, SIGTERM or ctx is done, then closes the App.
func (a *App) Wait(ctx context.Context) error {
	return a.shutdown.Wait(ctx)
}
