package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/savekeep-go/internal/cli/output"
	"github.com/yndnr/savekeep-go/internal/core/domain"
)

// StoreCommand returns the store maintenance subcommand group.
func StoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Durable store maintenance and backups",
		Subcommands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "Show engine, schema version, sizes and record counts",
				Action: storeInfo,
			},
			{
				Name:   "gc",
				Usage:  "Reclaim space in the value log",
				Action: storeGC,
			},
			{
				Name:  "backup",
				Usage: "Write a backup of the whole store",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Value: "manual"},
				},
				Action: storeBackup,
			},
			{
				Name:   "backups",
				Usage:  "List backups, oldest first",
				Action: storeBackups,
			},
			{
				Name:      "restore",
				Usage:     "Replace the whole store with a backup",
				ArgsUsage: "--yes ID|latest",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "Confirm replacing the store"},
				},
				Action: storeRestore,
			},
			{
				Name:  "export",
				Usage: "Export saves, world state and presets",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Value: "-", Usage: "Output file, - for stdout"},
					&cli.BoolFlag{Name: "compress", Usage: "zstd-compress the export"},
				},
				Action: storeExport,
			},
		},
	}
}

type storeInfoView struct {
	Engine        string         `json:"engine"`
	SchemaVersion int            `json:"schema_version"`
	Degraded      string         `json:"degraded,omitempty"`
	DataDir       string         `json:"data_dir"`
	TotalSize     uint64         `json:"total_size"`
	LSMSize       uint64         `json:"lsm_size,omitempty"`
	ValueLogSize  uint64         `json:"value_log_size,omitempty"`
	LastGC        string         `json:"last_gc,omitempty"`
	Records       map[string]int `json:"records"`
	Backups       int            `json:"backups"`
}

func storeInfo(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *session) error {
		stats, err := s.Store.Stats(ctx)
		if err != nil {
			return err
		}
		counts, err := s.Saves.RecordCounts(ctx)
		if err != nil {
			return err
		}
		backups, err := s.Backups.List()
		if err != nil {
			return err
		}
		v := storeInfoView{
			Engine:        s.Store.Engine(),
			SchemaVersion: s.Store.SchemaVersion(),
			DataDir:       s.Config.Storage.DataDir,
			TotalSize:     stats.TotalSize,
			LSMSize:       stats.LSMSize,
			ValueLogSize:  stats.ValueLogSize,
			Records:       counts,
			Backups:       len(backups),
		}
		if err := s.Store.Degraded(); err != nil {
			v.Degraded = err.Error()
		}
		if stats.LastGCTime > 0 {
			v.LastGC = time.UnixMilli(stats.LastGCTime).Format(time.RFC3339)
		}
		return render(c, v)
	})
}

func storeGC(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *session) error {
		sp := output.NewSpinner(c.App.ErrWriter, "collecting garbage", interactive(c))
		sp.Start()
		n, err := s.Store.GC(ctx)
		if err != nil {
			sp.Fail("gc failed")
			return err
		}
		sp.Success(fmt.Sprintf("reclaimed %d bytes", n))
		return nil
	})
}

func storeBackup(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *session) error {
		info, err := s.Saves.Backup(ctx, c.String("reason"))
		if err != nil {
			return err
		}
		return render(c, info)
	})
}

func storeBackups(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *session) error {
		list, err := s.Backups.List()
		if err != nil {
			return err
		}
		return render(c, list)
	})
}

func storeRestore(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	if !c.Bool("yes") {
		return domain.ErrConfirmationRequired.WithDetails("pass --yes to replace the store")
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		id := c.Args().First()
		if id == "latest" {
			_, info, err := s.Backups.Latest()
			if err != nil {
				return err
			}
			id = info.ID
		}
		res, err := s.Saves.RestoreBackup(ctx, id)
		if err != nil {
			return err
		}
		printf(c, "restored %s (schema v%d), previous content saved as %s\n",
			res.Restored.ID, res.Restored.SchemaVersion, res.BackupID)
		return nil
	})
}

func storeExport(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *session) error {
		blob, err := s.Saves.ExportAll(ctx)
		if err != nil {
			return err
		}
		return writeExport(c, blob)
	})
}
