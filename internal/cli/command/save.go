package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/savegame"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/world"
)

// SaveCommand returns the save subcommand group.
func SaveCommand() *cli.Command {
	return &cli.Command{
		Name:  "save",
		Usage: "Save slot management",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List saves, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "category", Usage: "Only list manual, quick or auto saves"},
				},
				Action: saveList,
			},
			{
				Name:      "show",
				Usage:     "Show one save record",
				ArgsUsage: "ID",
				Action:    saveShow,
			},
			{
				Name:      "create",
				Usage:     "Save the live world",
				ArgsUsage: "[--name NAME] [--slot N] [CATEGORY]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "Display name"},
					&cli.IntFlag{Name: "slot", Value: -1, Usage: "Overwrite this slot instead of picking one"},
				},
				Action: saveCreate,
			},
			{
				Name:      "load",
				Usage:     "Apply a save to the live world",
				ArgsUsage: "ID",
				Action:    saveLoad,
			},
			{
				Name:      "rename",
				Usage:     "Rename a save",
				ArgsUsage: "ID NAME",
				Action:    saveRename,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a save",
				ArgsUsage: "--yes ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm deletion"},
				},
				Action: saveDelete,
			},
			{
				Name:      "export",
				Usage:     "Export one save",
				ArgsUsage: "[--file FILE] [--compress] ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Value: "-", Usage: "Output file, - for stdout"},
					&cli.BoolFlag{Name: "compress", Usage: "zstd-compress the export"},
				},
				Action: saveExport,
			},
			{
				Name:      "import",
				Usage:     "Import an export file",
				ArgsUsage: "[--yes] FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm overwriting existing saves or state"},
				},
				Action: saveImport,
			},
			{
				Name:  "clear",
				Usage: "Delete every save and the stored world state",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "Confirm deletion"},
				},
				Action: saveClear,
			},
		},
	}
}

// requireArgs checks the positional argument count. Flags given after the
// first argument are not parsed by cli, so they are rejected here instead of
// being silently ignored.
func requireArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		return domain.ErrInvalidArgument.WithDetailsf("usage: %s %s", c.Command.HelpName, c.Command.ArgsUsage)
	}
	for _, arg := range c.Args().Slice() {
		if isCommandFlag(c.Command, arg) {
			return domain.ErrInvalidArgument.WithDetailsf("flag %s must come before the arguments: %s %s",
				arg, c.Command.HelpName, c.Command.ArgsUsage)
		}
	}
	return nil
}

func isCommandFlag(cmd *cli.Command, arg string) bool {
	name := strings.TrimLeft(arg, "-")
	if name == arg || name == "" {
		return false
	}
	name, _, _ = strings.Cut(name, "=")
	for _, f := range cmd.Flags {
		for _, n := range f.Names() {
			if n == name {
				return true
			}
		}
	}
	return false
}

func summaries(recs []*domain.SaveRecord) []domain.SaveSummary {
	out := make([]domain.SaveSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Summary())
	}
	return out
}

func saveList(c *cli.Context) error {
	var cat domain.Category
	if s := c.String("category"); s != "" {
		var err error
		if cat, err = domain.ParseCategory(s); err != nil {
			return err
		}
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		recs, err := s.Saves.ListSaves(ctx, cat)
		if err != nil {
			return err
		}
		return render(c, summaries(recs))
	})
}

func saveShow(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		rec, err := s.Saves.LoadSave(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return render(c, rec.Summary())
	})
}

func saveCreate(c *cli.Context) error {
	if err := requireArgs(c, 0); err != nil {
		return err
	}
	cat := domain.CategoryManual
	if c.NArg() > 0 {
		var err error
		if cat, err = domain.ParseCategory(c.Args().First()); err != nil {
			return err
		}
	}
	var opts []savegame.SaveOption
	if name := c.String("name"); name != "" {
		opts = append(opts, savegame.Named(name))
	}
	if slot := c.Int("slot"); slot >= 0 {
		opts = append(opts, savegame.AtSlot(slot))
	}
	return withSession(c, func(ctx context.Context, s *session) error {
		rec, err := s.Saves.CreateSave(ctx, cat, opts...)
		if err != nil {
			return err
		}
		if rec.HasWarnings() {
			fmt.Fprintf(c.App.ErrWriter, "warning: saved without %s\n", strings.Join(rec.Metadata.Warnings, ", "))
		}
		return render(c, rec.Summary())
	})
}

func saveLoad(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withSession(c, func(ctx context.Context, s *session) error {
		res, err := s.LoadSave(ctx, c.Args().First())
		if res != nil {
			printReport(c, "loaded "+res.Record.ID, res.Report)
		}
		return err
	})
}

func printReport(c *cli.Context, what string, r world.ApplyReport) {
	printf(c, "%s: %d applied", what, len(r.Applied))
	if len(r.Untouched) > 0 {
		printf(c, ", untouched %s", strings.Join(r.Untouched, ","))
	}
	if len(r.Unknown) > 0 {
		printf(c, ", ignored %s", strings.Join(r.Unknown, ","))
	}
	if len(r.Failed) > 0 {
		printf(c, ", failed %s", strings.Join(r.Failed, ","))
	}
	printf(c, "\n")
}

func saveRename(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		rec, err := s.Saves.RenameSave(ctx, c.Args().Get(0), strings.Join(c.Args().Slice()[1:], " "))
		if err != nil {
			return err
		}
		return render(c, rec.Summary())
	})
}

func saveDelete(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	if !c.Bool("yes") {
		return domain.ErrConfirmationRequired.WithDetailsf("pass --yes to delete %s", c.Args().First())
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		id := c.Args().First()
		if err := s.Saves.DeleteSave(ctx, id); err != nil {
			return err
		}
		printf(c, "deleted %s\n", id)
		return nil
	})
}

func saveExport(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		blob, err := s.Saves.ExportSave(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return writeExport(c, blob)
	})
}

func writeExport(c *cli.Context, blob []byte) error {
	if c.Bool("compress") {
		blob = savegame.Compress(blob)
	}
	return writeBlob(c, c.String("file"), blob)
}

func writeBlob(c *cli.Context, path string, blob []byte) error {
	if path == "" || path == "-" {
		_, err := c.App.Writer.Write(blob)
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return err
	}
	printf(c, "wrote %d bytes to %s\n", len(blob), path)
	return nil
}

func readBlob(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func saveImport(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	blob, err := readBlob(c.Args().First())
	if err != nil {
		return err
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		// Parse first so a bad file does not even cost a backup.
		env, err := s.Saves.ParseExport(blob)
		if err != nil {
			return err
		}
		if !c.Bool("yes") {
			clash, err := importOverwrites(ctx, s, env)
			if err != nil {
				return err
			}
			if len(clash) > 0 {
				return domain.ErrConfirmationRequired.WithDetailsf("import overwrites %s; pass --yes", strings.Join(clash, ", "))
			}
		}
		res, err := s.Saves.ImportSave(ctx, blob)
		if err != nil {
			return err
		}
		printf(c, "imported %d saves", len(res.Saves))
		if res.WorldState {
			printf(c, ", world state")
		}
		if res.ConfigPresets {
			printf(c, ", config presets")
		}
		if res.BackupID != "" {
			printf(c, " (backup %s)", res.BackupID)
		}
		printf(c, "\n")
		return nil
	})
}

// importOverwrites lists what importing env would replace in the store.
func importOverwrites(ctx context.Context, s *session, env *savegame.Envelope) ([]string, error) {
	var clash []string
	for _, rec := range env.Data.SaveSlots {
		_, err := s.Saves.LoadSave(ctx, rec.ID)
		switch {
		case err == nil:
			clash = append(clash, rec.ID)
		case !errors.Is(err, domain.ErrSaveNotFound):
			return nil, err
		}
	}
	tables := map[string]bool{
		storage.TableWorldState:    env.Data.WorldState != nil,
		storage.TableConfigPresets: len(env.Data.ConfigPresets) > 0,
	}
	for _, table := range []string{storage.TableWorldState, storage.TableConfigPresets} {
		if !tables[table] {
			continue
		}
		_, ok, err := s.Store.Get(ctx, table, storage.MainKey)
		if err != nil {
			return nil, err
		}
		if ok {
			clash = append(clash, table)
		}
	}
	return clash, nil
}

func saveClear(c *cli.Context) error {
	if !c.Bool("yes") {
		return domain.ErrConfirmationRequired.WithDetails("pass --yes to delete every save")
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		res, err := s.Saves.ClearAll(ctx)
		if err != nil {
			return err
		}
		printf(c, "removed %d saves (backup %s)\n", res.Saves, res.BackupID)
		return nil
	})
}
