package command

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/telemetry/logger"
)

// PresetCommand returns the preset subcommand group.
func PresetCommand() *cli.Command {
	return &cli.Command{
		Name:  "preset",
		Usage: "Config preset management",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List presets",
				Action:  presetList,
			},
			{
				Name:  "add",
				Usage: "Add or replace a preset",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Preset id (generated when empty)"},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "provider"},
					&cli.StringFlag{Name: "endpoint"},
					&cli.StringFlag{Name: "model"},
					&cli.StringFlag{Name: "api-key", EnvVars: []string{"SAVEKEEP_PRESET_API_KEY"}},
					&cli.BoolFlag{Name: "activate", Usage: "Make it the active preset"},
				},
				Action: presetAdd,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a preset",
				ArgsUsage: "ID",
				Action:    presetDelete,
			},
			{
				Name:      "use",
				Usage:     "Set the active preset",
				ArgsUsage: "ID",
				Action:    presetUse,
			},
			{
				Name:   "import-legacy",
				Usage:  "Run the one-time import of legacy settings",
				Action: presetImportLegacy,
			},
		},
	}
}

type presetRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Active   bool   `json:"active"`
	Endpoint string `json:"endpoint" table:"wide"`
	APIKey   string `json:"api_key" table:"wide"`
}

func maskKey(k string) string {
	switch {
	case k == "":
		return ""
	case logger.RedactString(k) != k:
		return logger.RedactString(k)
	default:
		return "****"
	}
}

func presetList(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *session) error {
		set, err := s.Presets.Load(ctx)
		if err != nil {
			return err
		}
		rows := make([]presetRow, 0, len(set.Presets))
		for _, p := range set.Presets {
			rows = append(rows, presetRow{
				ID:       p.ID,
				Name:     p.Name,
				Provider: p.Provider,
				Model:    p.Model,
				Active:   p.ID == set.ActivePresetID,
				Endpoint: p.Endpoint,
				APIKey:   maskKey(p.APIKey),
			})
		}
		return render(c, rows)
	})
}

func presetAdd(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *session) error {
		p, err := s.Presets.Upsert(ctx, domain.ConfigPreset{
			ID:       c.String("id"),
			Name:     c.String("name"),
			Provider: c.String("provider"),
			Endpoint: c.String("endpoint"),
			Model:    c.String("model"),
			APIKey:   c.String("api-key"),
		})
		if err != nil {
			return err
		}
		if c.Bool("activate") {
			if err := s.Presets.SetActive(ctx, p.ID); err != nil {
				return err
			}
		}
		printf(c, "saved preset %s\n", p.ID)
		return nil
	})
}

func presetDelete(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		if err := s.Presets.Delete(ctx, c.Args().First()); err != nil {
			return err
		}
		active, err := s.Presets.Active(ctx)
		if err != nil {
			return err
		}
		printf(c, "deleted %s, active preset is %s\n", c.Args().First(), active.ID)
		return nil
	})
}

func presetUse(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	return withStore(c, func(ctx context.Context, s *session) error {
		if err := s.Presets.SetActive(ctx, c.Args().First()); err != nil {
			return err
		}
		printf(c, "active preset is %s\n", c.Args().First())
		return nil
	})
}

func presetImportLegacy(c *cli.Context) error {
	return withStore(c, func(ctx context.Context, s *session) error {
		r, err := s.Presets.ImportLegacy(ctx)
		if err != nil {
			return err
		}
		switch {
		case r.Skipped:
			printf(c, "presets already initialized, nothing imported\n")
		case r.Seeded:
			printf(c, "no legacy settings found, seeded %d default presets\n", r.Presets)
		default:
			printf(c, "imported %d presets from %s\n", r.Presets, r.Source)
		}
		for _, src := range r.Rejected {
			printf(c, "warning: could not parse %s\n", src)
		}
		return nil
	})
}
