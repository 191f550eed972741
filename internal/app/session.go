package app

import (
	"context"

	"github.com/yndnr/savekeep-go/internal/autosave"
	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/savegame"
	"github.com/yndnr/savekeep-go/internal/world"
)

// Operations that replace the whole world go through App so the rewind
// token and the autosave debounce are reset together.

// ObserveClock feeds a clock advance to the autosave trigger.
func (a *App) ObserveClock(ctx context.Context, from, to domain.GameTime) autosave.Outcome {
	if a.Autosave == nil {
		return autosave.OutcomeNone
	}
	return a.Autosave.Observe(ctx, from, to)
}

// LoadSave applies a save to the live world.
func (a *App) LoadSave(ctx context.Context, id string) (*savegame.RestoreResult, error) {
	res, err := a.Saves.RestoreSave(ctx, id)
	if res != nil {
		a.worldReplaced()
	}
	return res, err
}

// QuickLoad applies the newest quick save.
func (a *App) QuickLoad(ctx context.Context) (*savegame.RestoreResult, error) {
	res, err := a.Saves.QuickLoad(ctx)
	if res != nil {
		a.worldReplaced()
	}
	return res, err
}

// RewindStep undoes the last committed step.
func (a *App) RewindStep() (world.ApplyReport, error) {
	report, err := a.Rewind.Rewind()
	if err == nil && a.Autosave != nil {
		a.Autosave.Reset()
	}
	return report, err
}

// Recover applies the stored world state at startup.
func (a *App) Recover(ctx context.Context) (*world.ApplyReport, error) {
	report, err := a.Saves.RecoverWorldState(ctx)
	if report != nil {
		a.worldReplaced()
	}
	return report, err
}

func (a *App) worldReplaced() {
	a.Rewind.Invalidate()
	if a.Autosave != nil {
		a.Autosave.Reset()
	}
}
