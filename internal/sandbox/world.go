package sandbox

import (
	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/world"
)

// World bundles the sandbox collaborators.
type World struct {
	Clock         *Clock
	Scene         *Scene
	Actors        *Actors
	Relationships *Relationships
	Inventory     *Inventory
	Flags         *Flags
}

// DefaultStart is where a new sandbox begins: day 1, 08:00.
var DefaultStart = domain.GameTime{Day: 1, Hour: 8}

// New returns a fresh sandbox at DefaultStart in the prologue.
func New() *World {
	return &World{
		Clock:         NewClock(DefaultStart),
		Scene:         NewScene("Prologue", "Harbor"),
		Actors:        NewActors(),
		Relationships: NewRelationships(),
		Inventory:     NewInventory(),
		Flags:         NewFlags(),
	}
}

// Collaborators returns the collaborators in registration order.
func (w *World) Collaborators() []world.Collaborator {
	return []world.Collaborator{w.Clock, w.Scene, w.Actors, w.Relationships, w.Inventory, w.Flags}
}

// Register registers every collaborator with agg.
func (w *World) Register(agg *world.Aggregator) error {
	for _, c := range w.Collaborators() {
		if err := agg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
