package savegame

import (
	"fmt"
	"time"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

// Default pool sizes and cooldown.
const (
	DefaultManualSlots   = 10
	DefaultQuickSlots    = 3
	DefaultQuickCooldown = 3 * time.Second
)

// Config sizes the slot pools.
type Config struct {
	ManualSlots int

	QuickSlots int

	// QuickCooldown is the minimum spacing between successful quick saves.
	// Zero or negative disables the guard.
	QuickCooldown time.Duration
}

// DefaultConfig returns the default pool sizes.
func DefaultConfig() Config {
	return Config{
		ManualSlots:   DefaultManualSlots,
		QuickSlots:    DefaultQuickSlots,
		QuickCooldown: DefaultQuickCooldown,
	}
}

// Validate checks pool sizes.
func (c Config) Validate() error {
	if c.ManualSlots < 1 {
		return fmt.Errorf("manual slots must be at least 1, got %d", c.ManualSlots)
	}
	if c.QuickSlots < 1 {
		return fmt.Errorf("quick slots must be at least 1, got %d", c.QuickSlots)
	}
	return nil
}

// Capacity returns the pool size of category. The auto pool always has a
// single slot.
func (c Config) Capacity(cat domain.Category) int {
	switch cat {
	case domain.CategoryManual:
		return c.ManualSlots
	case domain.CategoryQuick:
		return c.QuickSlots
	case domain.CategoryAuto:
		return 1
	}
	return 0
}
