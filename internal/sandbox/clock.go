package sandbox

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

// AdvanceFunc observes clock advances.
type AdvanceFunc func(from, to domain.GameTime)

// Clock is the in-game clock. It only moves forward through Advance;
// Deserialize replaces the time without notifying observers.
type Clock struct {
	mu        sync.Mutex
	now       domain.GameTime
	observers []AdvanceFunc
}

type clockFragment struct {
	Time domain.GameTime `json:"time"`
}

// NewClock starts the clock at start.
func NewClock(start domain.GameTime) *Clock {
	return &Clock{now: start}
}

func (c *Clock) ID() string { return "clock" }

// Now returns the current game time.
func (c *Clock) Now() domain.GameTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// OnAdvance registers fn to run after every Advance.
func (c *Clock) OnAdvance(fn AdvanceFunc) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Advance moves the clock forward by minutes and notifies observers with
// the old and new time. Observers run on the caller's goroutine.
func (c *Clock) Advance(minutes int) (domain.GameTime, error) {
	if minutes <= 0 {
		return domain.GameTime{}, domain.ErrInvalidArgument.WithDetailsf("advance by %d minutes", minutes)
	}
	c.mu.Lock()
	old := c.now
	c.now = old.Add(minutes)
	cur := c.now
	observers := append([]AdvanceFunc(nil), c.observers...)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(old, cur)
	}
	return cur, nil
}

func (c *Clock) Serialize() (domain.Fragment, error) {
	return json.Marshal(clockFragment{Time: c.Now()})
}

func (c *Clock) Deserialize(frag domain.Fragment) error {
	var f clockFragment
	if err := json.Unmarshal(frag, &f); err != nil {
		return fmt.Errorf("decode clock: %w", err)
	}
	if !f.Time.Valid() {
		return fmt.Errorf("invalid clock time %s", f.Time)
	}
	c.mu.Lock()
	c.now = f.Time
	c.mu.Unlock()
	return nil
}
