package world

import (
	"encoding/json"
	"fmt"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

// Collaborator owns one slice of world state.
type Collaborator interface {
	// ID is unique within an Aggregator and stable across releases.
	ID() string

	Serialize() (domain.Fragment, error)
	Deserialize(domain.Fragment) error
}

// Guard is implemented by collaborators that can veto saving and loading.
// SafeToSave returns nil when the collaborator's state may be captured or
// replaced right now, or an error describing why not.
type Guard interface {
	SafeToSave() error
}

// Funcs adapts plain functions to Collaborator and Guard.
type Funcs struct {
	Name            string
	SerializeFunc   func() (domain.Fragment, error)
	DeserializeFunc func(domain.Fragment) error

	// GuardFunc is optional.
	GuardFunc func() error
}

func (f *Funcs) ID() string { return f.Name }

func (f *Funcs) Serialize() (domain.Fragment, error) { return f.SerializeFunc() }

func (f *Funcs) Deserialize(frag domain.Fragment) error { return f.DeserializeFunc(frag) }

func (f *Funcs) SafeToSave() error {
	if f.GuardFunc == nil {
		return nil
	}
	return f.GuardFunc()
}

// Typed returns a Collaborator that JSON-encodes the value returned by get
// and hands decoded values to set.
func Typed[T any](id string, get func() T, set func(T) error) Collaborator {
	return &typed[T]{id: id, get: get, set: set}
}

type typed[T any] struct {
	id  string
	get func() T
	set func(T) error
}

func (c *typed[T]) ID() string { return c.id }

func (c *typed[T]) Serialize() (domain.Fragment, error) {
	return json.Marshal(c.get())
}

func (c *typed[T]) Deserialize(frag domain.Fragment) error {
	var v T
	if err := json.Unmarshal(frag, &v); err != nil {
		return fmt.Errorf("decode %s fragment: %w", c.id, err)
	}
	return c.set(v)
}

// CollaboratorError records one collaborator's failure.
type CollaboratorError struct {
	ID  string
	Op  string // "serialize", "deserialize" or "guard"
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.ID, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
