package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

var errTransitioning = errors.New("scene transition in progress")

// Scene tracks where the story is. While a transition is running the scene
// vetoes saving.
type Scene struct {
	mu            sync.Mutex
	state         sceneFragment
	transitioning bool
}

type sceneFragment struct {
	Chapter  string `json:"chapter"`
	Location string `json:"location"`
}

// NewScene returns a scene at chapter and location.
func NewScene(chapter, location string) *Scene {
	return &Scene{state: sceneFragment{Chapter: chapter, Location: location}}
}

func (s *Scene) ID() string { return "scene" }

// Current returns the chapter and location.
func (s *Scene) Current() (chapter, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Chapter, s.state.Location
}

// Move sets the chapter and location.
func (s *Scene) Move(chapter, location string) {
	s.mu.Lock()
	s.state = sceneFragment{Chapter: chapter, Location: location}
	s.mu.Unlock()
}

// SetTransitioning marks a transition as running or finished.
func (s *Scene) SetTransitioning(on bool) {
	s.mu.Lock()
	s.transitioning = on
	s.mu.Unlock()
}

// SafeToSave implements world.Guard.
func (s *Scene) SafeToSave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitioning {
		return errTransitioning
	}
	return nil
}

func (s *Scene) Serialize() (domain.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.state)
}

func (s *Scene) Deserialize(frag domain.Fragment) error {
	var f sceneFragment
	if err := json.Unmarshal(frag, &f); err != nil {
		return fmt.Errorf("decode scene: %w", err)
	}
	s.mu.Lock()
	s.state = f
	s.transitioning = false
	s.mu.Unlock()
	return nil
}
