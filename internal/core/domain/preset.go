package domain

import "strings"

// ConfigPreset configures the external content-generation collaborator.
type ConfigPreset struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

// Validate checks required fields.
func (p *ConfigPreset) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrPresetValidation.WithDetails("id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrPresetValidation.WithDetailsf("preset %s: name is required", p.ID)
	}
	return nil
}

// PresetSet is the value stored under config_presets/main.
type PresetSet struct {
	Presets        []ConfigPreset `json:"presets"`
	ActivePresetID string         `json:"active_preset_id"`
}

// Find returns the preset with id.
func (s *PresetSet) Find(id string) (ConfigPreset, bool) {
	for _, p := range s.Presets {
		if p.ID == id {
			return p, true
		}
	}
	return ConfigPreset{}, false
}

// Active returns the preset the active pointer refers to.
func (s *PresetSet) Active() (ConfigPreset, bool) {
	return s.Find(s.ActivePresetID)
}

// Validate checks every preset, id uniqueness and the active pointer.
func (s *PresetSet) Validate() error {
	seen := make(map[string]bool, len(s.Presets))
	for i := range s.Presets {
		if err := s.Presets[i].Validate(); err != nil {
			return err
		}
		if seen[s.Presets[i].ID] {
			return ErrPresetValidation.WithDetailsf("duplicate id %s", s.Presets[i].ID)
		}
		seen[s.Presets[i].ID] = true
	}
	if len(s.Presets) == 0 {
		if s.ActivePresetID != "" {
			return ErrPresetValidation.WithDetails("active pointer set on empty preset list")
		}
		return nil
	}
	if !seen[s.ActivePresetID] {
		return ErrPresetValidation.WithDetailsf("active preset %q does not exist", s.ActivePresetID)
	}
	return nil
}

// RepairActive points a dangling active pointer at the first preset.
// It fails with ErrNoPresets when the set is empty.
func (s *PresetSet) RepairActive() error {
	if _, ok := s.Active(); ok {
		return nil
	}
	if len(s.Presets) == 0 {
		s.ActivePresetID = ""
		return ErrNoPresets
	}
	s.ActivePresetID = s.Presets[0].ID
	return nil
}

// Clone returns a deep copy.
func (s PresetSet) Clone() PresetSet {
	return PresetSet{
		Presets:        append([]ConfigPreset(nil), s.Presets...),
		ActivePresetID: s.ActivePresetID,
	}
}
