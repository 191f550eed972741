package presets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/storage"
)

// Legacy keys under the legacy_settings table, probed in this order.
const (
	LegacyKeyConfigs     = "ai_configs"
	LegacyKeyConfig      = "ai_config"
	LegacyKeyAPISettings = "api_settings"
)

// LegacySource is one legacy location the importer probes.
type LegacySource interface {
	// Name identifies the source in logs and reports.
	Name() string

	// Read returns the raw payload. found is false when the location is
	// empty or already erased.
	Read(tx *storage.Tx) (raw []byte, found bool, err error)

	// Convert turns the payload into a preset set.
	Convert(raw []byte) (domain.PresetSet, error)

	// Erase removes the payload. It runs inside the import transaction.
	Erase(tx *storage.Tx) error
}

// Committer is implemented by sources that can only erase after the import
// transaction committed, such as files.
type Committer interface {
	Commit() error
}

// DefaultLegacySources returns the store keys in probe order, followed by
// file when it is not empty.
func DefaultLegacySources(file string) []LegacySource {
	src := []LegacySource{
		StoreSource{Key: LegacyKeyConfigs, ConvertFunc: ConvertConfigList},
		StoreSource{Key: LegacyKeyConfig, ConvertFunc: ConvertSingleConfig},
		StoreSource{Key: LegacyKeyAPISettings, ConvertFunc: ConvertSingleConfig},
	}
	if file != "" {
		src = append(src, &FileSource{Path: file})
	}
	return src
}

// ImportReport describes a legacy import run.
type ImportReport struct {
	// Source names the location imported from. Empty when defaults were
	// seeded or nothing ran.
	Source  string
	Presets int
	Seeded  bool
	// Skipped is set when the preset table was already initialized.
	Skipped bool
	// Rejected lists sources that were found but could not be parsed.
	Rejected []string
}

// ImportLegacy runs the one-time legacy import. It is a no-op once
// config_presets/main exists.
func (s *Store) ImportLegacy(ctx context.Context) (*ImportReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runImport(ctx)
}

func (s *Store) ensureImported(ctx context.Context) error {
	if s.imported {
		return nil
	}
	_, err := s.runImport(ctx)
	return err
}

func (s *Store) runImport(ctx context.Context) (*ImportReport, error) {
	var (
		report ImportReport
		used   LegacySource
	)
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		report = ImportReport{}
		used = nil

		if _, ok, err := tx.Get(storage.TableConfigPresets, storage.MainKey); err != nil {
			return err
		} else if ok {
			report.Skipped = true
			return nil
		}

		for _, src := range s.sources {
			raw, found, err := src.Read(tx)
			if err != nil {
				return fmt.Errorf("read legacy %s: %w", src.Name(), err)
			}
			if !found {
				continue
			}
			set, err := src.Convert(raw)
			if err == nil {
				err = set.Validate()
			}
			if err != nil {
				s.logger.Warn("legacy config unparseable, trying next source", "source", src.Name(), "error", err)
				report.Rejected = append(report.Rejected, src.Name())
				continue
			}
			enc, err := s.encryptSet(set)
			if err != nil {
				return err
			}
			if err := tx.PutJSON(storage.TableConfigPresets, storage.MainKey, enc); err != nil {
				return err
			}
			if err := src.Erase(tx); err != nil {
				return fmt.Errorf("erase legacy %s: %w", src.Name(), err)
			}
			report.Source = src.Name()
			report.Presets = len(set.Presets)
			used = src
			return nil
		}

		set := s.defaults()
		enc, err := s.encryptSet(set)
		if err != nil {
			return err
		}
		report.Seeded = true
		report.Presets = len(set.Presets)
		return tx.PutJSON(storage.TableConfigPresets, storage.MainKey, enc)
	})
	if err != nil {
		return nil, domain.ErrStorageError.WithDetails("legacy preset import").WithCause(err)
	}
	s.imported = true

	if c, ok := used.(Committer); ok {
		if err := c.Commit(); err != nil {
			s.logger.Warn("legacy source not erased", "source", used.Name(), "error", err)
		}
	}
	switch {
	case report.Source != "":
		s.logger.Info("legacy presets imported", "source", report.Source, "presets", report.Presets)
		s.metrics.IncPresetChange()
	case report.Seeded:
		s.logger.Info("preset table seeded with defaults", "presets", report.Presets)
		s.metrics.IncPresetChange()
	}
	return &report, nil
}

// ============================================================================
// Sources
// ============================================================================

// StoreSource reads one key of the legacy_settings table.
type StoreSource struct {
	Key         string
	ConvertFunc func(raw []byte) (domain.PresetSet, error)
}

func (s StoreSource) Name() string { return storage.TableLegacySettings + "/" + s.Key }

func (s StoreSource) Read(tx *storage.Tx) ([]byte, bool, error) {
	raw, ok, err := tx.Get(storage.TableLegacySettings, s.Key)
	if err != nil || !ok {
		return nil, false, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, false, nil
	}
	return raw, true, nil
}

func (s StoreSource) Convert(raw []byte) (domain.PresetSet, error) {
	return s.ConvertFunc(raw)
}

func (s StoreSource) Erase(tx *storage.Tx) error {
	return tx.Delete(storage.TableLegacySettings, s.Key)
}

// FileSource reads a YAML or JSON settings file holding either a list of
// configs or a single one. The file is renamed with an ".imported" suffix
// once the import committed.
type FileSource struct {
	Path string
}

func (f *FileSource) Name() string { return "file:" + f.Path }

func (f *FileSource) Read(*storage.Tx) ([]byte, bool, error) {
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (f *FileSource) Convert(raw []byte) (domain.PresetSet, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return domain.PresetSet{}, err
	}
	if len(node.Content) == 0 {
		return domain.PresetSet{}, errors.New("empty document")
	}
	switch node.Content[0].Kind {
	case yaml.SequenceNode:
		var list []legacyConfig
		if err := node.Decode(&list); err != nil {
			return domain.PresetSet{}, err
		}
		return fromLegacyList(list)
	case yaml.MappingNode:
		var single legacyConfig
		if err := node.Decode(&single); err != nil {
			return domain.PresetSet{}, err
		}
		return fromLegacyList([]legacyConfig{single})
	}
	return domain.PresetSet{}, fmt.Errorf("unexpected document kind %d", node.Content[0].Kind)
}

func (f *FileSource) Erase(*storage.Tx) error { return nil }

func (f *FileSource) Commit() error {
	return os.Rename(f.Path, f.Path+".imported")
}

// ============================================================================
// Converters
// ============================================================================

// legacyConfig is the flat config shape shared by every legacy format.
// Older builds used camelCase names; both spellings are accepted.
type legacyConfig struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Provider  string `json:"provider" yaml:"provider"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	APIURL    string `json:"apiUrl" yaml:"apiUrl"`
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyAlt string `json:"apiKey" yaml:"apiKey"`
	Model     string `json:"model" yaml:"model"`
	ModelName string `json:"modelName" yaml:"modelName"`
	Active    bool   `json:"active" yaml:"active"`
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func (c legacyConfig) preset(i int) domain.ConfigPreset {
	p := domain.ConfigPreset{
		ID:       firstNonEmpty(c.ID, fmt.Sprintf("legacy-%d", i+1)),
		Provider: firstNonEmpty(c.Provider, "openai-compatible"),
		Endpoint: firstNonEmpty(c.Endpoint, c.BaseURL, c.APIURL),
		APIKey:   firstNonEmpty(c.APIKey, c.APIKeyAlt),
		Model:    firstNonEmpty(c.Model, c.ModelName),
	}
	p.Name = firstNonEmpty(c.Name, p.Model, p.Provider)
	return p
}

func fromLegacyList(list []legacyConfig) (domain.PresetSet, error) {
	if len(list) == 0 {
		return domain.PresetSet{}, errors.New("no configs")
	}
	var set domain.PresetSet
	seen := map[string]bool{}
	for i, c := range list {
		p := c.preset(i)
		if seen[p.ID] {
			p.ID = fmt.Sprintf("%s-%d", p.ID, i+1)
		}
		seen[p.ID] = true
		set.Presets = append(set.Presets, p)
		if c.Active && set.ActivePresetID == "" {
			set.ActivePresetID = p.ID
		}
	}
	if set.ActivePresetID == "" {
		set.ActivePresetID = set.Presets[0].ID
	}
	return set, nil
}

// ConvertConfigList converts a JSON array of flat configs into one preset
// each.
func ConvertConfigList(raw []byte) (domain.PresetSet, error) {
	var list []legacyConfig
	if err := json.Unmarshal(raw, &list); err != nil {
		return domain.PresetSet{}, fmt.Errorf("config list: %w", err)
	}
	return fromLegacyList(list)
}

// ConvertSingleConfig converts one flat config object into a single preset.
func ConvertSingleConfig(raw []byte) (domain.PresetSet, error) {
	var c legacyConfig
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.PresetSet{}, fmt.Errorf("single config: %w", err)
	}
	if c == (legacyConfig{}) {
		return domain.PresetSet{}, errors.New("single config: no known fields")
	}
	return fromLegacyList([]legacyConfig{c})
}
