package config

import "time"

// Config is the root configuration.
type Config struct {
	Storage  StorageSection  `koanf:"storage" yaml:"storage"`
	Backup   BackupSection   `koanf:"backup" yaml:"backup"`
	Security SecuritySection `koanf:"security" yaml:"security"`
	Saves    SavesSection    `koanf:"saves" yaml:"saves"`
	Autosave AutosaveSection `koanf:"autosave" yaml:"autosave"`
	Presets  PresetsSection  `koanf:"presets" yaml:"presets"`
	Log      LogSection      `koanf:"log" yaml:"log"`
	Metrics  MetricsSection  `koanf:"metrics" yaml:"metrics"`
}

// StorageSection configures the durable store.
type StorageSection struct {
	DataDir string `koanf:"data_dir" yaml:"data_dir"`

	// Engine is "badger" or "sqlite".
	Engine string `koanf:"engine" yaml:"engine"`

	// InMemory keeps everything in memory. Nothing survives a restart.
	InMemory bool `koanf:"in_memory" yaml:"in_memory"`

	WriteTimeout time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	Compress     bool          `koanf:"compress" yaml:"compress"`

	Badger BadgerSection `koanf:"badger" yaml:"badger"`
}

// BadgerSection tunes the badger engine.
type BadgerSection struct {
	GCInterval time.Duration `koanf:"gc_interval" yaml:"gc_interval"`
	SyncWrites bool          `koanf:"sync_writes" yaml:"sync_writes"`
}

// BackupSection configures automatic backups.
type BackupSection struct {
	// Dir defaults to <data_dir>/backups.
	Dir           string `koanf:"dir" yaml:"dir"`
	Keep          int    `koanf:"keep" yaml:"keep"`
	RetentionDays int    `koanf:"retention_days" yaml:"retention_days"`
}

// SecuritySection configures encryption at rest.
type SecuritySection struct {
	// EncryptionKey is 64 hex characters. When empty, backups and preset
	// API keys are stored in the clear.
	EncryptionKey string `koanf:"encryption_key" yaml:"encryption_key"`
}

// SavesSection sizes the slot pools. The auto pool always has one slot.
type SavesSection struct {
	ManualSlots   int           `koanf:"manual_slots" yaml:"manual_slots"`
	QuickSlots    int           `koanf:"quick_slots" yaml:"quick_slots"`
	QuickCooldown time.Duration `koanf:"quick_cooldown" yaml:"quick_cooldown"`
}

// AutosaveSection configures the overnight autosave.
type AutosaveSection struct {
	Enabled bool `koanf:"enabled" yaml:"enabled"`

	// Threshold is the time of day, "HH:MM".
	Threshold string `koanf:"threshold" yaml:"threshold"`
}

// PresetsSection configures the preset store.
type PresetsSection struct {
	// LegacyFile is an optional YAML file of legacy AI configs imported
	// once on first use.
	LegacyFile string `koanf:"legacy_file" yaml:"legacy_file"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// MetricsSection configures the metrics endpoint served by the shell.
type MetricsSection struct {
	// Addr is empty to disable.
	Addr string `koanf:"addr" yaml:"addr"`
}
