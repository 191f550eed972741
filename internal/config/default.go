package config

import (
	"path/filepath"
	"time"

	"github.com/yndnr/savekeep-go/internal/savegame"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/storage/backup"
)

// Default configuration values.
const (
	DefaultDataDir      = "./savekeep-data"
	DefaultEngine       = storage.EngineBadger
	DefaultWriteTimeout = storage.DefaultWriteTimeout
	DefaultGCInterval   = 10 * time.Minute

	DefaultBackupKeep          = backup.DefaultRetentionCount
	DefaultBackupRetentionDays = backup.DefaultRetentionDays

	DefaultAutosaveThreshold = "05:00"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageSection{
			DataDir:      DefaultDataDir,
			Engine:       DefaultEngine,
			WriteTimeout: DefaultWriteTimeout,
			Compress:     true,
			Badger: BadgerSection{
				GCInterval: DefaultGCInterval,
				SyncWrites: true,
			},
		},
		Backup: BackupSection{
			Keep:          DefaultBackupKeep,
			RetentionDays: DefaultBackupRetentionDays,
		},
		Saves: SavesSection{
			ManualSlots:   savegame.DefaultManualSlots,
			QuickSlots:    savegame.DefaultQuickSlots,
			QuickCooldown: savegame.DefaultQuickCooldown,
		},
		Autosave: AutosaveSection{
			Enabled:   true,
			Threshold: DefaultAutosaveThreshold,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// BackupDir resolves the backup directory.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.Storage.DataDir, "backups")
}

// StoreConfig converts the storage section.
func (c *Config) StoreConfig() storage.Config {
	sc := storage.DefaultConfig(filepath.Join(c.Storage.DataDir, c.Storage.Engine))
	sc.Backend.Engine = c.Storage.Engine
	if c.Storage.InMemory {
		sc.Backend.Engine = storage.EngineMemory
	}
	if c.Storage.WriteTimeout > 0 {
		sc.WriteTimeout = c.Storage.WriteTimeout
	}
	sc.Compress = c.Storage.Compress
	if c.Storage.Badger.GCInterval > 0 {
		sc.Backend.Badger.GCInterval = c.Storage.Badger.GCInterval.String()
	}
	sc.Backend.Badger.SyncWrites = c.Storage.Badger.SyncWrites
	return sc
}

// BackupConfig converts the backup section. The cipher is left to the
// caller.
func (c *Config) BackupConfig() backup.Config {
	bc := backup.DefaultConfig(c.BackupDir())
	bc.RetentionCount = c.Backup.Keep
	bc.RetentionDays = c.Backup.RetentionDays
	return bc
}

// SavesConfig converts the saves section.
func (c *Config) SavesConfig() savegame.Config {
	return savegame.Config{
		ManualSlots:   c.Saves.ManualSlots,
		QuickSlots:    c.Saves.QuickSlots,
		QuickCooldown: c.Saves.QuickCooldown,
	}
}
