package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/pkg/crypto/adaptive"
)

// Verify validates the configuration. Every problem is reported, joined.
func Verify(cfg *Config) error {
	return errors.Join(
		verifyStorage(&cfg.Storage),
		verifyBackup(&cfg.Backup),
		verifySecurity(&cfg.Security),
		cfg.SavesConfig().Validate(),
		verifyAutosave(&cfg.Autosave),
		verifyLog(&cfg.Log),
	)
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" && !cfg.InMemory {
		return errors.New("storage.data_dir is required")
	}
	switch strings.ToLower(cfg.Engine) {
	case storage.EngineBadger, storage.EngineSQLite:
	default:
		return fmt.Errorf("storage.engine must be %q or %q, got %q", storage.EngineBadger, storage.EngineSQLite, cfg.Engine)
	}
	if cfg.WriteTimeout < 0 {
		return errors.New("storage.write_timeout must not be negative")
	}
	return nil
}

func verifyBackup(cfg *BackupSection) error {
	if cfg.Keep < 1 {
		return errors.New("backup.keep must be at least 1")
	}
	if cfg.RetentionDays < 0 {
		return errors.New("backup.retention_days must not be negative")
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	if cfg.EncryptionKey == "" {
		return nil
	}
	if _, err := adaptive.ParseHexKey(cfg.EncryptionKey); err != nil {
		return fmt.Errorf("security.encryption_key: %w", err)
	}
	return nil
}

func verifyAutosave(cfg *AutosaveSection) error {
	if !cfg.Enabled {
		return nil
	}
	if _, err := domain.ParseTimeOfDay(cfg.Threshold); err != nil {
		return fmt.Errorf("autosave.threshold: %w", err)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Format)
	}
	return nil
}
