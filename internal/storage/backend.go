package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Backend errors.
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("backend closed")
)

// Engine names accepted by Config.Engine.
const (
	EngineBadger = "badger"
	EngineSQLite = "sqlite"
	EngineMemory = "memory"
)

// Reader is the read side of a backend transaction.
type Reader interface {
	// Get returns ErrKeyNotFound if the key does not exist.
	Get(table, key string) ([]byte, error)

	// Scan visits every key of table in key order. fn returns false to stop.
	Scan(table string, fn func(key string, value []byte) bool) error

	// Tables lists every table that exists, sorted.
	Tables() ([]string, error)

	// Meta returns ErrKeyNotFound if the meta key does not exist.
	Meta(key string) ([]byte, error)
}

// ReadWriter is the write side of a backend transaction.
type ReadWriter interface {
	Reader

	// CreateTable makes an empty table exist. Creating an existing table is a no-op.
	CreateTable(table string) error

	// DropTable removes a table and all of its keys.
	DropTable(table string) error

	// Set stores value, creating the table if needed.
	Set(table, key string, value []byte) error

	// Delete removes a key. Deleting a missing key is a no-op.
	Delete(table, key string) error

	SetMeta(key string, value []byte) error
}

// Backend is an embedded transactional table store.
//
// Implementations must make every Update atomic: either every mutation made
// by fn is committed, or none is.
type Backend interface {
	Name() string
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(ReadWriter) error) error

	// GC reclaims space. Returns bytes reclaimed (approximate).
	GC(ctx context.Context) (uint64, error)

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Stats contains backend statistics.
type Stats struct {
	Engine string

	// TotalSize is the total disk usage in bytes.
	TotalSize uint64

	// LSMSize is the LSM tree size (badger only).
	LSMSize uint64

	// ValueLogSize is the value log size (badger only).
	ValueLogSize uint64

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64

	// GCBytesReclaimed is the total bytes reclaimed by GC.
	GCBytesReclaimed uint64
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	// Engine is one of "badger", "sqlite", "memory".
	// Default: "badger"
	Engine string

	// Dir is the data directory. Ignored by the memory engine.
	Dir string

	Badger BadgerConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 16MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 64MB
	ValueLogFileSize int64

	// SyncWrites enables fsync after each write.
	// Default: true (save records are user data)
	SyncWrites bool
}

// DefaultBackendConfig returns the default backend configuration.
func DefaultBackendConfig(dir string) BackendConfig {
	return BackendConfig{
		Engine: EngineBadger,
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "10m",
		GCThreshold:      0.5,
		CacheSize:        16 << 20, // 16MB
		ValueLogFileSize: 64 << 20, // 64MB
		SyncWrites:       true,
	}
}

// OpenBackend opens the backend named by cfg.Engine.
func OpenBackend(cfg BackendConfig, logger *slog.Logger) (Backend, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", EngineBadger:
		return NewBadgerBackend(cfg, logger)
	case EngineSQLite:
		return NewSQLiteBackend(cfg, logger)
	case EngineMemory:
		return NewMemoryBackend(cfg.Badger, logger)
	default:
		return nil, fmt.Errorf("storage: unknown engine %q", cfg.Engine)
	}
}

func validTableName(table string) error {
	if table == "" || strings.ContainsAny(table, "/\x00") {
		return fmt.Errorf("storage: invalid table name %q", table)
	}
	return nil
}
