// Package storage provides the durable store behind savekeep.
//
// The store exposes named tables of opaque values keyed by string, an
// explicit schema version and a migration ladder that upgrades older stores
// on open. Two embedded backends are available:
//
//   - badger: the default; also serves the in-memory fallback
//   - sqlite: a single-file alternative built on modernc.org/sqlite
//
// All writes go through a single writer goroutine. Reads share a read lock
// and never observe a half-applied write. A write that does not finish within
// the watchdog window is reported to the caller as ErrWriteTimeout.
//
// When the configured backend cannot be opened the store falls back to an
// empty in-memory badger instance at the current schema version and Open
// returns ErrStoreUnavailable alongside a usable store.
package storage
