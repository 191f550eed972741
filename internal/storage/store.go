package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/savekeep-go/internal/core/domain"
)

const schemaVersionMetaKey = "schema_version"

// DefaultWriteTimeout is the write watchdog window.
const DefaultWriteTimeout = 10 * time.Second

// Config configures a Store.
type Config struct {
	Backend BackendConfig

	// WriteTimeout bounds how long a caller waits for a queued write.
	// Default: 10s
	WriteTimeout time.Duration

	// Compress stores large values zstd-compressed.
	Compress bool

	// Migrations is the schema ladder. Default: DefaultMigrations().
	Migrations []Migration

	Logger *slog.Logger
}

// DefaultConfig returns the default store configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Backend:      DefaultBackendConfig(dir),
		WriteTimeout: DefaultWriteTimeout,
		Compress:     true,
		Migrations:   DefaultMigrations(),
	}
}

// Entry is one key/value pair returned by Query.
type Entry struct {
	Key   string
	Value []byte
}

// OpKind identifies a batched mutation.
type OpKind int

const (
	OpPut OpKind = iota + 1
	OpDelete
)

// Op is one mutation of a Transaction.
type Op struct {
	Kind  OpKind
	Table string
	Key   string
	Value []byte
}

// PutOp returns an OpPut.
func PutOp(table, key string, value []byte) Op {
	return Op{Kind: OpPut, Table: table, Key: key, Value: value}
}

// DeleteOp returns an OpDelete.
func DeleteOp(table, key string) Op {
	return Op{Kind: OpDelete, Table: table, Key: key}
}

// Write request states. The writer moves a request to reqCommitting just
// before the backend commits; the watchdog may only expire a pending one.
const (
	reqPending int32 = iota
	reqCommitting
	reqExpired
)

type writeReq struct {
	ctx   context.Context
	fn    func(*Tx) error
	done  chan error
	state atomic.Int32
}

// Store is the schema-versioned durable store.
type Store struct {
	cfg      Config
	backend  Backend
	codec    *codec
	logger   *slog.Logger
	version  int
	degraded error

	// mu keeps readers out while the writer commits.
	mu sync.RWMutex

	writes    chan *writeReq
	quit      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once

	metricWrites   *prometheus.CounterVec
	metricWriteDur prometheus.Histogram
}

// Open opens the configured backend and migrates it to the ladder's target
// version.
//
// If the backend cannot be opened, Open falls back to an empty in-memory
// store and returns it together with an error matching
// domain.ErrStoreUnavailable. A failed migration is fatal: Open returns a
// nil store and an error matching domain.ErrSchemaMigrationFailed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Migrations == nil {
		cfg.Migrations = DefaultMigrations()
	}
	if err := ValidateLadder(cfg.Migrations); err != nil {
		return nil, domain.ErrSchemaMigrationFailed.WithCause(err)
	}
	logger := cfg.Logger.With("component", "store")

	var degraded error
	backend, err := OpenBackend(cfg.Backend, logger)
	if err != nil {
		logger.Warn("durable backend unavailable, falling back to in-memory store",
			"engine", cfg.Backend.Engine,
			"dir", cfg.Backend.Dir,
			"error", err)
		mem, merr := NewMemoryBackend(cfg.Backend.Badger, logger)
		if merr != nil {
			return nil, domain.ErrStorageError.WithCause(errors.Join(err, merr))
		}
		backend = mem
		degraded = domain.ErrStoreUnavailable.WithCause(err)
	}

	c, err := newCodec(cfg.Compress)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	s := &Store{
		cfg:      cfg,
		backend:  backend,
		codec:    c,
		logger:   logger,
		degraded: degraded,
		writes:   make(chan *writeReq, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if err := s.migrate(ctx); err != nil {
		_ = backend.Close()
		c.close()
		return nil, err
	}

	go s.writeLoop()

	logger.Info("store opened",
		"engine", backend.Name(),
		"schema_version", s.version,
		"degraded", degraded != nil)

	if degraded != nil {
		return s, degraded
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	target := TargetVersion(s.cfg.Migrations)

	var (
		version int
		tables  Tables
	)
	err := s.backend.View(ctx, func(r Reader) error {
		v, err := readVersion(r)
		if err != nil {
			return err
		}
		version = v
		if version < target {
			tables, err = dumpReader(r, s.codec)
		}
		return err
	})
	if err != nil {
		return domain.ErrSchemaMigrationFailed.WithCause(err)
	}

	if version > target {
		return domain.ErrSchemaMigrationFailed.WithDetailsf(
			"store schema version %d is newer than supported version %d", version, target)
	}
	if version == target {
		s.version = version
		return nil
	}

	migrated, reached, err := Migrate(tables, version, s.cfg.Migrations)
	if err != nil {
		s.logger.Error("schema migration failed", "from", version, "error", err)
		return domain.ErrSchemaMigrationFailed.WithCause(err)
	}

	err = s.backend.Update(ctx, func(rw ReadWriter) error {
		if err := replaceAll(rw, migrated, s.codec); err != nil {
			return err
		}
		return writeVersion(rw, reached)
	})
	if err != nil {
		return domain.ErrSchemaMigrationFailed.WithCause(err)
	}

	s.version = reached
	s.logger.Info("schema migrated", "from", version, "to", reached)
	return nil
}

func readVersion(r Reader) (int, error) {
	raw, err := r.Meta(schemaVersionMetaKey)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q", raw)
	}
	return v, nil
}

func writeVersion(rw ReadWriter, v int) error {
	return rw.SetMeta(schemaVersionMetaKey, []byte(strconv.Itoa(v)))
}

func dumpReader(r Reader, c *codec) (Tables, error) {
	names, err := r.Tables()
	if err != nil {
		return nil, err
	}
	out := make(Tables, len(names))
	for _, name := range names {
		tbl := Table{}
		var derr error
		err := r.Scan(name, func(key string, value []byte) bool {
			v, err := c.decode(value)
			if err != nil {
				derr = fmt.Errorf("%s/%s: %w", name, key, err)
				return false
			}
			tbl[key] = v
			return true
		})
		if err != nil {
			return nil, err
		}
		if derr != nil {
			return nil, derr
		}
		out[name] = tbl
	}
	return out, nil
}

func replaceAll(rw ReadWriter, tables Tables, c *codec) error {
	existing, err := rw.Tables()
	if err != nil {
		return err
	}
	for _, name := range existing {
		if err := rw.DropTable(name); err != nil {
			return err
		}
	}
	for _, name := range tables.Names() {
		if err := rw.CreateTable(name); err != nil {
			return err
		}
		for key, value := range tables[name] {
			if err := rw.Set(name, key, c.encode(value)); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeLoop is the single writer. Every mutation of the store runs here.
func (s *Store) writeLoop() {
	defer close(s.done)
	for {
		select {
		case req := <-s.writes:
			req.done <- s.applyWrite(req)
		case <-s.quit:
			return
		}
	}
}

func (s *Store) applyWrite(req *writeReq) error {
	if req.state.Load() == reqExpired {
		return errWriteExpired
	}
	if err := req.ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	s.mu.Lock()
	err := s.backend.Update(req.ctx, func(rw ReadWriter) error {
		if err := req.fn(&Tx{r: rw, rw: rw, codec: s.codec}); err != nil {
			return err
		}
		if !req.state.CompareAndSwap(reqPending, reqCommitting) {
			return errWriteExpired
		}
		return nil
	})
	writes, dur := s.metricWrites, s.metricWriteDur
	s.mu.Unlock()

	if writes != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		writes.WithLabelValues(result).Inc()
		dur.Observe(time.Since(start).Seconds())
	}
	return err
}

// Update queues fn on the writer and waits for it. fn runs inside one
// backend transaction: if it returns an error nothing it wrote is kept.
//
// ctx only prevents a queued write from starting. When the watchdog expires
// before the writer reaches the commit, the write is rolled back and
// ErrWriteTimeout is returned; a write already committing is waited for.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	req := &writeReq{ctx: ctx, fn: fn, done: make(chan error, 1)}

	timer := time.NewTimer(s.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case s.writes <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return domain.ErrStoreClosed
	case <-timer.C:
		return s.watchdogExpired("queue")
	}

	select {
	case err := <-req.done:
		return err
	case <-timer.C:
		if req.state.CompareAndSwap(reqPending, reqExpired) {
			return s.watchdogExpired("commit")
		}
	case <-s.quit:
		return domain.ErrStoreClosed
	}
	return <-req.done
}

var errWriteExpired = errors.New("storage: write expired before commit")

func (s *Store) watchdogExpired(stage string) error {
	s.logger.Error("write watchdog expired", "stage", stage, "timeout", s.cfg.WriteTimeout)
	return domain.ErrWriteTimeout.WithDetailsf("%s stage exceeded %s", stage, s.cfg.WriteTimeout)
}

// View runs fn against a consistent read-only view.
func (s *Store) View(ctx context.Context, fn func(*Tx) error) error {
	if s.closed.Load() {
		return domain.ErrStoreClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.View(ctx, func(r Reader) error {
		return fn(&Tx{r: r, codec: s.codec})
	})
}

// Put stores value under table/key.
func (s *Store) Put(ctx context.Context, table, key string, value []byte) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Put(table, key, value)
	})
}

// Get returns the value under table/key. The bool is false when absent.
func (s *Store) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	var (
		v  []byte
		ok bool
	)
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		v, ok, err = tx.Get(table, key)
		return err
	})
	return v, ok, err
}

// GetJSON decodes the value under table/key into v.
func (s *Store) GetJSON(ctx context.Context, table, key string, v any) (bool, error) {
	var ok bool
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		ok, err = tx.GetJSON(table, key, v)
		return err
	})
	return ok, err
}

// PutJSON encodes v and stores it under table/key.
func (s *Store) PutJSON(ctx context.Context, table, key string, v any) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.PutJSON(table, key, v)
	})
}

// Query returns every entry of table accepted by pred, in key order.
// A nil pred accepts everything.
func (s *Store) Query(ctx context.Context, table string, pred func(key string, value []byte) bool) ([]Entry, error) {
	var out []Entry
	err := s.View(ctx, func(tx *Tx) error {
		return tx.Scan(table, func(key string, value []byte) bool {
			if pred == nil || pred(key, value) {
				out = append(out, Entry{Key: key, Value: value})
			}
			return true
		})
	})
	return out, err
}

// Delete removes table/key.
func (s *Store) Delete(ctx context.Context, table, key string) error {
	return s.Update(ctx, func(tx *Tx) error {
		return tx.Delete(table, key)
	})
}

// Transaction applies ops atomically.
func (s *Store) Transaction(ctx context.Context, ops ...Op) error {
	return s.Update(ctx, func(tx *Tx) error {
		for i, op := range ops {
			var err error
			switch op.Kind {
			case OpPut:
				err = tx.Put(op.Table, op.Key, op.Value)
			case OpDelete:
				err = tx.Delete(op.Table, op.Key)
			default:
				err = fmt.Errorf("op %d: unknown kind %d", i, op.Kind)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Dump returns the decoded content of every table.
func (s *Store) Dump(ctx context.Context) (Tables, error) {
	var out Tables
	err := s.View(ctx, func(tx *Tx) error {
		var err error
		out, err = dumpReader(tx.r, s.codec)
		return err
	})
	return out, err
}

// Replace swaps the whole store content for tables, which were written at
// schema version. Older content is migrated first.
func (s *Store) Replace(ctx context.Context, tables Tables, version int) error {
	migrated, reached, err := Migrate(tables, version, s.cfg.Migrations)
	if err != nil {
		return domain.ErrSchemaMigrationFailed.WithCause(err)
	}
	return s.Update(ctx, func(tx *Tx) error {
		if err := replaceAll(tx.rw, migrated, s.codec); err != nil {
			return err
		}
		return writeVersion(tx.rw, reached)
	})
}

// SchemaVersion returns the schema version the store runs at.
func (s *Store) SchemaVersion() int { return s.version }

// Engine returns the backend name actually serving the store.
func (s *Store) Engine() string { return s.backend.Name() }

// Degraded returns the open error when the store runs on the in-memory
// fallback, nil otherwise.
func (s *Store) Degraded() error { return s.degraded }

// Stats returns backend statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	return s.backend.Stats(ctx)
}

// GC reclaims backend space.
func (s *Store) GC(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.GC(ctx)
}

// RegisterMetrics registers write counters and, for badger, size gauges.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	writes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "savekeep",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Store write transactions by result",
	}, []string{"result"})
	dur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "savekeep",
		Subsystem: "store",
		Name:      "write_duration_seconds",
		Help:      "Store write transaction latency",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
	degraded := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "savekeep",
		Subsystem: "store",
		Name:      "degraded",
		Help:      "1 when the store runs on the in-memory fallback",
	}, func() float64 {
		if s.degraded != nil {
			return 1
		}
		return 0
	})
	for _, c := range []prometheus.Collector{writes, dur, degraded} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("store: register metrics: %w", err)
		}
	}
	s.mu.Lock()
	s.metricWrites = writes
	s.metricWriteDur = dur
	s.mu.Unlock()

	if b, ok := s.backend.(*BadgerBackend); ok {
		return b.RegisterMetrics(reg)
	}
	return nil
}

// Close stops the writer and closes the backend.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.quit)
		<-s.done

		s.mu.Lock()
		err = s.backend.Close()
		s.mu.Unlock()
		s.codec.close()
		s.logger.Info("store closed")
	})
	return err
}

// Tx is a store transaction. Values are decoded on read and encoded on write.
type Tx struct {
	r     Reader
	rw    ReadWriter
	codec *codec
}

// Writable reports whether the transaction accepts mutations.
func (tx *Tx) Writable() bool { return tx.rw != nil }

// Get returns the value under table/key. The bool is false when absent.
func (tx *Tx) Get(table, key string) ([]byte, bool, error) {
	raw, err := tx.r.Get(table, key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := tx.codec.decode(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetJSON decodes the value under table/key into v.
func (tx *Tx) GetJSON(table, key string, v any) (bool, error) {
	raw, ok, err := tx.Get(table, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %s/%s: %w", table, key, err)
	}
	return true, nil
}

// Scan visits every decoded entry of table in key order.
func (tx *Tx) Scan(table string, fn func(key string, value []byte) bool) error {
	var derr error
	err := tx.r.Scan(table, func(key string, raw []byte) bool {
		v, err := tx.codec.decode(raw)
		if err != nil {
			derr = fmt.Errorf("%s/%s: %w", table, key, err)
			return false
		}
		return fn(key, v)
	})
	if err != nil {
		return err
	}
	return derr
}

// Put stores value under table/key.
func (tx *Tx) Put(table, key string, value []byte) error {
	if tx.rw == nil {
		return errors.New("storage: write in read-only transaction")
	}
	return tx.rw.Set(table, key, tx.codec.encode(value))
}

// PutJSON encodes v and stores it under table/key.
func (tx *Tx) PutJSON(table, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", table, key, err)
	}
	return tx.Put(table, key, data)
}

// Delete removes table/key.
func (tx *Tx) Delete(table, key string) error {
	if tx.rw == nil {
		return errors.New("storage: write in read-only transaction")
	}
	return tx.rw.Delete(table, key)
}
