package savegame

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/storage/backup"
	"github.com/yndnr/savekeep-go/internal/telemetry/metric"
	"github.com/yndnr/savekeep-go/internal/world"
)

// World is the aggregator surface the manager drives.
type World interface {
	Capture() (domain.Snapshot, error)
	Apply(snap domain.Snapshot) (world.ApplyReport, error)
	CheckSavable() error
}

// Backuper takes a full-store backup before destructive operations and
// loads one back for RestoreBackup.
type Backuper interface {
	Create(tables storage.Tables, schemaVersion int, reason string) (*backup.Info, error)
	Load(id string) (storage.Tables, *backup.Info, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets pool sizes and the quick save cooldown.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithEligibility replaces the save eligibility predicate. The default is
// the world's own CheckSavable.
func WithEligibility(fn func() error) Option {
	return func(m *Manager) { m.eligible = fn }
}

// WithBackups enables pre-operation backups.
func WithBackups(b Backuper) Option {
	return func(m *Manager) { m.backups = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records operation metrics into r.
func WithMetrics(r *metric.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithClock overrides the wall clock used for createdAt and the cooldown.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// PresetCodec converts the config_presets value between its stored form and
// the portable form carried by exports.
type PresetCodec interface {
	Portable(stored json.RawMessage) (json.RawMessage, error)
	Sealed(portable json.RawMessage) (json.RawMessage, error)
}

// WithPresetCodec routes exported and imported config presets through c, so
// api keys are re-encrypted under the local key on import.
func WithPresetCodec(c PresetCodec) Option {
	return func(m *Manager) { m.presets = c }
}

// WithImportHook registers fn to run after every successful import.
func WithImportHook(fn func(ImportResult)) Option {
	return func(m *Manager) { m.onImport = append(m.onImport, fn) }
}

// Manager owns save records.
type Manager struct {
	store    *storage.Store
	world    World
	cfg      Config
	eligible func() error
	backups  Backuper
	logger   *slog.Logger
	metrics  *metric.Registry
	now      func() time.Time
	onImport []func(ImportResult)
	presets  PresetCodec

	// sem is the operation lock. Capacity one.
	sem      chan struct{}
	cooldown *rate.Limiter

	// lastSync is the digest of the last world_state write. Guarded by sem.
	lastSync string
}

// New creates a Manager over store and w.
func New(store *storage.Store, w World, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("store is required")
	}
	if w == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("world is required")
	}
	m := &Manager{
		store:  store,
		world:  w,
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
		sem:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, domain.ErrInvalidArgument.WithCause(err)
	}
	if m.eligible == nil {
		m.eligible = w.CheckSavable
	}
	if m.cfg.QuickCooldown > 0 {
		m.cooldown = rate.NewLimiter(rate.Every(m.cfg.QuickCooldown), 1)
	}
	m.logger = m.logger.With("component", "savegame")
	return m, nil
}

// Config returns the pool configuration.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) tryAcquire() bool {
	select {
	case m.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Manager) release() { <-m.sem }

// Exclusive runs fn under the operation lock, so it never interleaves with a
// save, load, import or world_state sync.
func (m *Manager) Exclusive(ctx context.Context, fn func() error) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()
	return fn()
}

func (m *Manager) checkEligible() error {
	if m.eligible == nil {
		return nil
	}
	err := m.eligible()
	if err == nil || errors.Is(err, domain.ErrNotSavableNow) {
		return err
	}
	return domain.ErrNotSavableNow.WithCause(err)
}

// ============================================================================
// Create
// ============================================================================

type saveOptions struct {
	slot     int
	hasSlot  bool
	name     string
	notSince time.Time
}

// SaveOption customizes CreateSave.
type SaveOption func(*saveOptions)

// AtSlot targets an explicit slot instead of the allocator's choice.
func AtSlot(n int) SaveOption {
	return func(o *saveOptions) { o.slot, o.hasSlot = n, true }
}

// Named sets the display name.
func Named(name string) SaveOption {
	return func(o *saveOptions) { o.name = strings.TrimSpace(name) }
}

// IfNotWrittenSince makes the save fail with domain.ErrSuperseded when the
// target slot was written after t.
func IfNotWrittenSince(t time.Time) SaveOption {
	return func(o *saveOptions) { o.notSince = t }
}

// CreateSave captures the world and writes it into category. It waits for
// any operation in flight.
//
// A partial capture still saves; the record's metadata carries the warnings.
func (m *Manager) CreateSave(ctx context.Context, cat domain.Category, opts ...SaveOption) (*domain.SaveRecord, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()
	return m.create(ctx, cat, opts)
}

// TryCreateSave is CreateSave, except that it fails with domain.ErrBusy
// instead of waiting when another operation is in flight.
func (m *Manager) TryCreateSave(ctx context.Context, cat domain.Category, opts ...SaveOption) (*domain.SaveRecord, error) {
	if !m.tryAcquire() {
		return nil, domain.ErrBusy
	}
	defer m.release()
	return m.create(ctx, cat, opts)
}

func (m *Manager) create(ctx context.Context, cat domain.Category, opts []SaveOption) (*domain.SaveRecord, error) {
	begin := time.Now()
	rec, err := m.write(ctx, cat, opts)

	result := metric.ResultOK
	switch {
	case err != nil && isRejection(err):
		result = metric.ResultRejected
	case err != nil:
		result = metric.ResultError
	case rec.HasWarnings():
		result = metric.ResultPartial
	}
	m.metrics.ObserveSave(string(cat), result, time.Since(begin))

	if err != nil {
		m.logger.Warn("save failed", "category", cat, "error", err)
		return nil, err
	}
	m.logger.Info("save created",
		"id", rec.ID,
		"name", rec.DisplayName,
		"fragments", rec.Metadata.FragmentCount,
		"warnings", len(rec.Metadata.Warnings))
	return rec, nil
}

func (m *Manager) write(ctx context.Context, cat domain.Category, opts []SaveOption) (*domain.SaveRecord, error) {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}

	// 1. Resolve the pool
	c, err := domain.ParseCategory(string(cat))
	if err != nil {
		return nil, err
	}
	capacity := m.cfg.Capacity(c)
	if c == domain.CategoryAuto {
		if o.hasSlot && o.slot != 0 {
			return nil, domain.ErrInvalidSlot.WithDetailsf("auto saves always use slot 0, got %d", o.slot)
		}
		o.slot, o.hasSlot = 0, true
	}
	if o.hasSlot && (o.slot < 0 || o.slot >= capacity) {
		return nil, domain.ErrInvalidSlot.WithDetailsf("%s slot %d outside [0, %d)", c, o.slot, capacity)
	}

	// 2. Eligibility
	if err := m.checkEligible(); err != nil {
		return nil, err
	}

	// 3. Capture
	snap, err := m.world.Capture()
	if err != nil && !errors.Is(err, domain.ErrPartialCapture) {
		return nil, err
	}
	if err != nil {
		m.logger.Warn("partial capture", "category", c, "missing", snap.Missing, "error", err)
	}

	rec := &domain.SaveRecord{
		Category:      c,
		CreatedAt:     m.now().UTC(),
		SchemaVersion: m.store.SchemaVersion(),
		Snapshot:      snap,
		Metadata:      buildMetadata(snap),
	}

	// 4. Allocate and write in one transaction
	var evicted []string
	err = m.store.Update(ctx, func(tx *storage.Tx) error {
		evicted = nil
		used, err := readIndex(tx, c)
		if err != nil {
			return err
		}
		slot := o.slot
		if !o.hasSlot {
			if slot, err = pickSlot(used, capacity); err != nil {
				return err
			}
		}
		if prev, ok := used[slot]; ok && !o.notSince.IsZero() && prev.CreatedAt.After(o.notSince) {
			return domain.ErrSuperseded.WithDetailsf("%s written at %s", prev.ID, prev.CreatedAt.Format(time.RFC3339))
		}

		rec.Slot = slot
		rec.ID = domain.SaveID(c, slot)
		rec.DisplayName = o.name
		if rec.DisplayName == "" {
			rec.DisplayName = defaultDisplayName(rec)
		}
		for _, i := range overflow(used, slot, capacity) {
			if err := tx.Delete(storage.TableSaveSlots, used[i].ID); err != nil {
				return err
			}
			if err := tx.Delete(storage.TableSaveIndex, storage.SlotIndexKey(string(c), i)); err != nil {
				return err
			}
			evicted = append(evicted, used[i].ID)
		}
		return putRecord(tx, rec)
	})
	if err != nil {
		return nil, err
	}
	if len(evicted) > 0 {
		m.logger.Warn("evicted saves beyond the pool capacity", "category", c, "capacity", capacity, "ids", evicted)
	}
	return rec, nil
}

func putRecord(tx *storage.Tx, rec *domain.SaveRecord) error {
	if err := tx.PutJSON(storage.TableSaveSlots, rec.ID, rec); err != nil {
		return err
	}
	return tx.PutJSON(storage.TableSaveIndex,
		storage.SlotIndexKey(string(rec.Category), rec.Slot),
		storage.SlotIndexEntry{ID: rec.ID, CreatedAt: rec.CreatedAt})
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrNotSavableNow) ||
		errors.Is(err, domain.ErrTooSoon) ||
		errors.Is(err, domain.ErrBusy) ||
		errors.Is(err, domain.ErrSuperseded)
}

// FindAvailableSlot returns the slot the next save in category would take.
func (m *Manager) FindAvailableSlot(ctx context.Context, cat domain.Category) (int, error) {
	c, err := domain.ParseCategory(string(cat))
	if err != nil {
		return 0, err
	}
	if c == domain.CategoryAuto {
		return 0, nil
	}
	var slot int
	err = m.store.View(ctx, func(tx *storage.Tx) error {
		used, err := readIndex(tx, c)
		if err != nil {
			return err
		}
		slot, err = pickSlot(used, m.cfg.Capacity(c))
		return err
	})
	return slot, err
}

// ============================================================================
// Quick save
// ============================================================================

// QuickSave creates a quick save unless the previous successful one is
// younger than the cooldown, in which case it fails with domain.ErrTooSoon.
func (m *Manager) QuickSave(ctx context.Context) (*domain.SaveRecord, error) {
	if m.cooldown == nil {
		return m.CreateSave(ctx, domain.CategoryQuick)
	}

	now := m.now()
	r := m.cooldown.ReserveN(now, 1)
	if !r.OK() {
		return nil, domain.ErrTooSoon
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		m.metrics.ObserveSave(string(domain.CategoryQuick), metric.ResultRejected, 0)
		return nil, domain.ErrTooSoon.WithDetailsf("retry in %s", wait.Round(100*time.Millisecond))
	}

	rec, err := m.CreateSave(ctx, domain.CategoryQuick)
	if err != nil {
		// Only a successful quick save starts the cooldown.
		r.CancelAt(now)
		return nil, err
	}
	return rec, nil
}

// QuickLoad restores the newest quick save.
func (m *Manager) QuickLoad(ctx context.Context) (*RestoreResult, error) {
	saves, err := m.ListSaves(ctx, domain.CategoryQuick)
	if err != nil {
		return nil, err
	}
	if len(saves) == 0 {
		return nil, domain.ErrSaveNotFound.WithDetails("no quick saves")
	}
	return m.RestoreSave(ctx, saves[0].ID)
}

// ============================================================================
// Read
// ============================================================================

// LoadSave returns the record id.
func (m *Manager) LoadSave(ctx context.Context, id string) (*domain.SaveRecord, error) {
	if _, _, err := domain.ParseSaveID(id); err != nil {
		return nil, err
	}
	var rec domain.SaveRecord
	ok, err := m.store.GetJSON(ctx, storage.TableSaveSlots, id, &rec)
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	if !ok {
		return nil, domain.ErrSaveNotFound.WithDetailsf("id %q", id)
	}
	return &rec, nil
}

// ListSaves returns the records of category, newest first. An empty
// category lists every record.
func (m *Manager) ListSaves(ctx context.Context, cat domain.Category) ([]*domain.SaveRecord, error) {
	if cat != "" {
		if _, err := domain.ParseCategory(string(cat)); err != nil {
			return nil, err
		}
	}
	var out []*domain.SaveRecord
	err := m.store.View(ctx, func(tx *storage.Tx) error {
		all, err := scanRecords(tx)
		if err != nil {
			return err
		}
		for _, rec := range all {
			if cat == "" || rec.Category == cat {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func scanRecords(tx *storage.Tx) ([]*domain.SaveRecord, error) {
	var (
		out  []*domain.SaveRecord
		derr error
	)
	err := tx.Scan(storage.TableSaveSlots, func(key string, value []byte) bool {
		rec := new(domain.SaveRecord)
		if err := json.Unmarshal(value, rec); err != nil {
			derr = fmt.Errorf("save %q: %w", key, err)
			return false
		}
		out = append(out, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, derr
}

func sortNewestFirst(recs []*domain.SaveRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

// RecordCounts returns the number of occupied slots per category.
func (m *Manager) RecordCounts(ctx context.Context) (map[string]int, error) {
	entries, err := m.store.Query(ctx, storage.TableSaveIndex, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(domain.Categories))
	for _, c := range domain.Categories {
		counts[string(c)] = 0
	}
	for _, e := range entries {
		if i := strings.IndexByte(e.Key, '/'); i > 0 {
			counts[e.Key[:i]]++
		}
	}
	return counts, nil
}

// ============================================================================
// Restore
// ============================================================================

// RestoreResult describes a restored save.
type RestoreResult struct {
	Record *domain.SaveRecord
	Report world.ApplyReport
}

// RestoreSave applies save id to the live world.
//
// The world must be savable. A collaborator that fails to apply its fragment
// does not stop the others; the returned error then matches
// domain.ErrCollaboratorFailed and the result is still populated.
func (m *Manager) RestoreSave(ctx context.Context, id string) (*RestoreResult, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	res, err := m.restore(ctx, id)
	switch {
	case err != nil && isRejection(err):
		m.metrics.IncLoad(metric.ResultRejected)
	default:
		m.metrics.IncLoad(metric.ResultOf(err))
	}
	return res, err
}

func (m *Manager) restore(ctx context.Context, id string) (*RestoreResult, error) {
	if err := m.checkEligible(); err != nil {
		return nil, err
	}
	rec, err := m.LoadSave(ctx, id)
	if err != nil {
		return nil, err
	}

	report, applyErr := m.world.Apply(rec.Snapshot)
	res := &RestoreResult{Record: rec, Report: report}

	if _, err := m.sync(ctx); err != nil {
		m.logger.Warn("world state sync after restore failed", "id", id, "error", err)
	}
	if applyErr != nil {
		m.logger.Error("save restored with failures", "id", id, "failed", len(report.Failed), "error", applyErr)
		return res, applyErr
	}
	m.logger.Info("save restored",
		"id", id,
		"applied", len(report.Applied),
		"untouched", report.Untouched,
		"unknown", report.Unknown)
	return res, nil
}

// ============================================================================
// Modify / delete
// ============================================================================

// RenameSave changes the display name of save id.
func (m *Manager) RenameSave(ctx context.Context, id, name string) (*domain.SaveRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("name must not be empty")
	}
	if _, _, err := domain.ParseSaveID(id); err != nil {
		return nil, err
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	var rec domain.SaveRecord
	err := m.store.Update(ctx, func(tx *storage.Tx) error {
		ok, err := tx.GetJSON(storage.TableSaveSlots, id, &rec)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSaveNotFound.WithDetailsf("id %q", id)
		}
		rec.DisplayName = name
		return tx.PutJSON(storage.TableSaveSlots, id, &rec)
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("save renamed", "id", id, "name", name)
	return &rec, nil
}

// DeleteSave removes save id and frees its slot. A backup is taken first
// when backups are configured.
func (m *Manager) DeleteSave(ctx context.Context, id string) error {
	c, slot, err := domain.ParseSaveID(id)
	if err != nil {
		return err
	}
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	if _, ok, err := m.store.Get(ctx, storage.TableSaveSlots, id); err != nil {
		return domain.ErrStorageError.WithCause(err)
	} else if !ok {
		return domain.ErrSaveNotFound.WithDetailsf("id %q", id)
	}
	if err := m.backup(ctx, "pre-delete "+id); err != nil {
		return err
	}

	err = m.store.Update(ctx, func(tx *storage.Tx) error {
		if err := tx.Delete(storage.TableSaveSlots, id); err != nil {
			return err
		}
		return tx.Delete(storage.TableSaveIndex, storage.SlotIndexKey(string(c), slot))
	})
	if err != nil {
		return err
	}
	m.logger.Info("save deleted", "id", id)
	return nil
}

// ClearResult counts what ClearAll removed.
type ClearResult struct {
	Saves      int
	WorldState bool
	BackupID   string
}

// ClearAll removes every save record and the stored world state. Config
// presets are kept.
func (m *Manager) ClearAll(ctx context.Context) (*ClearResult, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	res := &ClearResult{}
	if m.backups != nil {
		info, err := m.takeBackup(ctx, "pre-clear")
		if err != nil {
			return nil, err
		}
		res.BackupID = info.ID
	}

	err := m.store.Update(ctx, func(tx *storage.Tx) error {
		for _, table := range []string{storage.TableSaveSlots, storage.TableSaveIndex, storage.TableWorldState} {
			var keys []string
			if err := tx.Scan(table, func(key string, _ []byte) bool {
				keys = append(keys, key)
				return true
			}); err != nil {
				return err
			}
			for _, k := range keys {
				if err := tx.Delete(table, k); err != nil {
					return err
				}
			}
			switch table {
			case storage.TableSaveSlots:
				res.Saves = len(keys)
			case storage.TableWorldState:
				res.WorldState = len(keys) > 0
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.lastSync = ""
	m.logger.Warn("all save data cleared", "saves", res.Saves, "backup", res.BackupID)
	return res, nil
}

// BackupRestoreResult describes a RestoreBackup.
type BackupRestoreResult struct {
	Restored *backup.Info
	// BackupID is the backup of the content that was replaced.
	BackupID string
}

// RestoreBackup replaces the whole store with the content of backup id,
// migrating it when it was written at an older schema version. The
// current content is backed up first. Import hooks run afterwards since
// presets and world state may have changed.
func (m *Manager) RestoreBackup(ctx context.Context, id string) (*BackupRestoreResult, error) {
	if m.backups == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("backups are not configured")
	}
	tables, info, err := m.backups.Load(id)
	if err != nil {
		return nil, domain.ErrStorageError.WithDetailsf("load backup %s", id).WithCause(err)
	}

	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	pre, err := m.takeBackup(ctx, "pre-restore")
	if err != nil {
		m.release()
		return nil, err
	}
	err = m.store.Replace(ctx, tables, info.SchemaVersion)
	if err == nil {
		m.lastSync = ""
	}
	m.release()
	if err != nil {
		return nil, err
	}

	m.logger.Warn("store restored from backup", "backup_id", info.ID, "pre_restore", pre.ID)
	ids, err := m.listIDs(ctx)
	if err != nil {
		m.logger.Error("list saves after restore", "backup_id", info.ID, "error", err)
	}
	for _, fn := range m.onImport {
		fn(ImportResult{Saves: ids, WorldState: true, ConfigPresets: true, BackupID: pre.ID})
	}
	return &BackupRestoreResult{Restored: info, BackupID: pre.ID}, nil
}

func (m *Manager) listIDs(ctx context.Context) ([]string, error) {
	recs, err := m.ListSaves(ctx, "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

func (m *Manager) backup(ctx context.Context, reason string) error {
	if m.backups == nil {
		return nil
	}
	_, err := m.takeBackup(ctx, reason)
	return err
}

// Backup dumps the whole store to a new backup file.
func (m *Manager) Backup(ctx context.Context, reason string) (*backup.Info, error) {
	if m.backups == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("backups are not configured")
	}
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()
	return m.takeBackup(ctx, reason)
}

func (m *Manager) takeBackup(ctx context.Context, reason string) (*backup.Info, error) {
	tables, err := m.store.Dump(ctx)
	if err != nil {
		return nil, domain.ErrStorageError.WithDetails("dump for backup").WithCause(err)
	}
	info, err := m.backups.Create(tables, m.store.SchemaVersion(), reason)
	if err != nil {
		return nil, domain.ErrStorageError.WithDetails("pre-operation backup failed").WithCause(err)
	}
	m.logger.Info("backup created", "backup_id", info.ID, "reason", reason)
	return info, nil
}

// ============================================================================
// Live world state
// ============================================================================

// SyncWorldState writes the live world to world_state. It reports false
// when the world has not changed since the last write.
func (m *Manager) SyncWorldState(ctx context.Context) (bool, error) {
	if err := m.acquire(ctx); err != nil {
		return false, err
	}
	defer m.release()
	return m.sync(ctx)
}

func (m *Manager) sync(ctx context.Context) (bool, error) {
	snap, err := m.world.Capture()
	if err != nil && !errors.Is(err, domain.ErrPartialCapture) {
		return false, err
	}
	if len(snap.Fragments) == 0 && !snap.Partial() {
		// Nothing registered; keep whatever is stored.
		return false, nil
	}
	digest := snap.Digest()
	if !snap.Partial() && digest == m.lastSync {
		return false, nil
	}

	err = m.store.Update(ctx, func(tx *storage.Tx) error {
		if snap.Partial() {
			// Keep the last good fragment of collaborators that failed now.
			var prev domain.Snapshot
			if _, err := tx.GetJSON(storage.TableWorldState, storage.MainKey, &prev); err != nil {
				return err
			}
			for _, id := range snap.Missing {
				if f, ok := prev.Fragment(id); ok {
					snap.Fragments[id] = f
				}
			}
		}
		return tx.PutJSON(storage.TableWorldState, storage.MainKey, snap)
	})
	if err != nil {
		return false, err
	}
	if !snap.Partial() {
		m.lastSync = digest
	}
	return true, nil
}

// RecoverWorldState applies the stored world_state to the live world. It
// returns nil and no error when nothing is stored.
func (m *Manager) RecoverWorldState(ctx context.Context) (*world.ApplyReport, error) {
	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	var snap domain.Snapshot
	ok, err := m.store.GetJSON(ctx, storage.TableWorldState, storage.MainKey, &snap)
	if err != nil {
		return nil, domain.ErrStorageError.WithCause(err)
	}
	if !ok {
		return nil, nil
	}
	report, err := m.world.Apply(snap)
	if err == nil {
		m.lastSync = snap.Digest()
	}
	m.logger.Info("world state recovered",
		"captured_at", snap.CapturedAt,
		"applied", len(report.Applied),
		"error", err)
	return &report, err
}
