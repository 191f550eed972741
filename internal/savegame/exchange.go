package savegame

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/infra/buildinfo"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/telemetry/metric"
)

//go:embed schema/export.schema.json
var exportSchemaJSON string

var exportSchema = jsonschema.MustCompileString("export.schema.json", exportSchemaJSON)

// MaxImportSize bounds a decompressed import blob.
const MaxImportSize = 256 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	blobEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	blobDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxImportSize))
)

// Envelope is the export file format.
type Envelope struct {
	// Version is the producing build.
	Version string `json:"version"`
	// Timestamp is the export time in Unix milliseconds.
	Timestamp int64      `json:"timestamp"`
	Data      ExportData `json:"data"`
}

// ExportData holds the exported tables. Absent fields are left alone on import.
type ExportData struct {
	WorldState    *domain.Snapshot     `json:"world_state,omitempty"`
	ConfigPresets json.RawMessage      `json:"config_presets,omitempty"`
	SaveSlots     []*domain.SaveRecord `json:"save_slots,omitempty"`
}

// Compress zstd-compresses an export blob. ImportSave accepts either form.
func Compress(blob []byte) []byte {
	return blobEncoder.EncodeAll(blob, make([]byte, 0, len(blob)/2))
}

func (m *Manager) envelope(data ExportData) ([]byte, error) {
	env := Envelope{
		Version:   buildinfo.Get().Version,
		Timestamp: m.now().UnixMilli(),
		Data:      data,
	}
	return json.Marshal(env)
}

// ExportSave returns save id as an export blob.
func (m *Manager) ExportSave(ctx context.Context, id string) ([]byte, error) {
	rec, err := m.LoadSave(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.envelope(ExportData{SaveSlots: []*domain.SaveRecord{rec}})
}

// ExportAll returns every save record, the stored world state and the
// config presets as one export blob.
func (m *Manager) ExportAll(ctx context.Context) ([]byte, error) {
	var data ExportData
	err := m.store.View(ctx, func(tx *storage.Tx) error {
		recs, err := scanRecords(tx)
		if err != nil {
			return err
		}
		sortNewestFirst(recs)
		data.SaveSlots = recs

		var snap domain.Snapshot
		ok, err := tx.GetJSON(storage.TableWorldState, storage.MainKey, &snap)
		if err != nil {
			return err
		}
		if ok {
			data.WorldState = &snap
		}

		raw, ok, err := tx.Get(storage.TableConfigPresets, storage.MainKey)
		if err != nil {
			return err
		}
		if ok && m.presets != nil {
			raw, err = m.presets.Portable(raw)
		}
		if ok {
			data.ConfigPresets = raw
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return m.envelope(data)
}

// ImportResult describes an applied import.
type ImportResult struct {
	Saves         []string
	WorldState    bool
	ConfigPresets bool
	BackupID      string
}

// ParseExport decodes and validates an export blob without touching the
// store. Plain and zstd-compressed blobs are accepted.
func (m *Manager) ParseExport(blob []byte) (*Envelope, error) {
	raw, err := decodeBlob(blob)
	if err != nil {
		return nil, domain.ErrInvalidImportFormat.WithCause(err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, domain.ErrInvalidImportFormat.WithDetails("not JSON").WithCause(err)
	}
	if err := exportSchema.Validate(doc); err != nil {
		return nil, domain.ErrInvalidImportFormat.WithCause(err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.ErrInvalidImportFormat.WithCause(err)
	}
	if err := m.checkEnvelope(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (m *Manager) checkEnvelope(env *Envelope) error {
	seen := make(map[string]bool, len(env.Data.SaveSlots))
	for i, rec := range env.Data.SaveSlots {
		if rec == nil {
			return domain.ErrInvalidImportFormat.WithDetailsf("save_slots[%d] is null", i)
		}
		if err := rec.Validate(); err != nil {
			return domain.ErrInvalidImportFormat.WithDetailsf("save_slots[%d]", i).WithCause(err)
		}
		if n := m.cfg.Capacity(rec.Category); rec.Slot >= n {
			return domain.ErrInvalidImportFormat.WithDetailsf("save_slots[%d]: %s slot %d exceeds pool size %d", i, rec.Category, rec.Slot, n)
		}
		if seen[rec.ID] {
			return domain.ErrInvalidImportFormat.WithDetailsf("save_slots[%d]: duplicate id %s", i, rec.ID)
		}
		seen[rec.ID] = true
	}
	if len(env.Data.ConfigPresets) > 0 {
		var set domain.PresetSet
		if err := json.Unmarshal(env.Data.ConfigPresets, &set); err != nil {
			return domain.ErrInvalidImportFormat.WithDetails("config_presets").WithCause(err)
		}
		if err := set.Validate(); err != nil {
			return domain.ErrInvalidImportFormat.WithDetails("config_presets").WithCause(err)
		}
	}
	return nil
}

// ImportSave validates blob and writes its content, overwriting records
// that share an id. Nothing is written unless the whole blob is valid. A
// backup is taken first when backups are configured.
func (m *Manager) ImportSave(ctx context.Context, blob []byte) (*ImportResult, error) {
	res, err := m.importBlob(ctx, blob)
	m.metrics.IncImport(metric.ResultOf(err))
	if err != nil {
		m.logger.Warn("import rejected", "error", err)
		return nil, err
	}
	m.logger.Info("import applied",
		"saves", len(res.Saves),
		"world_state", res.WorldState,
		"config_presets", res.ConfigPresets,
		"backup", res.BackupID)
	for _, fn := range m.onImport {
		fn(*res)
	}
	return res, nil
}

func (m *Manager) importBlob(ctx context.Context, blob []byte) (*ImportResult, error) {
	env, err := m.ParseExport(blob)
	if err != nil {
		return nil, err
	}

	if err := m.acquire(ctx); err != nil {
		return nil, err
	}
	defer m.release()

	res := &ImportResult{}
	if m.backups != nil {
		info, err := m.takeBackup(ctx, "pre-import")
		if err != nil {
			return nil, err
		}
		res.BackupID = info.ID
	}

	err = m.store.Update(ctx, func(tx *storage.Tx) error {
		for _, rec := range env.Data.SaveSlots {
			if err := putRecord(tx, rec); err != nil {
				return err
			}
		}
		if env.Data.WorldState != nil {
			if err := tx.PutJSON(storage.TableWorldState, storage.MainKey, env.Data.WorldState); err != nil {
				return err
			}
		}
		if len(env.Data.ConfigPresets) > 0 {
			raw := env.Data.ConfigPresets
			if m.presets != nil {
				sealed, err := m.presets.Sealed(raw)
				if err != nil {
					return err
				}
				raw = sealed
			}
			var buf bytes.Buffer
			if err := json.Compact(&buf, raw); err != nil {
				return err
			}
			if err := tx.Put(storage.TableConfigPresets, storage.MainKey, buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, rec := range env.Data.SaveSlots {
		res.Saves = append(res.Saves, rec.ID)
	}
	res.WorldState = env.Data.WorldState != nil
	res.ConfigPresets = len(env.Data.ConfigPresets) > 0
	if res.WorldState {
		m.lastSync = ""
	}
	return res, nil
}

func decodeBlob(blob []byte) ([]byte, error) {
	if !bytes.HasPrefix(blob, zstdMagic) {
		if len(blob) > MaxImportSize {
			return nil, fmt.Errorf("blob of %d bytes exceeds %d", len(blob), MaxImportSize)
		}
		return blob, nil
	}
	out, err := blobDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return out, nil
}
