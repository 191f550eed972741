package presets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/telemetry/metric"
	"github.com/yndnr/savekeep-go/pkg/crypto/adaptive"
)

// encPrefix marks an api_key encrypted at rest.
const encPrefix = "enc:v1:"

// ChangeKind names what a write did.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeDelete ChangeKind = "delete"
	ChangeActive ChangeKind = "active"
	ChangeImport ChangeKind = "import"
	ChangeReload ChangeKind = "reload"
)

// Change is delivered to subscribers after a committed write.
type Change struct {
	Kind     ChangeKind
	PresetID string
	Set      domain.PresetSet
}

// Option configures a Store.
type Option func(*Store)

// WithCipher encrypts api keys at rest.
func WithCipher(c adaptive.Cipher) Option {
	return func(s *Store) { s.cipher = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics counts preset writes.
func WithMetrics(r *metric.Registry) Option {
	return func(s *Store) { s.metrics = r }
}

// WithLegacySources replaces the ordered legacy locations probed on first
// access.
func WithLegacySources(src ...LegacySource) Option {
	return func(s *Store) { s.sources = src }
}

// WithDefaults replaces the preset set seeded when no legacy data exists.
func WithDefaults(fn func() domain.PresetSet) Option {
	return func(s *Store) { s.defaults = fn }
}

// Store manages the preset set.
type Store struct {
	store    *storage.Store
	cipher   adaptive.Cipher
	logger   *slog.Logger
	metrics  *metric.Registry
	sources  []LegacySource
	defaults func() domain.PresetSet

	// mu serializes read-modify-write cycles and guards the fields below.
	mu       sync.Mutex
	imported bool
	subs     map[int]func(Change)
	nextSub  int
}

// New creates a Store. The legacy import runs on first access.
func New(store *storage.Store, opts ...Option) *Store {
	s := &Store{
		store:    store,
		logger:   slog.Default(),
		sources:  DefaultLegacySources(""),
		defaults: DefaultPresets,
		subs:     make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "presets")
	return s
}

// DefaultPresets is the seed used when nothing can be imported.
func DefaultPresets() domain.PresetSet {
	return domain.PresetSet{
		Presets: []domain.ConfigPreset{
			{
				ID:       "default-openai",
				Name:     "OpenAI",
				Provider: "openai",
				Endpoint: "https://api.openai.com/v1",
				Model:    "gpt-4o-mini",
			},
			{
				ID:       "default-local",
				Name:     "Local (Ollama)",
				Provider: "ollama",
				Endpoint: "http://localhost:11434",
				Model:    "llama3.1",
			},
		},
		ActivePresetID: "default-openai",
	}
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. fn runs synchronously on the writer's goroutine after the
// write has committed and must not call back into the Store's writers.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) publish(c Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

// ============================================================================
// Reads
// ============================================================================

// Load returns the preset set with api keys decrypted.
func (s *Store) Load(ctx context.Context) (domain.PresetSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureImported(ctx); err != nil {
		return domain.PresetSet{}, err
	}
	var set domain.PresetSet
	_, err := s.store.GetJSON(ctx, storage.TableConfigPresets, storage.MainKey, &set)
	if err != nil {
		return domain.PresetSet{}, domain.ErrStorageError.WithCause(err)
	}
	return s.decryptSet(set, false), nil
}

// List returns every preset.
func (s *Store) List(ctx context.Context) ([]domain.ConfigPreset, error) {
	set, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return set.Presets, nil
}

// Get returns preset id.
func (s *Store) Get(ctx context.Context, id string) (domain.ConfigPreset, error) {
	set, err := s.Load(ctx)
	if err != nil {
		return domain.ConfigPreset{}, err
	}
	p, ok := set.Find(id)
	if !ok {
		return domain.ConfigPreset{}, domain.ErrPresetNotFound.WithDetailsf("id %q", id)
	}
	return p, nil
}

// Active returns the active preset.
func (s *Store) Active(ctx context.Context) (domain.ConfigPreset, error) {
	set, err := s.Load(ctx)
	if err != nil {
		return domain.ConfigPreset{}, err
	}
	p, ok := set.Active()
	if !ok {
		return domain.ConfigPreset{}, domain.ErrNoPresets
	}
	return p, nil
}

// ============================================================================
// Writes
// ============================================================================

// Upsert adds p or replaces the preset with the same id. An empty id is
// generated. The first preset of an empty set becomes active.
func (s *Store) Upsert(ctx context.Context, p domain.ConfigPreset) (domain.ConfigPreset, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" {
		p.ID = strings.ToLower(ulid.Make().String())
	}
	if err := p.Validate(); err != nil {
		return domain.ConfigPreset{}, err
	}

	set, err := s.modify(ctx, func(set *domain.PresetSet) error {
		replaced := false
		for i := range set.Presets {
			if set.Presets[i].ID == p.ID {
				set.Presets[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			set.Presets = append(set.Presets, p)
		}
		if set.ActivePresetID == "" {
			set.ActivePresetID = p.ID
		}
		return nil
	})
	if err != nil {
		return domain.ConfigPreset{}, err
	}
	s.logger.Info("preset saved", "preset_id", p.ID, "provider", p.Provider)
	s.publish(Change{Kind: ChangeUpsert, PresetID: p.ID, Set: set})
	return p, nil
}

// Delete removes preset id. When it was active the pointer moves to the
// first remaining preset. Deleting the last preset fails with
// domain.ErrNoPresets and changes nothing.
func (s *Store) Delete(ctx context.Context, id string) error {
	set, err := s.modify(ctx, func(set *domain.PresetSet) error {
		idx := -1
		for i := range set.Presets {
			if set.Presets[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return domain.ErrPresetNotFound.WithDetailsf("id %q", id)
		}
		set.Presets = append(set.Presets[:idx], set.Presets[idx+1:]...)
		return set.RepairActive()
	})
	if err != nil {
		return err
	}
	s.logger.Info("preset deleted", "preset_id", id, "active", set.ActivePresetID)
	s.publish(Change{Kind: ChangeDelete, PresetID: id, Set: set})
	return nil
}

// SetActive points the active pointer at id.
func (s *Store) SetActive(ctx context.Context, id string) error {
	set, err := s.modify(ctx, func(set *domain.PresetSet) error {
		if _, ok := set.Find(id); !ok {
			return domain.ErrPresetNotFound.WithDetailsf("id %q", id)
		}
		set.ActivePresetID = id
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("active preset changed", "preset_id", id)
	s.publish(Change{Kind: ChangeActive, PresetID: id, Set: set})
	return nil
}

// Reload re-reads the stored set and notifies subscribers. Call it after
// config_presets was written behind the Store's back, e.g. by an import.
func (s *Store) Reload(ctx context.Context, kind ChangeKind) error {
	set, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if kind == "" {
		kind = ChangeReload
	}
	s.publish(Change{Kind: kind, PresetID: set.ActivePresetID, Set: set})
	return nil
}

// modify runs fn on the decrypted set inside one store transaction and
// returns the committed set.
func (s *Store) modify(ctx context.Context, fn func(*domain.PresetSet) error) (domain.PresetSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureImported(ctx); err != nil {
		return domain.PresetSet{}, err
	}

	var out domain.PresetSet
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		var stored domain.PresetSet
		if _, err := tx.GetJSON(storage.TableConfigPresets, storage.MainKey, &stored); err != nil {
			return err
		}
		set := s.decryptSet(stored, true)
		if err := fn(&set); err != nil {
			return err
		}
		if err := set.Validate(); err != nil {
			return err
		}
		enc, err := s.encryptSet(set)
		if err != nil {
			return err
		}
		out = set
		return tx.PutJSON(storage.TableConfigPresets, storage.MainKey, enc)
	})
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			return domain.PresetSet{}, err
		}
		return domain.PresetSet{}, domain.ErrStorageError.WithCause(err)
	}
	s.metrics.IncPresetChange()
	return out.Clone(), nil
}

// ============================================================================
// api_key at rest
// ============================================================================

// Portable converts the stored config_presets value into its export form with
// plaintext api keys, so the export can be imported under another encryption
// key. Keys this store cannot decrypt are left encrypted.
func (s *Store) Portable(stored json.RawMessage) (json.RawMessage, error) {
	var set domain.PresetSet
	if err := json.Unmarshal(stored, &set); err != nil {
		return nil, err
	}
	return json.Marshal(s.decryptSet(set, true))
}

// Sealed converts an imported config_presets value into its stored form,
// encrypting plaintext api keys with this store's cipher.
func (s *Store) Sealed(portable json.RawMessage) (json.RawMessage, error) {
	var set domain.PresetSet
	if err := json.Unmarshal(portable, &set); err != nil {
		return nil, err
	}
	enc, err := s.encryptSet(set)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

func (s *Store) encryptSet(set domain.PresetSet) (domain.PresetSet, error) {
	out := set.Clone()
	if s.cipher == nil {
		return out, nil
	}
	for i := range out.Presets {
		p := &out.Presets[i]
		if p.APIKey == "" || strings.HasPrefix(p.APIKey, encPrefix) {
			continue
		}
		ct, err := s.cipher.Encrypt([]byte(p.APIKey), []byte(p.ID))
		if err != nil {
			return domain.PresetSet{}, err
		}
		p.APIKey = encPrefix + base64.RawStdEncoding.EncodeToString(ct)
	}
	return out, nil
}

// decryptSet returns set with plaintext api keys. A key that cannot be
// decrypted is blanked, or kept encrypted when keep is set so that a
// rewrite does not lose it.
func (s *Store) decryptSet(set domain.PresetSet, keep bool) domain.PresetSet {
	out := set.Clone()
	for i := range out.Presets {
		p := &out.Presets[i]
		if !strings.HasPrefix(p.APIKey, encPrefix) {
			continue
		}
		key, err := s.decryptKey(p)
		if err != nil {
			if !keep {
				s.logger.Warn("cannot decrypt preset api key", "preset_id", p.ID, "error", err)
				p.APIKey = ""
			}
			continue
		}
		p.APIKey = key
	}
	return out
}

func (s *Store) decryptKey(p *domain.ConfigPreset) (string, error) {
	if s.cipher == nil {
		return "", errors.New("api key is encrypted and no encryption key is configured")
	}
	ct, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(p.APIKey, encPrefix))
	if err != nil {
		return "", err
	}
	pt, err := s.cipher.Decrypt(ct, []byte(p.ID))
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
