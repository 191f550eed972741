package backup

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/pkg/crypto/adaptive"
)

var magicBytes = []byte("SKBACKUP")

const (
	filePrefix    = "backup-"
	fileExtension = ".skb"
	checksumSize  = 32
	headerVersion = 1

	DefaultRetentionCount = 10
	DefaultRetentionDays  = 14
)

var (
	ErrInvalidMagic     = errors.New("backup: invalid magic bytes")
	ErrChecksumMismatch = errors.New("backup: checksum mismatch")
	ErrNotFound         = errors.New("backup: not found")
	ErrNoBackups        = errors.New("backup: no backups available")
	ErrEncrypted        = errors.New("backup: file is encrypted and no key is configured")
)

type fileHeader struct {
	Version       int    `json:"version"`
	CreatedAt     int64  `json:"created_at"`
	SchemaVersion int    `json:"schema_version"`
	Reason        string `json:"reason,omitempty"`
	Tables        int    `json:"tables"`
	Records       int    `json:"records"`
	Encrypted     bool   `json:"encrypted"`
}

// Config configures the backup manager.
type Config struct {
	Dir string

	RetentionCount int
	RetentionDays  int

	// Cipher encrypts backup bodies when set.
	Cipher adaptive.Cipher

	Logger *slog.Logger
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
		RetentionDays:  DefaultRetentionDays,
	}
}

// Manager creates, lists, loads and prunes backup files.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager creates the backup directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup: create dir: %w", err)
	}
	if cfg.RetentionCount == 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: cfg.Logger.With("component", "backup")}, nil
}

// Info describes a backup file.
type Info struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion int       `json:"schema_version"`
	Reason        string    `json:"reason"`
	Tables        int       `json:"tables"`
	Records       int       `json:"records"`
	Encrypted     bool      `json:"encrypted"`
	Size          int64     `json:"size"`
	Path          string    `json:"-"`
	Checksum      string    `json:"checksum,omitempty"`
}

// Create writes tables taken at schemaVersion to a new backup file and
// applies the retention policy.
func (m *Manager) Create(tables storage.Tables, schemaVersion int, reason string) (*Info, error) {
	now := time.Now()
	id := filePrefix + strings.ToLower(ulid.Make().String())

	records := 0
	for _, t := range tables {
		records += len(t)
	}

	body, err := json.Marshal(tables)
	if err != nil {
		return nil, fmt.Errorf("backup: marshal tables: %w", err)
	}
	body, err = compress(body)
	if err != nil {
		return nil, err
	}
	if m.cfg.Cipher != nil {
		body, err = m.cfg.Cipher.Encrypt(body, []byte(id))
		if err != nil {
			return nil, fmt.Errorf("backup: encrypt: %w", err)
		}
	}

	hdr := fileHeader{
		Version:       headerVersion,
		CreatedAt:     now.UnixMilli(),
		SchemaVersion: schemaVersion,
		Reason:        reason,
		Tables:        len(tables),
		Records:       records,
		Encrypted:     m.cfg.Cipher != nil,
	}

	tempPath := filepath.Join(m.cfg.Dir, id+".tmp")
	sum, size, err := writeFile(tempPath, hdr, body)
	if err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	finalPath := filepath.Join(m.cfg.Dir, id+fileExtension)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("backup: rename: %w", err)
	}

	info := &Info{
		ID:            id,
		CreatedAt:     time.UnixMilli(hdr.CreatedAt),
		SchemaVersion: schemaVersion,
		Reason:        reason,
		Tables:        hdr.Tables,
		Records:       records,
		Encrypted:     hdr.Encrypted,
		Size:          size,
		Path:          finalPath,
		Checksum:      hex.EncodeToString(sum),
	}
	m.logger.Info("backup created", "id", id, "reason", reason, "records", records, "size", size)

	if err := m.Prune(); err != nil {
		m.logger.Warn("backup prune failed", "error", err)
	}
	return info, nil
}

func writeFile(path string, hdr fileHeader, body []byte) ([]byte, int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, 0, fmt.Errorf("backup: create temp file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	w := io.MultiWriter(file, hash)

	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, 0, fmt.Errorf("backup: marshal header: %w", err)
	}

	var hdrLen, bodyLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdrJSON)))
	binary.BigEndian.PutUint32(bodyLen[:], uint32(len(body)))

	for _, chunk := range [][]byte{magicBytes, hdrLen[:], hdrJSON, bodyLen[:], body} {
		if _, err := w.Write(chunk); err != nil {
			return nil, 0, fmt.Errorf("backup: write: %w", err)
		}
	}

	sum := hash.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		return nil, 0, fmt.Errorf("backup: write checksum: %w", err)
	}
	if err := file.Sync(); err != nil {
		return nil, 0, fmt.Errorf("backup: sync: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		return nil, 0, err
	}
	return sum, stat.Size(), nil
}

// Load reads the backup with id.
func (m *Manager) Load(id string) (storage.Tables, *Info, error) {
	id = strings.TrimSuffix(id, fileExtension)
	if !strings.HasPrefix(id, filePrefix) || strings.ContainsAny(id, `/\`) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	path := filepath.Join(m.cfg.Dir, id+fileExtension)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.loadFile(path, true)
}

// Latest loads the newest backup that passes its checksum.
func (m *Manager) Latest() (storage.Tables, *Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, nil, err
	}
	for i := len(infos) - 1; i >= 0; i-- {
		tables, info, err := m.loadFile(infos[i].Path, true)
		if err == nil {
			return tables, info, nil
		}
		if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrInvalidMagic) {
			m.logger.Warn("skipping corrupt backup", "id", infos[i].ID, "error", err)
			continue
		}
		return nil, nil, err
	}
	return nil, nil, ErrNoBackups
}

func (m *Manager) loadFile(path string, withBody bool) (storage.Tables, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if stat.Size() < int64(len(magicBytes))+checksumSize {
		return nil, nil, ErrChecksumMismatch
	}

	dataLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, dataLen, checksumSize), expected); err != nil {
		return nil, nil, err
	}
	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, dataLen), dataLen); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, dataLen))

	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, nil, ErrInvalidMagic
	}

	hdrJSON, err := readChunk(br)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: read header: %w", err)
	}
	var hdr fileHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, nil, fmt.Errorf("backup: unmarshal header: %w", err)
	}

	id := strings.TrimSuffix(filepath.Base(path), fileExtension)
	info := &Info{
		ID:            id,
		CreatedAt:     time.UnixMilli(hdr.CreatedAt),
		SchemaVersion: hdr.SchemaVersion,
		Reason:        hdr.Reason,
		Tables:        hdr.Tables,
		Records:       hdr.Records,
		Encrypted:     hdr.Encrypted,
		Size:          stat.Size(),
		Path:          path,
		Checksum:      hex.EncodeToString(expected),
	}
	if !withBody {
		return nil, info, nil
	}

	body, err := readChunk(br)
	if err != nil {
		return nil, nil, fmt.Errorf("backup: read body: %w", err)
	}
	if hdr.Encrypted {
		if m.cfg.Cipher == nil {
			return nil, nil, ErrEncrypted
		}
		body, err = m.cfg.Cipher.Decrypt(body, []byte(id))
		if err != nil {
			return nil, nil, fmt.Errorf("backup: decrypt: %w", err)
		}
	}
	body, err = decompress(body)
	if err != nil {
		return nil, nil, err
	}

	var tables storage.Tables
	if err := json.Unmarshal(body, &tables); err != nil {
		return nil, nil, fmt.Errorf("backup: unmarshal tables: %w", err)
	}
	return tables, info, nil
}

func readChunk(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// List returns backup metadata, oldest first. Unreadable files are listed
// with only ID, Path and Size set.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExtension) {
			paths = append(paths, filepath.Join(m.cfg.Dir, name))
		}
	}
	sort.Strings(paths)

	infos := make([]*Info, 0, len(paths))
	for _, p := range paths {
		_, info, err := m.loadFile(p, false)
		if err != nil {
			stat, serr := os.Stat(p)
			if serr != nil {
				continue
			}
			info = &Info{
				ID:   strings.TrimSuffix(filepath.Base(p), fileExtension),
				Path: p,
				Size: stat.Size(),
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Prune applies the retention policy and deletes old backups.
func (m *Manager) Prune() error {
	infos, err := m.List()
	if err != nil {
		return err
	}
	if len(infos) <= 1 {
		return nil
	}

	keep := make(map[string]struct{}, len(infos))

	if m.cfg.RetentionCount > 0 {
		start := len(infos) - m.cfg.RetentionCount
		if start < 0 {
			start = 0
		}
		for _, info := range infos[start:] {
			keep[info.Path] = struct{}{}
		}
	}

	if m.cfg.RetentionDays > 0 {
		cutoff := time.Now().Add(-time.Duration(m.cfg.RetentionDays) * 24 * time.Hour)
		for _, info := range infos {
			st, err := os.Stat(info.Path)
			if err != nil {
				continue
			}
			if st.ModTime().After(cutoff) {
				keep[info.Path] = struct{}{}
			}
		}
	}

	keep[infos[len(infos)-1].Path] = struct{}{}

	for _, info := range infos {
		if _, ok := keep[info.Path]; ok {
			continue
		}
		if err := os.Remove(info.Path); err == nil {
			m.logger.Info("backup pruned", "id", info.ID)
		}
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("backup: zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("backup: zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("backup: decompress: %w", err)
	}
	return out, nil
}
