package benchmark

import (
	"bytes"
	"context"
	"testing"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/savegame"
	"github.com/yndnr/savekeep-go/internal/storage"
	"github.com/yndnr/savekeep-go/internal/storage/backup"
	"github.com/yndnr/savekeep-go/internal/telemetry/logger"
	"github.com/yndnr/savekeep-go/pkg/crypto/adaptive"
)

func newBackups(b *testing.B, encrypted bool) *backup.Manager {
	b.Helper()
	cfg := backup.DefaultConfig(b.TempDir())
	cfg.RetentionCount = 3
	cfg.RetentionDays = 0
	cfg.Logger = logger.Discard()
	if encrypted {
		c, err := adaptive.ForPurpose(bytes.Repeat([]byte{7}, 32), "backups")
		if err != nil {
			b.Fatal(err)
		}
		cfg.Cipher = c
	}
	m, err := backup.NewManager(cfg)
	if err != nil {
		b.Fatal(err)
	}
	return m
}

// BenchmarkBackupCreate dumps a store holding full manual and quick pools.
func BenchmarkBackupCreate(b *testing.B) {
	ctx := context.Background()
	for _, encrypted := range []bool{false, true} {
		name := "plain"
		if encrypted {
			name = "encrypted"
		}
		b.Run(name, func(b *testing.B) {
			store := openStore(b, storage.EngineSQLite)
			m, err := savegame.New(store, newAggregator(b, newWorld(1000)))
			if err != nil {
				b.Fatal(err)
			}
			for i := 0; i < 5; i++ {
				m.CreateSave(ctx, domain.CategoryManual)
			}
			tables, err := store.Dump(ctx)
			if err != nil {
				b.Fatal(err)
			}
			backups := newBackups(b, encrypted)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := backups.Create(tables, store.SchemaVersion(), "bench"); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkCipher measures the AEAD used for backups and preset keys.
func BenchmarkCipher(b *testing.B) {
	c, err := adaptive.New(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		b.Fatal(err)
	}
	payload := bytes.Repeat([]byte("world-state "), 4096)
	b.SetBytes(int64(len(payload)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		sealed, err := c.Encrypt(payload, nil)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := c.Decrypt(sealed, nil); err != nil {
			b.Fatal(err)
		}
	}
}
