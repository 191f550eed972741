package savegame

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/savekeep-go/internal/core/domain"
	"github.com/yndnr/savekeep-go/internal/storage"
)

// occupied maps slot index to its save_index entry.
type occupied map[int]storage.SlotIndexEntry

// readIndex loads the save_index entries of category.
func readIndex(tx *storage.Tx, cat domain.Category) (occupied, error) {
	prefix := storage.SlotIndexPrefix(string(cat))
	out := occupied{}
	var derr error
	err := tx.Scan(storage.TableSaveIndex, func(key string, value []byte) bool {
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		slot, err := strconv.Atoi(key[len(prefix):])
		if err != nil {
			derr = fmt.Errorf("save_index key %q: %w", key, err)
			return false
		}
		var e storage.SlotIndexEntry
		if err := json.Unmarshal(value, &e); err != nil {
			derr = fmt.Errorf("save_index %q: %w", key, err)
			return false
		}
		out[slot] = e
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, derr
}

// pickSlot returns the slot a new save in a pool of capacity n goes to: the
// lowest free index, or when every index is taken, the one written longest
// ago. Ties on CreatedAt go to the lowest index.
func pickSlot(used occupied, n int) (int, error) {
	if n < 1 {
		return 0, domain.ErrSlotPoolExhausted.WithDetailsf("pool capacity %d", n)
	}
	for i := 0; i < n; i++ {
		if _, ok := used[i]; !ok {
			return i, nil
		}
	}

	victim := -1
	var oldest time.Time
	for i := 0; i < n; i++ {
		at := used[i].CreatedAt
		if victim < 0 || at.Before(oldest) {
			victim, oldest = i, at
		}
	}
	if victim < 0 {
		return 0, domain.ErrSlotPoolExhausted
	}
	return victim, nil
}

// overflow returns the slots at or beyond capacity n that have to be evicted
// so the category holds at most n records once slot is written, oldest first.
// They exist only after the pool was shrunk in configuration.
func overflow(used occupied, slot, n int) []int {
	total := len(used)
	if _, ok := used[slot]; !ok {
		total++
	}
	var extra []int
	for i := range used {
		if i >= n {
			extra = append(extra, i)
		}
	}
	sort.Slice(extra, func(a, b int) bool {
		ea, eb := used[extra[a]], used[extra[b]]
		if !ea.CreatedAt.Equal(eb.CreatedAt) {
			return ea.CreatedAt.Before(eb.CreatedAt)
		}
		return extra[a] < extra[b]
	})
	cut := min(total-n, len(extra))
	if cut <= 0 {
		return nil
	}
	return extra[:cut]
}
