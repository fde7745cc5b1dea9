// Package dedupe tracks which traders are currently claimed by a validation
// so the same (username, platform) is never processed twice at once.
package dedupe

import (
	"sync"
	"sync/atomic"

	"github.com/okian/traderscore/internal/domain/model"
)

// Deduper records claimed trader keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key is claimed and claims it if not.
	// Returns true if key was already claimed, false if it was newly claimed.
	SeenAndRecord(key model.TraderKey) bool

	// Unrecord releases a claim so the key can be processed again.
	Unrecord(key model.TraderKey)

	Size() int64
}

// inMemoryDeduper implements Deduper with a mutex-guarded set.
type inMemoryDeduper struct {
	mu   sync.Mutex
	seen map[model.TraderKey]struct{}
	size atomic.Int64
}

// NewInMemoryDeduper creates an empty deduper; sizeHint presizes the set.
func NewInMemoryDeduper(sizeHint int) Deduper {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &inMemoryDeduper{seen: make(map[model.TraderKey]struct{}, sizeHint)}
}

func (d *inMemoryDeduper) SeenAndRecord(key model.TraderKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		return true
	}
	d.seen[key] = struct{}{}
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(key model.TraderKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[key]; exists {
		delete(d.seen, key)
		d.size.Add(-1)
	}
}

// Size returns the number of claimed keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
