package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/internal/domain/ranking"
	"github.com/okian/traderscore/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering is ranking.Less: overall score DESC, verification DESC, then
// username and platform ASC. "less" means ranks earlier, so an in-order
// traversal yields the ranking from best to worst.

// treap node; row holds the ordering fields of the stored record.
type node struct {
	row   model.TraderRecord
	prio  uint64
	left  *node
	right *node
}

func less(a, b *model.TraderRecord) bool {
	return ranking.Less(*a, *b)
}

// priority hashes the trader key so the tree shape does not depend on
// insertion order or scores.
func priority(key model.TraderKey) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.String()))
	return h.Sum64()
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	return y
}

func insert(n *node, row model.TraderRecord) *node {
	if n == nil {
		return &node{row: row, prio: priority(row.Key())}
	}
	if less(&row, &n.row) {
		n.left = insert(n.left, row)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, row)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	return n
}

// deleteNode removes the node holding old, located by its ordering fields.
func deleteNode(n *node, old model.TraderRecord) *node {
	if n == nil {
		return nil
	}
	switch {
	case n.row.Key() == old.Key():
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, old)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, old)
		}
	case less(&old, &n.row):
		n.left = deleteNode(n.left, old)
	default:
		n.right = deleteNode(n.right, old)
	}
	return n
}

// collect appends up to limit rows (0 = all) of the platform ("" = all) in
// rank order. It returns false once the limit is reached.
func collect(n *node, platform model.Platform, limit int, out *[]model.TraderRecord) bool {
	if n == nil {
		return true
	}
	if !collect(n.left, platform, limit, out) {
		return false
	}
	if platform == "" || n.row.Platform == platform {
		*out = append(*out, n.row)
		if limit > 0 && len(*out) >= limit {
			return false
		}
	}
	return collect(n.right, platform, limit, out)
}

// TreapStore keeps every trader in memory, ordered for ranking queries.
type TreapStore struct {
	mu     sync.RWMutex
	root   *node
	byKey  map[model.TraderKey]model.TraderRecord
	closed bool
}

var _ Store = (*TreapStore)(nil)

// NewTreapStore constructs an empty treap store.
func NewTreapStore() *TreapStore {
	return &TreapStore{byKey: make(map[model.TraderKey]model.TraderRecord)}
}

// Upsert replaces the trader's row in O(log n) expected time.
func (s *TreapStore) Upsert(_ context.Context, rec model.TraderRecord) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	key := rec.Key()
	if err := validateKey(key); err != nil {
		metrics.RecordRepositoryError("upsert")
		return err
	}
	rec = rec.Clone()
	row := rec
	row.Trades = nil

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if old, ok := s.byKey[key]; ok {
		s.root = deleteNode(s.root, old)
	}
	s.byKey[key] = rec
	s.root = insert(s.root, row)
	count := len(s.byKey)
	s.mu.Unlock()

	metrics.UpdateTrackedTraders(count)
	return nil
}

// Get returns a copy of the stored row including trades.
func (s *TreapStore) Get(_ context.Context, key model.TraderKey) (model.TraderRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.TraderRecord{}, ErrClosed
	}
	rec, ok := s.byKey[key]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.TraderRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns rows in rank order.
func (s *TreapStore) List(_ context.Context, platform model.Platform, limit int) ([]model.TraderRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if limit < 0 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	capacity := len(s.byKey)
	if limit > 0 && limit < capacity {
		capacity = limit
	}
	out := make([]model.TraderRecord, 0, capacity)
	collect(s.root, platform, limit, &out)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

// Trades returns a copy of the trader's stored trades.
func (s *TreapStore) Trades(ctx context.Context, key model.TraderKey) ([]model.TradeRecord, error) {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Trades == nil {
		return []model.TradeRecord{}, nil
	}
	return rec.Trades, nil
}

// Count returns the total number of traders.
func (s *TreapStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey), nil
}

// Close releases nothing but makes further calls fail with ErrClosed.
func (s *TreapStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
