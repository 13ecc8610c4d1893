// Package storemem is an in-memory store.Store implementation used by
// every unit test in this module and by callers who want to run the
// whole core without Postgres for local development: a mutex-guarded
// map whose field maps are copied in and out, so callers cannot add,
// remove or replace store-internal fields by reference. The copy is
// shallow: nested values such as slices are shared.
package storemem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aiorreal/quota-core/internal/domain"
	"github.com/aiorreal/quota-core/internal/domain/ports/store"
)

type record struct {
	fields  map[string]any
	version int64
}

func cloneFields(f map[string]any) map[string]any {
	if f == nil {
		return nil
	}
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

type collections map[string]map[string]*record

func (c collections) clone() collections {
	out := make(collections, len(c))
	for coll, docs := range c {
		cd := make(map[string]*record, len(docs))
		for id, r := range docs {
			cd[id] = &record{fields: cloneFields(r.fields), version: r.version}
		}
		out[coll] = cd
	}
	return out
}

// Store is the in-memory store.Store implementation. The zero value is
// not usable; construct with New.
type Store struct {
	mu   sync.Mutex
	data collections
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{data: make(collections)}
}

// txHandle is the store.Tx value handed to RunTransaction callbacks: a
// working copy of the whole store that is discarded on error and
// swapped in wholesale on success. The surrounding mu stays held for the
// transaction's whole duration, giving Serializable-equivalent isolation
// for this test double.
type txHandle struct {
	data collections
}

func (s *Store) Get(ctx context.Context, tx store.Tx, collection, id string) (store.Document, bool, error) {
	data, unlock := s.resolve(tx)
	defer unlock()

	docs, ok := data[collection]
	if !ok {
		return store.Document{}, false, nil
	}
	r, ok := docs[id]
	if !ok {
		return store.Document{}, false, nil
	}
	return store.Document{ID: id, Fields: cloneFields(r.fields), Version: r.version}, true, nil
}

func (s *Store) Set(ctx context.Context, tx store.Tx, collection, id string, fields map[string]any, merge bool, expectedVersion int64) error {
	data, unlock := s.resolve(tx)
	defer unlock()

	docs, ok := data[collection]
	if !ok {
		docs = make(map[string]*record)
		data[collection] = docs
	}

	existing, exists := docs[id]

	if expectedVersion != 0 {
		switch {
		case !exists:
			return domain.ErrVersionConflict
		case existing.version != expectedVersion:
			return domain.ErrVersionConflict
		}
	}

	newFields := cloneFields(fields)
	if merge && exists {
		merged := cloneFields(existing.fields)
		for k, v := range newFields {
			merged[k] = v
		}
		newFields = merged
	}

	nextVersion := int64(1)
	if exists {
		nextVersion = existing.version + 1
	}
	docs[id] = &record{fields: newFields, version: nextVersion}
	return nil
}

func (s *Store) Query(ctx context.Context, tx store.Tx, collection string, filter store.Filter) ([]store.Document, error) {
	data, unlock := s.resolve(tx)
	defer unlock()

	docs := data[collection]
	out := make([]store.Document, 0, len(docs))
	for id, r := range docs {
		if matches(r.fields, filter.Equals) {
			out = append(out, store.Document{ID: id, Fields: cloneFields(r.fields), Version: r.version})
		}
	}

	if filter.OrderBy != "" {
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i].Fields[filter.OrderBy], out[j].Fields[filter.OrderBy]
			if filter.Desc {
				return lessValue(b, a)
			}
			return lessValue(a, b)
		})
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(fields, equals map[string]any) bool {
	for k, want := range equals {
		if fields[k] != want {
			return false
		}
	}
	return true
}

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case int:
		bv, _ := b.(int)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return false
		}
		return av.Before(bv)
	case *time.Time:
		bv, _ := b.(*time.Time)
		if av == nil || bv == nil {
			return av == nil && bv != nil
		}
		return av.Before(*bv)
	default:
		return false
	}
}

// resolve returns the collections map to operate against, plus an unlock
// function. When tx is a *txHandle (obtained from RunTransaction) the
// caller is already inside the transaction's critical section and must
// not lock again; when tx is nil it locks the store for the call's
// duration.
func (s *Store) resolve(tx store.Tx) (collections, func()) {
	if h, ok := tx.(*txHandle); ok {
		return h.data, func() {}
	}
	s.mu.Lock()
	return s.data, s.mu.Unlock
}

type memBatch struct {
	s     *Store
	items []batchItem
}

type batchItem struct {
	collection, id string
	fields         map[string]any
	merge          bool
}

func (s *Store) Batch(ctx context.Context) store.Batch {
	return &memBatch{s: s}
}

func (b *memBatch) Set(collection, id string, fields map[string]any, merge bool) {
	b.items = append(b.items, batchItem{collection: collection, id: id, fields: fields, merge: merge})
}

// Commit applies every queued write independently (no expectedVersion
// check): batch operations are not atomic as a group, but each document
// update within it is atomic.
func (b *memBatch) Commit(ctx context.Context) error {
	for _, it := range b.items {
		if err := b.s.Set(ctx, nil, it.collection, it.id, it.fields, it.merge, 0); err != nil {
			return err
		}
	}
	return nil
}

// RunTransaction holds the store's mutex for the whole callback, working
// against a cloned snapshot that is discarded on error and swapped in on
// success — giving the caller all-or-nothing semantics over an arbitrary
// set of Get/Set/Query calls without needing real MVCC.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	tx := &txHandle{data: working}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.data = working
	return nil
}
