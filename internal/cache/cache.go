// Package cache is the normalized entity store: server records grouped by
// category, keyed by ID, plus per-category loading and error flags.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/elliotchance/orderedmap/v3"

	"github.com/duisenbekovayan/motoshop/internal/metrics"
	model "github.com/duisenbekovayan/motoshop/internal/models"
)

// ErrMissingID is returned by UpsertMany when a record lacks its ID field.
var ErrMissingID = errors.New("record has no id")

type bucket = orderedmap.OrderedMap[string, model.Record]

// Store is safe for concurrent use. Records go in and come out as deep
// copies, so nothing outside the store holds a reference into it.
type Store struct {
	mu      sync.RWMutex
	m       map[model.Category]*bucket
	loading map[model.Category]bool
	errs    map[model.Category]string
}

func New() *Store {
	s := &Store{
		m:       make(map[model.Category]*bucket),
		loading: make(map[model.Category]bool),
		errs:    make(map[model.Category]string),
	}
	for _, c := range model.AllCategories() {
		s.m[c] = orderedmap.NewOrderedMap[string, model.Record]()
		s.loading[c] = false
	}
	return s
}

// bucketLocked returns the category map, creating it on first write.
func (s *Store) bucketLocked(c model.Category) *bucket {
	b, ok := s.m[c]
	if !ok {
		b = orderedmap.NewOrderedMap[string, model.Record]()
		s.m[c] = b
	}
	return b
}

// observeLocked publishes the category size. Callers hold s.mu so gauge
// updates follow the order of the writes.
func (s *Store) observeLocked(c model.Category, n int) {
	metrics.CacheRecords.WithLabelValues(string(c)).Set(float64(n))
}

// SetRecord inserts or replaces the record at id.
func (s *Store) SetRecord(c model.Category, id string, r model.Record) {
	s.mu.Lock()
	b := s.bucketLocked(c)
	b.Set(id, r.Clone())
	s.observeLocked(c, b.Len())
	s.mu.Unlock()
}

// SetCategory replaces the whole category with byID.
func (s *Store) SetCategory(c model.Category, byID map[string]model.Record) {
	b := orderedmap.NewOrderedMap[string, model.Record]()
	for id, r := range byID {
		b.Set(id, r.Clone())
	}
	s.mu.Lock()
	s.m[c] = b
	s.observeLocked(c, b.Len())
	s.mu.Unlock()
}

// UpsertMany merges records into c keyed by idField (the category's
// default field when empty). Later records win on duplicate IDs. If any
// record has no ID nothing is written.
func (s *Store) UpsertMany(c model.Category, recs []model.Record, idField string) error {
	if idField == "" {
		idField = c.IDField()
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		id, ok := r.ID(idField)
		if !ok {
			return fmt.Errorf("%w: %s[%d] missing %q", ErrMissingID, c, i, idField)
		}
		ids[i] = id
	}

	s.mu.Lock()
	b := s.bucketLocked(c)
	for i, r := range recs {
		b.Set(ids[i], r.Clone())
	}
	s.observeLocked(c, b.Len())
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the record, or nil and false.
func (s *Store) Get(c model.Category, id string) (model.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[c]
	if !ok {
		return nil, false
	}
	r, ok := b.Get(id)
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *Store) Has(c model.Category, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[c]
	return ok && b.Has(id)
}

// GetCategory returns a copy of the category keyed by ID. Never nil.
func (s *Store) GetCategory(c model.Category) map[string]model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[c]
	if !ok {
		return map[string]model.Record{}
	}
	out := make(map[string]model.Record, b.Len())
	for id, r := range b.AllFromFront() {
		out[id] = r.Clone()
	}
	return out
}

// GetAll returns copies of every record in c.
func (s *Store) GetAll(c model.Category) []model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[c]
	if !ok {
		return []model.Record{}
	}
	out := make([]model.Record, 0, b.Len())
	for r := range b.Values() {
		out = append(out, r.Clone())
	}
	return out
}

// IDs returns the IDs in c. Callers must not depend on the order.
func (s *Store) IDs(c model.Category) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.m[c]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, b.Len())
	for id := range b.Keys() {
		out = append(out, id)
	}
	return out
}

func (s *Store) Len(c model.Category) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.m[c]; ok {
		return b.Len()
	}
	return 0
}

// Delete removes id from c. Missing ids are ignored.
func (s *Store) Delete(c model.Category, id string) {
	s.mu.Lock()
	b, ok := s.m[c]
	if !ok || !b.Delete(id) {
		s.mu.Unlock()
		return
	}
	s.observeLocked(c, b.Len())
	s.mu.Unlock()
}

func (s *Store) Clear(c model.Category) {
	s.mu.Lock()
	if _, ok := s.m[c]; ok {
		s.m[c] = orderedmap.NewOrderedMap[string, model.Record]()
		s.observeLocked(c, 0)
	}
	s.mu.Unlock()
}

// ClearAll empties every category. Flags are left alone.
func (s *Store) ClearAll() {
	s.mu.Lock()
	for c := range s.m {
		s.m[c] = orderedmap.NewOrderedMap[string, model.Record]()
		s.observeLocked(c, 0)
	}
	s.mu.Unlock()
}

func (s *Store) SetLoading(c model.Category, v bool) {
	s.mu.Lock()
	s.loading[c] = v
	s.mu.Unlock()
}

func (s *Store) Loading(c model.Category) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading[c]
}

func (s *Store) LoadingAll() map[model.Category]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Category]bool, len(s.loading))
	for c, v := range s.loading {
		out[c] = v
	}
	return out
}

// SetError records a fetch failure for c. An empty message clears it.
func (s *Store) SetError(c model.Category, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == "" {
		delete(s.errs, c)
		return
	}
	s.errs[c] = msg
}

func (s *Store) ClearError(c model.Category) {
	s.mu.Lock()
	delete(s.errs, c)
	s.mu.Unlock()
}

// Errors returns the categories that currently carry an error.
func (s *Store) Errors() map[model.Category]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Category]string, len(s.errs))
	for c, e := range s.errs {
		out[c] = e
	}
	return out
}
