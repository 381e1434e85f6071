// Package store implements the in-memory entity stores the sync layer merges
// change events into. A store is an ordered, de-duplicated collection for one
// entity type and owner scope, mutated only through Apply and Seed.
package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Jb-rown/embrace-cancer-care-sub000/domain"
)

// Event is a change event decoded for one concrete entity type. Record is
// the zero value for deletes.
type Event[T domain.Record] struct {
	Op       domain.Operation
	RecordID string
	OwnerID  string
	Record   T
}

// DecodeEvent converts a wire change event into its typed form. The record
// payload, when present, overrides the envelope's record id and owner so a
// mis-assembled envelope cannot smuggle a record into a foreign scope.
func DecodeEvent[T domain.Record](ev domain.ChangeEvent) (Event[T], error) {
	if err := ev.Validate(); err != nil {
		return Event[T]{}, err
	}
	out := Event[T]{Op: ev.Op, RecordID: ev.RecordID, OwnerID: ev.OwnerID}
	if ev.Op == domain.OpDeleted {
		return out, nil
	}
	if err := json.Unmarshal(ev.Record, &out.Record); err != nil {
		return Event[T]{}, fmt.Errorf("decode %s record: %w", ev.EntityType, err)
	}
	if id := out.Record.RecordID(); id != "" {
		out.RecordID = id
	}
	if owner := out.Record.Owner(); owner != "" {
		out.OwnerID = owner
	}
	return out, nil
}

// MostRecentFirst is the default display order: newest temporal anchor first.
func MostRecentFirst[T domain.Record](a, b T) bool { return a.Anchor().After(b.Anchor()) }

// SoonestFirst orders by ascending anchor, used for appointment views.
func SoonestFirst[T domain.Record](a, b T) bool { return a.Anchor().Before(b.Anchor()) }

// Store is an in-memory collection for one (entity type, scope) pair. It is
// exclusively owned by the view session that created it and must only be
// touched from that session's goroutine.
type Store[T domain.Record] struct {
	scope   string // owning user id; empty means global
	less    func(a, b T) bool
	records map[string]T
}

// New creates an empty store scoped to the given owner. An empty scope
// accepts records regardless of owner (blog posts).
func New[T domain.Record](scope string, less func(a, b T) bool) *Store[T] {
	if less == nil {
		less = MostRecentFirst[T]
	}
	return &Store[T]{scope: scope, less: less, records: make(map[string]T)}
}

// Scope returns the owner id the store is bound to.
func (s *Store[T]) Scope() string { return s.scope }

// Len returns the number of records currently held.
func (s *Store[T]) Len() int { return len(s.records) }

// Get returns the record with the given id.
func (s *Store[T]) Get(id string) (T, bool) {
	r, ok := s.records[id]
	return r, ok
}

// inScope applies the cross-tenant guard: an event whose owner is known and
// differs from the store's scope must never change store contents, even if
// the feed was mis-scoped upstream.
func (s *Store[T]) inScope(owner string) bool {
	if s.scope == "" || owner == "" {
		return true
	}
	return owner == s.scope
}

// Apply merges one typed change event. Created and Updated replace the held
// record wholesale or insert it when absent; Deleted removes it or is a
// no-op. Apply is idempotent: replaying an event leaves the store unchanged.
// It returns true when store contents changed.
func (s *Store[T]) Apply(ev Event[T]) bool {
	if ev.RecordID == "" || !s.inScope(ev.OwnerID) {
		return false
	}
	switch ev.Op {
	case domain.OpCreated, domain.OpUpdated:
		s.records[ev.RecordID] = ev.Record
		return true
	case domain.OpDeleted:
		if _, ok := s.records[ev.RecordID]; !ok {
			return false
		}
		delete(s.records, ev.RecordID)
		return true
	default:
		return false
	}
}

// Seed merges a bulk-loaded snapshot, inserting each record only if its id is
// absent. A record already present was put there by a live event and is at
// least as fresh as the snapshot, so the snapshot must not overwrite it.
// Records outside the store's scope are dropped. It returns the number of
// records inserted.
func (s *Store[T]) Seed(records []T) int {
	n := 0
	for _, r := range records {
		id := r.RecordID()
		if id == "" || !s.inScope(r.Owner()) {
			continue
		}
		if _, ok := s.records[id]; ok {
			continue
		}
		s.records[id] = r
		n++
	}
	return n
}

// Snapshot returns the records sorted in the store's display order. Ties on
// the anchor fall back to record id so iteration order is deterministic.
func (s *Store[T]) Snapshot() []T {
	out := make([]T, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if s.less(out[i], out[j]) {
			return true
		}
		if s.less(out[j], out[i]) {
			return false
		}
		return out[i].RecordID() < out[j].RecordID()
	})
	return out
}
