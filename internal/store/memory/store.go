// Package memory is an in-process store.Backend used by the scenario
// harness and by tests that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

type Store struct {
	mu sync.RWMutex

	records       map[ir.Address]store.Record
	notifications []ir.Notification
}

var _ store.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		records:       make(map[ir.Address]store.Record),
		notifications: make([]ir.Notification, 0),
	}
}

// Apply validates every mutation against a staged view before touching the
// live map, so a rejected batch leaves no trace.
func (s *Store) Apply(_ context.Context, b store.Batch) (ir.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[ir.Address]store.Record, len(b.Mutations))
	lookup := func(addr ir.Address) (store.Record, bool) {
		if rec, ok := staged[addr]; ok {
			return rec, true
		}
		rec, ok := s.records[addr]
		return rec, ok
	}

	for _, m := range b.Mutations {
		cur, exists := lookup(m.Address)
		switch {
		case m.IsCreate() && exists:
			return ir.Notification{}, fmt.Errorf("apply batch: create %s %s: %w", m.Kind, m.Address, store.ErrExists)
		case m.IsCreate():
			staged[m.Address] = store.Record{
				Address:   m.Address,
				Namespace: m.Namespace,
				Kind:      m.Kind,
				Body:      cloneBytes(m.Body),
				Version:   1,
			}
		case !exists:
			return ir.Notification{}, fmt.Errorf("apply batch: update %s %s: %w", m.Kind, m.Address, store.ErrNotFound)
		case cur.Version != m.PrevVersion:
			return ir.Notification{}, fmt.Errorf("apply batch: update %s %s: have version %d, expected %d: %w",
				m.Kind, m.Address, cur.Version, m.PrevVersion, store.ErrVersionConflict)
		default:
			cur.Body = cloneBytes(m.Body)
			cur.Version++
			staged[m.Address] = cur
		}
	}

	n, err := store.SealNotification(b.Notification, int64(len(s.notifications))+1)
	if err != nil {
		return ir.Notification{}, fmt.Errorf("apply batch: %w", err)
	}

	for addr, rec := range staged {
		s.records[addr] = rec
	}
	s.notifications = append(s.notifications, n)
	return n, nil
}

func (s *Store) Load(_ context.Context, addrs []ir.Address) (map[ir.Address]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[ir.Address]store.Record, len(addrs))
	for _, a := range addrs {
		if rec, ok := s.records[a]; ok {
			rec.Body = cloneBytes(rec.Body)
			out[a] = rec
		}
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, addr ir.Address) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[addr]
	if !ok {
		return store.Record{}, fmt.Errorf("get %s: %w", addr, store.ErrNotFound)
	}
	rec.Body = cloneBytes(rec.Body)
	return rec, nil
}

func (s *Store) Records(_ context.Context, namespace string, kind ir.Kind) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []store.Record{}
	for _, rec := range s.records {
		if rec.Namespace == namespace && rec.Kind == kind {
			rec.Body = cloneBytes(rec.Body)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) Notifications(_ context.Context, q store.NotificationQuery) ([]ir.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []ir.Notification{}
	for _, n := range s.notifications {
		if !q.Matches(n) {
			continue
		}
		out = append(out, n)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) LastSeq(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.notifications)), nil
}

func (s *Store) Close() error {
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
