// Package status holds the most recent controller snapshot.
package status

import (
	"sync/atomic"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

type entry struct {
	snap *model.Snapshot
	seq  uint64
}

// Store is safe for concurrent use. Before the first Update every accessor returns its
// unknown default: 0 for numbers, false for booleans, absent for optionals.
type Store struct {
	current atomic.Pointer[entry]
}

func New() *Store {
	return &Store{}
}

// Update replaces the stored snapshot and returns its sequence number (first update is 1).
func (s *Store) Update(snap *model.Snapshot) uint64 {
	for {
		old := s.current.Load()
		next := &entry{snap: snap, seq: 1}
		if old != nil {
			next.seq = old.seq + 1
		}
		if s.current.CompareAndSwap(old, next) {
			return next.seq
		}
	}
}

func (s *Store) Current() (*model.Snapshot, bool) {
	e := s.current.Load()
	if e == nil || e.snap == nil {
		return nil, false
	}
	return e.snap, true
}

// Seq is 0 until the first snapshot arrives.
func (s *Store) Seq() uint64 {
	e := s.current.Load()
	if e == nil {
		return 0
	}
	return e.seq
}

func (s *Store) Number(name string) float64 {
	snap, _ := s.Current()
	v, _ := snap.Number(name)
	return v
}

func (s *Store) Bool(name string) bool {
	snap, _ := s.Current()
	v, _ := snap.Bool(name)
	return v
}

func (s *Store) Optional(name string) (any, bool) {
	snap, _ := s.Current()
	return snap.Value(name)
}
