package snapshot

import (
	"context"
	"errors"
	"sync"
	"time"

	"drowsyguard/internal/model"
)

var ErrNotReady = errors.New("snapshot: not ready")

type Stats struct {
	Published uint64 `json:"published"`
	Reads     uint64 `json:"reads"`
	Skipped   uint64 `json:"skipped"`
	Waiters   int    `json:"waiters"`
}

type Store struct {
	mu      sync.Mutex
	current *model.StatusSnapshot
	changed chan struct{}
	seq     uint64
	reads   uint64
	skipped uint64
	waiters int
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{changed: make(chan struct{}), now: time.Now}
}

// The caller must not modify snap after Publish.
func (s *Store) Publish(snap *model.StatusSnapshot) uint64 {
	if snap == nil {
		return 0
	}
	published := s.now().UTC()
	s.mu.Lock()
	s.seq++
	snap.Seq = s.seq
	snap.PublishedAt = published
	s.current = snap
	wake := s.changed
	s.changed = make(chan struct{})
	seq := s.seq
	s.mu.Unlock()
	close(wake)
	return seq
}

func (s *Store) Read() (model.StatusSnapshot, error) {
	s.mu.Lock()
	cur := s.current
	s.reads++
	s.mu.Unlock()
	if cur == nil {
		return model.StatusSnapshot{}, ErrNotReady
	}
	return *cur, nil
}

// Next skips snapshots published while the caller was busy.
func (s *Store) Next(ctx context.Context, afterSeq uint64) (model.StatusSnapshot, error) {
	for {
		s.mu.Lock()
		cur := s.current
		wait := s.changed
		if cur != nil && cur.Seq > afterSeq {
			if cur.Seq > afterSeq+1 && afterSeq > 0 {
				s.skipped += cur.Seq - afterSeq - 1
			}
			s.reads++
			s.mu.Unlock()
			return *cur, nil
		}
		s.waiters++
		s.mu.Unlock()

		select {
		case <-wait:
			s.mu.Lock()
			s.waiters--
			s.mu.Unlock()
		case <-ctx.Done():
			s.mu.Lock()
			s.waiters--
			s.mu.Unlock()
			return model.StatusSnapshot{}, ctx.Err()
		}
	}
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Published: s.seq,
		Reads:     s.reads,
		Skipped:   s.skipped,
		Waiters:   s.waiters,
	}
}
