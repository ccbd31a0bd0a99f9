// Package memory provides an in-memory Store for tests and local runs
// without a database.
package memory

import (
	"context"
	"sync"

	"github.com/PadTo/lol-match-pipeline/internal/riot"
	"github.com/PadTo/lol-match-pipeline/internal/store"
)

var _ store.Store = (*Store)(nil)

type refKey struct {
	matchID string
	puuid   string
}

type ladderKey struct {
	puuid string
	queue riot.Queue
}

// Store is a map-backed implementation of store.Store.
type Store struct {
	mu        sync.RWMutex
	ladder    map[ladderKey]riot.LadderEntry
	refs      map[refKey]struct{}
	refOrder  []refKey
	details   map[string]riot.MatchDetail
	timelines map[string]riot.MatchTimeline
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		ladder:    make(map[ladderKey]riot.LadderEntry),
		refs:      make(map[refKey]struct{}),
		details:   make(map[string]riot.MatchDetail),
		timelines: make(map[string]riot.MatchTimeline),
	}
}

// UpsertLadderEntries inserts entries, ignoring (puuid, queue) duplicates.
func (s *Store) UpsertLadderEntries(_ context.Context, entries []riot.LadderEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, e := range entries {
		key := ladderKey{puuid: e.PUUID, queue: e.QueueType}
		if _, exists := s.ladder[key]; exists {
			continue
		}
		s.ladder[key] = e
		inserted++
	}
	return inserted, nil
}

// InsertMatchRefs links match ids to a player, skipping known pairs.
func (s *Store) InsertMatchRefs(_ context.Context, puuid string, matchIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, id := range matchIDs {
		key := refKey{matchID: id, puuid: puuid}
		if _, exists := s.refs[key]; exists {
			continue
		}
		s.refs[key] = struct{}{}
		s.refOrder = append(s.refOrder, key)
		inserted++
	}
	return inserted, nil
}

// InsertMatchDetail stores a detail unless the match already has one.
func (s *Store) InsertMatchDetail(_ context.Context, detail riot.MatchDetail) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.details[detail.MatchID]; exists {
		return false, nil
	}
	s.details[detail.MatchID] = detail
	return true, nil
}

// InsertMatchTimeline stores a timeline unless the match already has one.
func (s *Store) InsertMatchTimeline(_ context.Context, timeline riot.MatchTimeline) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.timelines[timeline.MatchID]; exists {
		return false, nil
	}
	s.timelines[timeline.MatchID] = timeline
	return true, nil
}

// MatchDetailExists reports whether the match has detail rows.
func (s *Store) MatchDetailExists(_ context.Context, matchID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.details[matchID]
	return ok, nil
}

// MatchTimelineExists reports whether the match has a timeline.
func (s *Store) MatchTimelineExists(_ context.Context, matchID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.timelines[matchID]
	return ok, nil
}

// PendingPuuids returns distinct ladder puuids with no match refs.
func (s *Store) PendingPuuids(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expanded := make(map[string]struct{}, len(s.refs))
	for key := range s.refs {
		expanded[key.puuid] = struct{}{}
	}
	seen := make(map[string]struct{})
	var pending []string
	for key := range s.ladder {
		if _, done := expanded[key.puuid]; done {
			continue
		}
		if _, dup := seen[key.puuid]; dup {
			continue
		}
		seen[key.puuid] = struct{}{}
		pending = append(pending, key.puuid)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

// PendingMatchIDsWithoutDetail returns referenced match ids lacking detail,
// in insertion order.
func (s *Store) PendingMatchIDsWithoutDetail(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingMatchIDs(limit, func(id string) bool {
		_, ok := s.details[id]
		return ok
	}), nil
}

// PendingMatchIDsWithoutTimeline returns referenced match ids lacking a
// timeline, in insertion order.
func (s *Store) PendingMatchIDsWithoutTimeline(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingMatchIDs(limit, func(id string) bool {
		_, ok := s.timelines[id]
		return ok
	}), nil
}

func (s *Store) pendingMatchIDs(limit int, satisfied func(string) bool) []string {
	seen := make(map[string]struct{})
	var pending []string
	for _, key := range s.refOrder {
		if _, dup := seen[key.matchID]; dup {
			continue
		}
		seen[key.matchID] = struct{}{}
		if satisfied(key.matchID) {
			continue
		}
		pending = append(pending, key.matchID)
		if limit > 0 && len(pending) >= limit {
			break
		}
	}
	return pending
}

// Close is a no-op.
func (s *Store) Close() {}

// Counts reports table sizes for test assertions.
func (s *Store) Counts() (ladder, refs, details, timelines int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ladder), len(s.refs), len(s.details), len(s.timelines)
}

// Detail returns a stored detail for test assertions.
func (s *Store) Detail(matchID string) (riot.MatchDetail, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.details[matchID]
	return d, ok
}

// Timeline returns a stored timeline for test assertions.
func (s *Store) Timeline(matchID string) (riot.MatchTimeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.timelines[matchID]
	return t, ok
}

// LadderEntries returns all stored entries for test assertions.
func (s *Store) LadderEntries() []riot.LadderEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]riot.LadderEntry, 0, len(s.ladder))
	for _, e := range s.ladder {
		out = append(out, e)
	}
	return out
}
