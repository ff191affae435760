// Package store owns the in-memory per-conversation state: the mapping from
// chat id to conversation, the per-conversation locks, and the TTL plus
// capacity eviction sweep that keeps the mapping bounded.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/sk0pp/ollabot/internal/client"
)

// Conversation is the mutable state of one chat. The embedded mutex
// serializes message processing per conversation: handlers must hold it
// while reading or mutating Model, History or Hits. lastActive is guarded
// by the store's own lock instead, so the sweep never has to acquire
// conversation locks.
type Conversation struct {
	sync.Mutex

	// Model is the generation model used for this chat's turns.
	Model string

	// History is the ordered log of user/assistant turns.
	History []client.Message

	// Hits is the rate-limit bookkeeping list of recent accepted messages.
	Hits []time.Time

	lastActive time.Time
}

// Store maps chat ids to conversations. Map mutation (insert on first
// contact, delete on eviction) is guarded by mu, independently of the
// per-conversation locks.
type Store struct {
	mu            sync.Mutex
	conversations map[int64]*Conversation

	defaultModel string
	ttl          time.Duration
	maxEntries   int
}

// New creates an empty store. Conversations idle longer than ttl, or beyond
// the maxEntries newest, are removed by Sweep.
func New(defaultModel string, ttl time.Duration, maxEntries int) *Store {
	return &Store{
		conversations: make(map[int64]*Conversation),
		defaultModel:  defaultModel,
		ttl:           ttl,
		maxEntries:    maxEntries,
	}
}

// GetOrCreate returns the conversation for id, creating it atomically on
// first contact so two concurrent first messages cannot produce divergent
// state or two locks. lastActive is refreshed on every call.
func (s *Store) GetOrCreate(id int64) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		conv = &Conversation{Model: s.defaultModel}
		s.conversations[id] = conv
	}
	conv.lastActive = time.Now()
	return conv
}

// Reset clears the conversation's history, preserving its model, its lock
// and its eviction timing. Unknown ids are ignored.
func (s *Store) Reset(id int64) {
	s.mu.Lock()
	conv, ok := s.conversations[id]
	if ok {
		conv.lastActive = time.Now()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	conv.Lock()
	conv.History = nil
	conv.Unlock()
}

// Len reports the current number of stored conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// Sweep removes expired and excess conversations and reports how many were
// removed. It runs two passes: first every entry whose lastActive is older
// than the TTL cutoff (entries exactly at the cutoff survive), then, if the
// remainder still exceeds the capacity, the oldest entries by lastActive
// with ties broken by id. Removal only deletes the map entry; a handler
// already holding a reference finishes its turn safely on its own copy.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := now.Add(-s.ttl)
	for id, conv := range s.conversations {
		if conv.lastActive.Before(cutoff) {
			delete(s.conversations, id)
			removed++
		}
	}

	excess := len(s.conversations) - s.maxEntries
	if excess <= 0 {
		return removed
	}

	ids := make([]int64, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := s.conversations[ids[i]], s.conversations[ids[j]]
		if a.lastActive.Equal(b.lastActive) {
			return ids[i] < ids[j]
		}
		return a.lastActive.Before(b.lastActive)
	})
	for _, id := range ids[:excess] {
		delete(s.conversations, id)
		removed++
	}
	return removed
}
