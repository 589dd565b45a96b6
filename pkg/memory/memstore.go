package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/types"
)

// Compile-time interface checks.
var (
	_ Store       = (*MemStore)(nil)
	_ PolicyStore = (*MemStore)(nil)
)

type record struct {
	transcript types.Aggregate
	chat       []types.ChatMessage
}

// MemStore is a process-local [Store] and [PolicyStore]. Values are deep
// copied on the way in and out so callers can never alias stored state.
type MemStore struct {
	mu       sync.RWMutex
	records  map[string]*record
	policies map[string]SessionPolicy
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		records:  make(map[string]*record),
		policies: make(map[string]SessionPolicy),
	}
}

// LoadTranscript implements [TranscriptStore].
func (s *MemStore) LoadTranscript(_ context.Context, sessionID string) (types.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[sessionID]
	if !ok {
		return types.Aggregate{}, nil
	}
	return cloneAggregate(r.transcript), nil
}

// SaveTranscript implements [TranscriptStore].
func (s *MemStore) SaveTranscript(_ context.Context, sessionID string, agg types.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(sessionID).transcript = cloneAggregate(agg)
	return nil
}

// AppendChat implements [ChatStore].
func (s *MemStore) AppendChat(_ context.Context, sessionID string, msg types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(sessionID)
	r.chat = append(r.chat, cloneMessage(msg))
	return nil
}

// ChatHistory implements [ChatStore].
func (s *MemStore) ChatHistory(_ context.Context, sessionID string) ([]types.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []types.ChatMessage{}
	if r, ok := s.records[sessionID]; ok {
		for _, m := range r.chat {
			out = append(out, cloneMessage(m))
		}
	}
	return out, nil
}

// GetPolicy implements [PolicyStore].
func (s *MemStore) GetPolicy(_ context.Context, sessionID string) (SessionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[sessionID]
	if !ok {
		return SessionPolicy{}, ErrNotFound
	}
	p.Invited = slices.Clone(p.Invited)
	return p, nil
}

// PutPolicy implements [PolicyStore].
func (s *MemStore) PutPolicy(_ context.Context, p SessionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Invited = slices.Clone(p.Invited)
	s.policies[p.SessionID] = p
	return nil
}

// get returns the record for sessionID, creating it. Callers hold s.mu.
func (s *MemStore) get(sessionID string) *record {
	r, ok := s.records[sessionID]
	if !ok {
		r = &record{}
		s.records[sessionID] = r
	}
	return r
}

func cloneAggregate(a types.Aggregate) types.Aggregate {
	a.Segments = slices.Clone(a.Segments)
	return a
}

func cloneMessage(m types.ChatMessage) types.ChatMessage {
	if m.Answer != nil {
		ans := *m.Answer
		ans.CitedSegmentIDs = slices.Clone(ans.CitedSegmentIDs)
		m.Answer = &ans
	}
	return m
}
