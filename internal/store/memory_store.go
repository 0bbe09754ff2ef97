package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/claimscope/analyzer/internal/models"
)

// MemoryStore keeps the encoded state in process. It is used when no
// remote store is configured and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
	err   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) Load(ctx context.Context) (*models.LearningState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.data == nil {
		return nil, ErrNotFound
	}
	var state models.LearningState
	if err := json.Unmarshal(s.data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode learning state: %w", err)
	}
	state.EnsureMaps()
	return &state, nil
}

func (s *MemoryStore) Save(ctx context.Context, state *models.LearningState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode learning state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data = data
	s.saves++
	return nil
}

// Saves returns how many saves succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Ping reports the injected failure, if any.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
