package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/store"
)

// MemoryChordStore is an in-memory ChordStore used by tests and by the
// in-process configuration. Callback tasks go to the given job store.
type MemoryChordStore struct {
	mu     sync.Mutex
	chords map[uuid.UUID]*memoryChord
	jobs   queue.JobStore
}

type memoryChord struct {
	chord   Chord
	results map[uuid.UUID]Result
}

// NewMemoryChordStore creates an empty MemoryChordStore that enqueues
// callback tasks on jobs.
func NewMemoryChordStore(jobs queue.JobStore) *MemoryChordStore {
	return &MemoryChordStore{chords: make(map[uuid.UUID]*memoryChord), jobs: jobs}
}

// Create implements ChordStore.Create.
func (s *MemoryChordStore) Create(_ context.Context, chord *Chord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chords[chord.ID] = &memoryChord{
		chord:   *chord,
		results: make(map[uuid.UUID]Result),
	}
	return nil
}

// AddResult implements ChordStore.AddResult. Results are keyed by entity,
// so a redelivered reporter replaces its previous result instead of
// inflating the count. On the completing report the callback is enqueued
// and the chord removed; if the enqueue fails the results stay recorded
// and the redelivered report completes the group again.
func (s *MemoryChordStore) AddResult(ctx context.Context, id uuid.UUID, result Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mc, ok := s.chords[id]
	if !ok {
		return store.ErrChordNotFound
	}
	mc.results[result.EntityID] = result
	if len(mc.results) < mc.chord.Expected {
		return nil
	}

	results := make([]Result, 0, len(mc.results))
	for _, r := range mc.results {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return bytes.Compare(results[i].EntityID[:], results[j].EntityID[:]) < 0
	})
	job, err := NewCallbackJob(mc.chord.CallbackKind, mc.chord.CallbackPayload, results)
	if err != nil {
		return err
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue callback task: %w", err)
	}
	delete(s.chords, id)
	return nil
}

// Len reports the number of live chords. Test helper.
func (s *MemoryChordStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chords)
}
