package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/queue"
)

// Result is one unit's outcome inside a fan-out group. Produced carries
// forward references for the next stage (e.g. a fetch reports the article
// IDs it reconciled); per-item stages leave it empty.
type Result struct {
	EntityID uuid.UUID   `json:"entity_id"`
	OK       bool        `json:"ok"`
	Err      string      `json:"err,omitempty"`
	Produced []uuid.UUID `json:"produced,omitempty"`
}

// Chord tracks a fan-out group until every expected result has been
// reported, at which point a callback task is enqueued with the full
// result set.
type Chord struct {
	ID              uuid.UUID
	Expected        int
	CallbackKind    queue.Kind
	CallbackPayload json.RawMessage
	CreatedAt       time.Time
}

// ChordStore persists chords and their reported results.
//
// AddResult records (or replaces, keyed by Result.EntityID) one result.
// The call that brings the distinct-result count up to Expected enqueues
// the callback task and removes the chord in the same atomic step, so a
// crash or transient enqueue failure between the two is impossible: the
// result insert is rolled back with the enqueue, and the redelivered
// report completes the group on retry. Reports against a chord that no
// longer exists return store.ErrChordNotFound.
type ChordStore interface {
	Create(ctx context.Context, chord *Chord) error
	AddResult(ctx context.Context, id uuid.UUID, result Result) error
}

// CallbackEnvelope is the payload of every chord callback task: the
// context payload given at Open time plus the collected results.
type CallbackEnvelope struct {
	Ctx     json.RawMessage `json:"ctx"`
	Results []Result        `json:"results"`
}

// Successes returns the entity IDs of all successful results.
func (e CallbackEnvelope) Successes() []uuid.UUID {
	var ids []uuid.UUID
	for _, r := range e.Results {
		if r.OK {
			ids = append(ids, r.EntityID)
		}
	}
	return ids
}

// ProducedBySuccesses returns the union of Produced refs across all
// successful results.
func (e CallbackEnvelope) ProducedBySuccesses() []uuid.UUID {
	var ids []uuid.UUID
	for _, r := range e.Results {
		if r.OK {
			ids = append(ids, r.Produced...)
		}
	}
	return ids
}

// NewCallbackJob builds the callback task for a completed chord. Chord
// stores call this inside their completion step so the enqueue shares
// whatever atomicity the store provides.
func NewCallbackJob(kind queue.Kind, ctxPayload json.RawMessage, results []Result) (*queue.Job, error) {
	envelope := CallbackEnvelope{Ctx: ctxPayload, Results: results}
	job, err := queue.NewJob(queue.QueuePipeline, kind, envelope, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to build callback task: %w", err)
	}
	return job, nil
}

// Coordinator opens chords and routes results into them. The store
// enqueues the callback task atomically with the final result, so a
// group fires exactly once no matter how reports are redelivered.
type Coordinator struct {
	chords ChordStore
}

// NewCoordinator creates a Coordinator over the given store.
func NewCoordinator(chords ChordStore) *Coordinator {
	return &Coordinator{chords: chords}
}

// Open creates a chord expecting the given number of results. ctxPayload
// is marshaled and delivered back inside the callback envelope. Expected
// must be positive: a zero-member group has no reporter to complete it, so
// callers handle the empty case themselves.
func (c *Coordinator) Open(ctx context.Context, expected int, callbackKind queue.Kind, ctxPayload any) (uuid.UUID, error) {
	if expected <= 0 {
		return uuid.Nil, errors.New("chord requires at least one expected result")
	}
	raw, err := json.Marshal(ctxPayload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal chord context: %w", err)
	}
	chord := &Chord{
		ID:              uuid.New(),
		Expected:        expected,
		CallbackKind:    callbackKind,
		CallbackPayload: raw,
		CreatedAt:       time.Now().UTC(),
	}
	if err := c.chords.Create(ctx, chord); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create chord: %w", err)
	}
	return chord.ID, nil
}

// Report records one result for the group. The report that completes the
// group also enqueues the callback task with all results and removes the
// chord, in one step.
func (c *Coordinator) Report(ctx context.Context, chordID uuid.UUID, result Result) error {
	if err := c.chords.AddResult(ctx, chordID, result); err != nil {
		return fmt.Errorf("failed to record chord result: %w", err)
	}
	return nil
}
