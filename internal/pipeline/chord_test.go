package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/queue"
	"github.com/mjarrett/feedforge/internal/store"
)

type chordCtx struct {
	Label string `json:"label"`
}

func TestCoordinatorFiresCallbackOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	jobs := queue.NewMemoryJobStore()
	chords := pipeline.NewMemoryChordStore(jobs)
	coord := pipeline.NewCoordinator(chords)

	chordID, err := coord.Open(ctx, 3, "group_done", chordCtx{Label: "batch-1"})
	require.NoError(t, err)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	require.NoError(t, coord.Report(ctx, chordID, pipeline.Result{EntityID: ids[0], OK: true}))
	require.NoError(t, coord.Report(ctx, chordID, pipeline.Result{EntityID: ids[1], OK: false, Err: "boom"}))
	assert.Equal(t, 0, jobs.Len(), "callback must not fire before all results are in")

	require.NoError(t, coord.Report(ctx, chordID, pipeline.Result{EntityID: ids[2], OK: true}))
	require.Equal(t, 1, jobs.Len(), "final report must enqueue exactly one callback")

	claimed, err := jobs.Claim(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, queue.Kind("group_done"), claimed[0].Kind)

	var env pipeline.CallbackEnvelope
	require.NoError(t, claimed[0].UnmarshalPayload(&env))
	assert.Len(t, env.Results, 3)
	assert.Len(t, env.Successes(), 2)

	var cc chordCtx
	require.NoError(t, json.Unmarshal(env.Ctx, &cc))
	assert.Equal(t, "batch-1", cc.Label)

	assert.Equal(t, 0, chords.Len(), "completed chord must be deleted")
}

func TestCoordinatorRedeliveredReportDoesNotOvercount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	jobs := queue.NewMemoryJobStore()
	chords := pipeline.NewMemoryChordStore(jobs)
	coord := pipeline.NewCoordinator(chords)

	chordID, err := coord.Open(ctx, 2, "group_done", chordCtx{})
	require.NoError(t, err)

	entity := uuid.New()
	require.NoError(t, coord.Report(ctx, chordID, pipeline.Result{EntityID: entity, OK: false, Err: "first try"}))
	// Same entity reports again after a redelivery; the count stays at one.
	require.NoError(t, coord.Report(ctx, chordID, pipeline.Result{EntityID: entity, OK: true}))
	assert.Equal(t, 0, jobs.Len())

	require.NoError(t, coord.Report(ctx, chordID, pipeline.Result{EntityID: uuid.New(), OK: true}))
	require.Equal(t, 1, jobs.Len())

	claimed, err := jobs.Claim(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	var env pipeline.CallbackEnvelope
	require.NoError(t, claimed[0].UnmarshalPayload(&env))
	require.Len(t, env.Results, 2)
	// The replacement result won.
	assert.Len(t, env.Successes(), 2)
}

// flakyJobStore fails the first Enqueue, mimicking a transient fault at
// the moment the final report tries to hand off the callback.
type flakyJobStore struct {
	*queue.MemoryJobStore
	failed bool
}

func (s *flakyJobStore) Enqueue(ctx context.Context, job *queue.Job) error {
	if !s.failed {
		s.failed = true
		return errors.New("enqueue hiccup")
	}
	return s.MemoryJobStore.Enqueue(ctx, job)
}

func TestCoordinatorEnqueueFailureIsRetriedOnRedelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	jobs := &flakyJobStore{MemoryJobStore: queue.NewMemoryJobStore()}
	chords := pipeline.NewMemoryChordStore(jobs)
	coord := pipeline.NewCoordinator(chords)

	chordID, err := coord.Open(ctx, 2, "group_done", chordCtx{Label: "batch-2"})
	require.NoError(t, err)

	first := uuid.New()
	last := uuid.New()
	require.NoError(t, coord.Report(ctx, chordID, pipeline.Result{EntityID: first, OK: true}))

	// The completing report trips the enqueue fault and must surface the
	// error so the reporting task is redelivered.
	err = coord.Report(ctx, chordID, pipeline.Result{EntityID: last, OK: true})
	require.Error(t, err)
	assert.Equal(t, 0, jobs.Len())
	assert.Equal(t, 1, chords.Len(), "failed completion must leave the chord open")

	// The redelivered report completes the group for real.
	require.NoError(t, coord.Report(ctx, chordID, pipeline.Result{EntityID: last, OK: true}))
	require.Equal(t, 1, jobs.Len(), "callback must fire exactly once after the retry")
	assert.Equal(t, 0, chords.Len())

	claimed, err := jobs.Claim(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	var env pipeline.CallbackEnvelope
	require.NoError(t, claimed[0].UnmarshalPayload(&env))
	assert.Len(t, env.Results, 2)
}

func TestCoordinatorOpenRejectsEmptyGroup(t *testing.T) {
	t.Parallel()

	coord := pipeline.NewCoordinator(pipeline.NewMemoryChordStore(queue.NewMemoryJobStore()))
	_, err := coord.Open(context.Background(), 0, "group_done", chordCtx{})
	assert.Error(t, err)
}

func TestCoordinatorReportUnknownChord(t *testing.T) {
	t.Parallel()

	coord := pipeline.NewCoordinator(pipeline.NewMemoryChordStore(queue.NewMemoryJobStore()))
	err := coord.Report(context.Background(), uuid.New(), pipeline.Result{EntityID: uuid.New(), OK: true})
	assert.ErrorIs(t, err, store.ErrChordNotFound)
}
