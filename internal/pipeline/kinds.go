package pipeline

import (
	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/queue"
)

// Task kinds owned by the orchestrator. Entry kinds start a flow, stage
// kinds process one item inside a fan-out group, and done kinds are the
// chord callbacks that close each barrier.
const (
	KindRefreshFeed  queue.Kind = "refresh_feed"
	KindBatchRefresh queue.Kind = "batch_refresh"
	KindFetchFeed    queue.Kind = "fetch_feed"
	KindSyncStars    queue.Kind = "sync_stars"

	KindProcessMedia     queue.Kind = "process_media"
	KindIndexArticle     queue.Kind = "index_article"
	KindExtractLinks     queue.Kind = "extract_links"
	KindIndexRepo        queue.Kind = "index_repo"
	KindExtractRepoLinks queue.Kind = "extract_repo_links"

	KindFetchDone     queue.Kind = "fetch_done"
	KindMediaDone     queue.Kind = "media_done"
	KindIndexDone     queue.Kind = "index_done"
	KindLinksDone     queue.Kind = "links_done"
	KindRepoIndexDone queue.Kind = "repo_index_done"
	KindRepoLinksDone queue.Kind = "repo_links_done"
)

// Mode distinguishes the two refresh execution paths carried through a
// flow's chord context.
type Mode string

// Execution modes.
const (
	// ModeImmediate refreshes a single feed and chains its stages
	// per-feed; the flow re-arms itself when the last stage finishes.
	ModeImmediate Mode = "immediate"

	// ModeBatch refreshes all due feeds of one owner behind global
	// per-stage barriers; the scheduler re-arms the flow.
	ModeBatch Mode = "batch"
)

// RefreshDedupeKey is the dedupe key of the single pending refresh job a
// feed may have. Scheduler re-arms, self-reschedules and user-triggered
// refreshes all collapse onto it.
func RefreshDedupeKey(feedID uuid.UUID) string {
	return "refresh:feed:" + feedID.String()
}

// BatchDedupeKey is the dedupe key of an owner's pending batch refresh.
func BatchDedupeKey(ownerID uuid.UUID) string {
	return "refresh:owner:" + ownerID.String()
}

// StarSyncDedupeKey is the dedupe key of an owner's pending star sync.
func StarSyncDedupeKey(ownerID uuid.UUID) string {
	return "stars:owner:" + ownerID.String()
}

// RefreshPayload starts an immediate refresh of one feed.
type RefreshPayload struct {
	FeedID uuid.UUID `json:"feed_id"`
}

// BatchRefreshPayload starts a batch refresh over an owner's due feeds.
type BatchRefreshPayload struct {
	OwnerID uuid.UUID   `json:"owner_id"`
	FeedIDs []uuid.UUID `json:"feed_ids"`
}

// FetchFeedPayload is one fetch unit inside a batch refresh.
type FetchFeedPayload struct {
	FeedID  uuid.UUID `json:"feed_id"`
	ChordID uuid.UUID `json:"chord_id"`
}

// StagePayload is one per-item stage task inside a fan-out group.
type StagePayload struct {
	EntityID uuid.UUID `json:"entity_id"`
	ChordID  uuid.UUID `json:"chord_id"`
}

// SyncStarsPayload starts a starred-repository sync for one owner.
type SyncStarsPayload struct {
	OwnerID uuid.UUID `json:"owner_id"`
}

// flowCtx travels on a flow's chords so callbacks know which flow they
// are closing and how to continue it.
type flowCtx struct {
	Mode    Mode      `json:"mode,omitempty"`
	FeedID  uuid.UUID `json:"feed_id,omitempty"`
	OwnerID uuid.UUID `json:"owner_id,omitempty"`
}
