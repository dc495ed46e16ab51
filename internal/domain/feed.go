package domain

import (
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Feed
var (
	ErrEmptyFeedID      = errors.New("feed ID cannot be empty")
	ErrEmptyFeedOwnerID = errors.New("feed owner ID cannot be empty")
	ErrInvalidFeedURL   = errors.New("feed URL must be a valid absolute URL")
)

// Feed represents one subscribed RSS/Atom source. It is the top-level unit
// of work for the refresh pipeline: a refresh run fetches the feed, upserts
// its articles and fans the enrichment stages out over them.
type Feed struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	URL     string    `json:"url"`
	Title   string    `json:"title"`

	// RefreshInterval is the minimum time between two scheduled refreshes
	// of this feed. Zero means the server default applies.
	RefreshInterval time.Duration `json:"refresh_interval"`

	// LastRefreshedAt is the start time of the most recent refresh
	// attempt, successful or not. Nil means the feed has never been
	// refreshed and is immediately due.
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`

	// LastError holds a bounded, sanitized description of the most recent
	// refresh failure. Empty when the last refresh succeeded.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFeed creates a new Feed owned by the given user.
// Returns an error if validation fails.
func NewFeed(ownerID uuid.UUID, feedURL string) (*Feed, error) {
	now := time.Now().UTC()
	feed := &Feed{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		URL:       feedURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := feed.Validate(); err != nil {
		return nil, err
	}

	return feed, nil
}

// Validate checks if the Feed has valid data.
func (f *Feed) Validate() error {
	if f.ID == uuid.Nil {
		return ErrEmptyFeedID
	}

	if f.OwnerID == uuid.Nil {
		return ErrEmptyFeedOwnerID
	}

	u, err := url.Parse(f.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return ErrInvalidFeedURL
	}

	return nil
}

// Host returns the hostname of the feed URL, used as the rate-limiter key
// so that all feeds on the same host share one request window.
func (f *Feed) Host() string {
	u, err := url.Parse(f.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// DueAt returns the next time this feed becomes eligible for a scheduled
// refresh. A feed that has never been refreshed is due immediately.
func (f *Feed) DueAt(defaultInterval time.Duration) time.Time {
	if f.LastRefreshedAt == nil {
		return time.Time{}
	}
	interval := f.RefreshInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	return f.LastRefreshedAt.Add(interval)
}
