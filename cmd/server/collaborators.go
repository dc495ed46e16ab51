package main

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/mjarrett/feedforge/internal/domain"
	"github.com/mjarrett/feedforge/internal/pipeline"
	"github.com/mjarrett/feedforge/internal/queue"
)

// Default collaborator implementations for the pipeline. These are the
// production adapters behind the narrow pipeline contracts: an RSS/Atom
// fetcher, media and link extraction over the fetched markup, and a
// GitHub-backed star source.

const fetchTimeout = 30 * time.Second

// rssFetcher retrieves feed documents over HTTP and parses both RSS 2.0
// and Atom payloads.
type rssFetcher struct {
	client *http.Client
}

func newRSSFetcher() *rssFetcher {
	return &rssFetcher{client: &http.Client{Timeout: fetchTimeout}}
}

type rssDocument struct {
	Channel struct {
		Items []struct {
			GUID    string `xml:"guid"`
			Link    string `xml:"link"`
			Title   string `xml:"title"`
			Desc    string `xml:"description"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
	// Atom feeds carry entries at the document root.
	Entries []struct {
		ID    string `xml:"id"`
		Title string `xml:"title"`
		Link  struct {
			Href string `xml:"href,attr"`
		} `xml:"link"`
		Content string `xml:"content"`
		Summary string `xml:"summary"`
		Updated string `xml:"updated"`
	} `xml:"entry"`
}

func (f *rssFetcher) Fetch(ctx context.Context, feed *domain.Feed) ([]pipeline.FetchedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, queue.Permanent(fmt.Errorf("failed to build feed request: %w", err))
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, queue.Retryable(fmt.Errorf("failed to fetch feed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, queue.Retryable(fmt.Errorf("feed fetch returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, queue.Permanent(fmt.Errorf("feed fetch returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, queue.Retryable(fmt.Errorf("failed to read feed body: %w", err))
	}

	var doc rssDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, queue.Permanent(fmt.Errorf("failed to parse feed document: %w", err))
	}

	var items []pipeline.FetchedItem
	for _, it := range doc.Channel.Items {
		guid := it.GUID
		if guid == "" {
			guid = it.Link
		}
		items = append(items, pipeline.FetchedItem{
			GUID:      guid,
			URL:       it.Link,
			Title:     it.Title,
			Content:   it.Desc,
			UpdatedAt: parseFeedTime(it.PubDate),
		})
	}
	for _, e := range doc.Entries {
		content := e.Content
		if content == "" {
			content = e.Summary
		}
		items = append(items, pipeline.FetchedItem{
			GUID:      e.ID,
			URL:       e.Link.Href,
			Title:     e.Title,
			Content:   content,
			UpdatedAt: parseFeedTime(e.Updated),
		})
	}
	return items, nil
}

// parseFeedTime tries the timestamp layouts seen in the wild across RSS
// and Atom feeds. Unparseable values degrade to nil rather than failing
// the whole fetch.
func parseFeedTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

var (
	mediaSrcPattern = regexp.MustCompile(`(?i)<(?:img|video|audio|source)[^>]+src="([^"]+)"`)
	hrefPattern     = regexp.MustCompile(`(?i)<a[^>]+href="([^"]+)"`)
)

// mediaProcessor extracts media references from an article's markup.
type mediaProcessor struct{}

func newMediaProcessor() mediaProcessor { return mediaProcessor{} }

func (mediaProcessor) Process(_ context.Context, article *domain.Article) pipeline.MediaResult {
	var refs []string
	for _, m := range mediaSrcPattern.FindAllStringSubmatch(article.Content, -1) {
		refs = append(refs, m[1])
	}
	return pipeline.MediaResult{DerivedRefs: refs, OK: true}
}

// linkExtractor extracts outbound references from an item's markup.
type linkExtractor struct{}

func newLinkExtractor() linkExtractor { return linkExtractor{} }

func (linkExtractor) Extract(_ context.Context, _ uuid.UUID, text string) pipeline.LinksResult {
	var refs []string
	for _, m := range hrefPattern.FindAllStringSubmatch(text, -1) {
		refs = append(refs, m[1])
	}
	return pipeline.LinksResult{LinkedRefs: refs, OK: true}
}

// noopIndexer satisfies the indexer contract when no embedding backend is
// configured. Items are marked indexed without producing chunks.
type noopIndexer struct{}

func (noopIndexer) Index(_ context.Context, _ uuid.UUID, _ string) pipeline.IndexResult {
	return pipeline.IndexResult{OK: true}
}

// githubStarSource lists the starred repositories of the configured
// GitHub account. The engine is single-account per deployment: every
// owner maps to the token's user.
type githubStarSource struct {
	client  *http.Client
	token   string
	baseURL string
	logger  *slog.Logger
}

func newGitHubStarSource(token string, log *slog.Logger) *githubStarSource {
	return &githubStarSource{
		client:  &http.Client{Timeout: fetchTimeout},
		token:   token,
		baseURL: "https://api.github.com",
		logger:  log.With("component", "star_source"),
	}
}

type starredEntry struct {
	ID          int64      `json:"id"`
	FullName    string     `json:"full_name"`
	HTMLURL     string     `json:"html_url"`
	Description string     `json:"description"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

func (s *githubStarSource) ListStarred(ctx context.Context, ownerID uuid.UUID) ([]pipeline.StarredRepo, error) {
	if s.token == "" {
		s.logger.Debug("no GitHub token configured, skipping star listing",
			"owner_id", ownerID.String())
		return nil, nil
	}

	var repos []pipeline.StarredRepo
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/user/starred?per_page=100&page=%d", s.baseURL, page)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, queue.Permanent(fmt.Errorf("failed to build star request: %w", err))
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Authorization", "Bearer "+s.token)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, queue.Retryable(fmt.Errorf("failed to list starred repositories: %w", err))
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		_ = resp.Body.Close()
		if err != nil {
			return nil, queue.Retryable(fmt.Errorf("failed to read star listing: %w", err))
		}
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return nil, queue.Retryable(fmt.Errorf("star listing returned status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return nil, queue.Permanent(fmt.Errorf("star listing returned status %d", resp.StatusCode))
		}

		var entries []starredEntry
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, queue.Permanent(fmt.Errorf("failed to decode star listing: %w", err))
		}
		for _, e := range entries {
			repos = append(repos, pipeline.StarredRepo{
				RemoteID:    e.ID,
				FullName:    e.FullName,
				URL:         e.HTMLURL,
				Description: e.Description,
				UpdatedAt:   e.UpdatedAt,
			})
		}
		if len(entries) < 100 {
			return repos, nil
		}
	}
}
