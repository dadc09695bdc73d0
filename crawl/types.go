package crawl

import (
	"encoding/json"
	"time"
)

// Job states reported by the crawl, batch and extract endpoints.
const (
	StatusScraping   = "scraping"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// ScrapeOptions shapes a single page scrape.
type ScrapeOptions struct {
	Formats         []string          `json:"formats,omitempty"`
	OnlyMainContent *bool             `json:"onlyMainContent,omitempty"`
	IncludeTags     []string          `json:"includeTags,omitempty"`
	ExcludeTags     []string          `json:"excludeTags,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	WaitFor         int               `json:"waitFor,omitempty"` // milliseconds
	Timeout         int               `json:"timeout,omitempty"` // milliseconds, server side
	Mobile          bool              `json:"mobile,omitempty"`
}

// Document is one scraped page.
type Document struct {
	Markdown   string         `json:"markdown,omitempty"`
	HTML       string         `json:"html,omitempty"`
	RawHTML    string         `json:"rawHtml,omitempty"`
	Links      []string       `json:"links,omitempty"`
	Screenshot string         `json:"screenshot,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SourceURL returns the page URL recorded in the metadata, if any.
func (d *Document) SourceURL() string {
	for _, key := range []string{"sourceURL", "url"} {
		if s, ok := d.Metadata[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// CrawlOptions shapes a site crawl.
type CrawlOptions struct {
	Limit              int            `json:"limit,omitempty"`
	MaxDepth           int            `json:"maxDepth,omitempty"`
	IncludePaths       []string       `json:"includePaths,omitempty"`
	ExcludePaths       []string       `json:"excludePaths,omitempty"`
	AllowExternalLinks bool           `json:"allowExternalLinks,omitempty"`
	IgnoreSitemap      bool           `json:"ignoreSitemap,omitempty"`
	Webhook            string         `json:"webhook,omitempty"`
	ScrapeOptions      *ScrapeOptions `json:"scrapeOptions,omitempty"`
}

// Job identifies an asynchronous crawl, batch scrape or extract job.
type Job struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

// JobStatus is a snapshot of an asynchronous crawl or batch scrape.
type JobStatus struct {
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	CreditsUsed int        `json:"creditsUsed,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Next        string     `json:"next,omitempty"`
	Data        []Document `json:"data"`
}

// Done reports whether the job reached a terminal state.
func (s *JobStatus) Done() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CrawlError is a page the crawler failed to fetch.
type CrawlError struct {
	ID        string `json:"id,omitempty"`
	URL       string `json:"url"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Event names emitted on a crawl's event stream.
const (
	EventDocument = "document"
	EventProgress = "progress"
	EventError    = "error"
	EventDone     = "done"
)

// CrawlEvent is one decoded event of a crawl's event stream. Exactly one
// of Document, Progress and Error is set, matching Type; a done event
// carries the final Progress.
type CrawlEvent struct {
	Type     string
	ID       string
	Document *Document
	Progress *JobStatus
	Error    string
}

// MapOptions shapes a site map request.
type MapOptions struct {
	Search            string `json:"search,omitempty"`
	IncludeSubdomains bool   `json:"includeSubdomains,omitempty"`
	IgnoreSitemap     bool   `json:"ignoreSitemap,omitempty"`
	Limit             int    `json:"limit,omitempty"`
}

// SearchOptions shapes a web search.
type SearchOptions struct {
	Limit         int            `json:"limit,omitempty"`
	Lang          string         `json:"lang,omitempty"`
	Country       string         `json:"country,omitempty"`
	ScrapeOptions *ScrapeOptions `json:"scrapeOptions,omitempty"`
}

// SearchResult is one search hit, with scraped content when requested.
type SearchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Markdown    string `json:"markdown,omitempty"`
}

// ExtractOptions shapes a structured extraction.
type ExtractOptions struct {
	Prompt          string         `json:"prompt,omitempty"`
	Schema          map[string]any `json:"schema,omitempty"`
	EnableWebSearch bool           `json:"enableWebSearch,omitempty"`
}

// ExtractResult is the state of an extract job. Data holds the extracted
// JSON once Status is completed.
type ExtractResult struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

// envelope is the success wrapper most endpoints answer with.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    T      `json:"data"`
}
