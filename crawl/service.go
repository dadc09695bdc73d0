// Package crawl exposes the crawling service's endpoints on top of a
// core.Client: single page scrapes, asynchronous crawls and batch scrapes,
// site maps, web search and structured extraction.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/petal-labs/crawlr/core"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the delay between status polls of Crawl and
// BatchScrape.
const DefaultPollInterval = 2 * time.Second

// headerIdempotencyKey deduplicates batch submissions on the service side.
const headerIdempotencyKey = "X-Idempotency-Key"

var (
	// ErrJobFailed is returned with the final status of a job that ended
	// in the failed state.
	ErrJobFailed = errors.New("job failed")

	// ErrUnsuccessful is returned when a 2xx response reports success=false.
	ErrUnsuccessful = errors.New("request was not successful")
)

// Service issues crawling operations through a core.Client.
type Service struct {
	client       *core.Client
	logger       zerolog.Logger
	pollInterval time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for job progress.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithPollInterval sets the delay between job status polls.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// New returns a Service backed by client.
func New(client *core.Client, opts ...Option) *Service {
	s := &Service{
		client:       client,
		logger:       zerolog.Nop(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying core client.
func (s *Service) Client() *core.Client {
	return s.client
}

type scrapeRequest struct {
	URL string `json:"url"`
	*ScrapeOptions
}

// Scrape fetches a single page.
func (s *Service) Scrape(ctx context.Context, target string, opts *ScrapeOptions) (*Document, error) {
	if err := validateURL(target); err != nil {
		return nil, err
	}
	env, err := core.DoJSON[envelope[Document]](ctx, s.client, &core.Request{
		Method: http.MethodPost,
		Path:   "/scrape",
		Body:   scrapeRequest{URL: target, ScrapeOptions: opts},
	})
	if err != nil {
		return nil, err
	}
	if err := checkSuccess(env.Success, env.Error); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

type crawlRequest struct {
	URL string `json:"url"`
	*CrawlOptions
}

type jobResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	ID      string `json:"id"`
	URL     string `json:"url,omitempty"`
}

// StartCrawl submits a crawl job and returns without waiting for it.
func (s *Service) StartCrawl(ctx context.Context, target string, opts *CrawlOptions) (*Job, error) {
	if err := validateURL(target); err != nil {
		return nil, err
	}
	return s.startJob(ctx, "/crawl", crawlRequest{URL: target, CrawlOptions: opts}, nil)
}

// CrawlStatus returns the state of a crawl job with every page of its
// results, following the service's next links.
func (s *Service) CrawlStatus(ctx context.Context, id string) (*JobStatus, error) {
	if err := requireValue("crawl id", id); err != nil {
		return nil, err
	}
	return s.jobStatus(ctx, crawlPath(id), true)
}

// CancelCrawl stops a running crawl job.
func (s *Service) CancelCrawl(ctx context.Context, id string) error {
	if err := requireValue("crawl id", id); err != nil {
		return err
	}
	_, err := s.client.Do(ctx, &core.Request{Method: http.MethodDelete, Path: crawlPath(id)})
	return err
}

// CrawlErrors returns the pages a crawl job failed to fetch.
func (s *Service) CrawlErrors(ctx context.Context, id string) ([]CrawlError, error) {
	if err := requireValue("crawl id", id); err != nil {
		return nil, err
	}
	return core.DoArray[CrawlError](ctx, s.client, &core.Request{Path: crawlPath(id) + "/errors"})
}

// Crawl submits a crawl job and polls it until it ends. A failed job is
// returned together with ErrJobFailed.
func (s *Service) Crawl(ctx context.Context, target string, opts *CrawlOptions) (*JobStatus, error) {
	job, err := s.StartCrawl(ctx, target, opts)
	if err != nil {
		return nil, err
	}
	return s.WaitCrawl(ctx, job.ID)
}

// WaitCrawl polls an existing crawl job until it ends.
func (s *Service) WaitCrawl(ctx context.Context, id string) (*JobStatus, error) {
	if err := requireValue("crawl id", id); err != nil {
		return nil, err
	}
	return s.wait(ctx, crawlPath(id))
}

type mapRequest struct {
	URL string `json:"url"`
	*MapOptions
}

type mapResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`
	Links   []string `json:"links"`
}

// Map lists the URLs of a site without scraping them.
func (s *Service) Map(ctx context.Context, target string, opts *MapOptions) ([]string, error) {
	if err := validateURL(target); err != nil {
		return nil, err
	}
	resp, err := core.DoJSON[mapResponse](ctx, s.client, &core.Request{
		Method: http.MethodPost,
		Path:   "/map",
		Body:   mapRequest{URL: target, MapOptions: opts},
	})
	if err != nil {
		return nil, err
	}
	if err := checkSuccess(resp.Success, resp.Error); err != nil {
		return nil, err
	}
	if resp.Links == nil {
		return []string{}, nil
	}
	return resp.Links, nil
}

type searchRequest struct {
	Query string `json:"query"`
	*SearchOptions
}

// Search runs a web search. The service has answered with a bare array,
// a results envelope and a result envelope over time; all are accepted.
func (s *Service) Search(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.NewValidationError("search query is required")
	}
	return core.DoArray[SearchResult](ctx, s.client, &core.Request{
		Method: http.MethodPost,
		Path:   "/search",
		Body:   searchRequest{Query: query, SearchOptions: opts},
	})
}

type batchRequest struct {
	URLs []string `json:"urls"`
	*ScrapeOptions
}

// StartBatchScrape submits many URLs as one job. Each submission carries
// a fresh idempotency key, kept across retries, so a retried submit is not
// queued twice.
func (s *Service) StartBatchScrape(ctx context.Context, urls []string, opts *ScrapeOptions) (*Job, error) {
	if err := validateURLs(urls); err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set(headerIdempotencyKey, uuid.NewString())
	return s.startJob(ctx, "/batch/scrape", batchRequest{URLs: urls, ScrapeOptions: opts}, header)
}

// BatchScrapeStatus returns the state of a batch scrape job with every
// page of its results.
func (s *Service) BatchScrapeStatus(ctx context.Context, id string) (*JobStatus, error) {
	if err := requireValue("batch id", id); err != nil {
		return nil, err
	}
	return s.jobStatus(ctx, batchPath(id), true)
}

// BatchScrape submits a batch scrape job and polls it until it ends.
func (s *Service) BatchScrape(ctx context.Context, urls []string, opts *ScrapeOptions) (*JobStatus, error) {
	job, err := s.StartBatchScrape(ctx, urls, opts)
	if err != nil {
		return nil, err
	}
	return s.wait(ctx, batchPath(job.ID))
}

type extractRequest struct {
	URLs []string `json:"urls"`
	*ExtractOptions
}

// Extract submits a structured extraction over urls.
func (s *Service) Extract(ctx context.Context, urls []string, opts *ExtractOptions) (*Job, error) {
	if err := validateURLs(urls); err != nil {
		return nil, err
	}
	if opts == nil || (opts.Prompt == "" && opts.Schema == nil) {
		return nil, core.NewValidationError("extract needs a prompt or a schema")
	}
	return s.startJob(ctx, "/extract", extractRequest{URLs: urls, ExtractOptions: opts}, nil)
}

type extractStatusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	ExtractResult
}

// ExtractStatus returns the state of an extract job.
func (s *Service) ExtractStatus(ctx context.Context, id string) (*ExtractResult, error) {
	if err := requireValue("extract id", id); err != nil {
		return nil, err
	}
	resp, err := core.DoJSON[extractStatusResponse](ctx, s.client, &core.Request{
		Path: "/extract/" + url.PathEscape(id),
	})
	if err != nil {
		return nil, err
	}
	if err := checkSuccess(resp.Success, resp.Error); err != nil {
		return nil, err
	}
	return &resp.ExtractResult, nil
}

func (s *Service) startJob(ctx context.Context, path string, body any, header http.Header) (*Job, error) {
	resp, err := core.DoJSON[jobResponse](ctx, s.client, &core.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   body,
		Header: header,
	})
	if err != nil {
		return nil, err
	}
	if err := checkSuccess(resp.Success, resp.Error); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%s: response has no job id", path)
	}
	s.logger.Debug().Str("path", path).Str("id", resp.ID).Msg("job submitted")
	return &Job{ID: resp.ID, URL: resp.URL}, nil
}

// jobStatus fetches a job's status. With follow set, the data of every
// page linked through next is appended to the first page.
func (s *Service) jobStatus(ctx context.Context, path string, follow bool) (*JobStatus, error) {
	status, err := core.DoJSON[JobStatus](ctx, s.client, &core.Request{Path: path})
	if err != nil {
		return nil, err
	}
	if !follow {
		return &status, nil
	}

	seen := make(map[string]bool)
	for next := status.Next; next != "" && !seen[next]; {
		seen[next] = true
		nextPath, err := s.pagePath(next)
		if err != nil {
			return nil, err
		}
		page, err := core.DoJSON[JobStatus](ctx, s.client, &core.Request{Path: nextPath})
		if err != nil {
			return nil, err
		}
		status.Data = append(status.Data, page.Data...)
		if len(page.Data) == 0 {
			break
		}
		next = page.Next
	}
	status.Next = ""
	return &status, nil
}

// wait polls path until the job ends, then collects every result page.
func (s *Service) wait(ctx context.Context, path string) (*JobStatus, error) {
	for {
		status, err := s.jobStatus(ctx, path, false)
		if err != nil {
			return nil, err
		}
		s.logger.Debug().
			Str("path", path).
			Str("status", status.Status).
			Int("completed", status.Completed).
			Int("total", status.Total).
			Msg("polled job")

		if status.Done() {
			if status.Next != "" {
				if status, err = s.jobStatus(ctx, path, true); err != nil {
					return nil, err
				}
			}
			if status.Status == StatusFailed {
				return status, ErrJobFailed
			}
			return status, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// pagePath maps a next link onto a path relative to the client's base URL.
func (s *Service) pagePath(next string) (string, error) {
	u, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("invalid next link %q: %w", next, err)
	}
	if !u.IsAbs() {
		return next, nil
	}
	base, err := url.Parse(s.client.Config().BaseURL)
	if err != nil {
		return "", err
	}
	path := strings.TrimPrefix(u.EscapedPath(), strings.TrimRight(base.EscapedPath(), "/"))
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path, nil
}

func crawlPath(id string) string {
	return "/crawl/" + url.PathEscape(id)
}

func batchPath(id string) string {
	return "/batch/scrape/" + url.PathEscape(id)
}

func checkSuccess(success bool, message string) error {
	if success {
		return nil
	}
	if message == "" {
		return ErrUnsuccessful
	}
	return fmt.Errorf("%w: %s", ErrUnsuccessful, message)
}

func requireValue(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return core.NewValidationError("%s is required", name)
	}
	return nil
}

// validateURL rejects anything but an absolute http(s) URL.
func validateURL(target string) error {
	if strings.TrimSpace(target) == "" {
		return core.NewValidationError("url is required")
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return core.NewValidationError("invalid url %q: must be an absolute http(s) URL", target)
	}
	return nil
}

func validateURLs(urls []string) error {
	if len(urls) == 0 {
		return core.NewValidationError("at least one url is required")
	}
	for _, u := range urls {
		if err := validateURL(u); err != nil {
			return err
		}
	}
	return nil
}
