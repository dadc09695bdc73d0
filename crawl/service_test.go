package crawl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petal-labs/crawlr/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, handler http.Handler) (*Service, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := core.NewClient(
		core.WithBaseURL(server.URL+"/v1"),
		core.WithAPIKey("fc-test"),
		core.WithRetry(0, 0),
	)
	require.NoError(t, err)
	return New(client, WithPollInterval(time.Millisecond)), server
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestScrape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fc-test", r.Header.Get("Authorization"))
		body := decodeBody(t, r)
		assert.Equal(t, "https://example.com", body["url"])
		assert.Equal(t, []any{"markdown", "links"}, body["formats"])
		assert.NotContains(t, body, "scrapeOptions")

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"markdown": "# Example",
				"links":    []string{"https://example.com/a"},
				"metadata": map[string]any{"sourceURL": "https://example.com", "statusCode": 200},
			},
		})
	})

	svc, _ := newTestService(t, mux)
	doc, err := svc.Scrape(context.Background(), "https://example.com", &ScrapeOptions{Formats: []string{"markdown", "links"}})
	require.NoError(t, err)
	assert.Equal(t, "# Example", doc.Markdown)
	assert.Equal(t, []string{"https://example.com/a"}, doc.Links)
	assert.Equal(t, "https://example.com", doc.SourceURL())
}

func TestScrapeUnsuccessful(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "blocked by robots.txt"})
	})

	svc, _ := newTestService(t, mux)
	_, err := svc.Scrape(context.Background(), "https://example.com", nil)
	assert.ErrorIs(t, err, ErrUnsuccessful)
	assert.ErrorContains(t, err, "blocked by robots.txt")
}

func TestScrapeServiceError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{"success": false, "error": "insufficient credits"})
	})

	svc, _ := newTestService(t, mux)
	_, err := svc.Scrape(context.Background(), "https://example.com", nil)

	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.KindGeneric, ce.Kind)
	assert.Equal(t, http.StatusPaymentRequired, ce.Status)
	assert.Equal(t, "insufficient credits", ce.Message)
}

func TestValidationHappensBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	ctx := context.Background()

	calls := map[string]func() error{
		"scrape empty": func() error { _, err := svc.Scrape(ctx, "", nil); return err },
		"scrape relative": func() error {
			_, err := svc.Scrape(ctx, "example.com/page", nil)
			return err
		},
		"scrape ftp":       func() error { _, err := svc.Scrape(ctx, "ftp://example.com", nil); return err },
		"crawl empty":      func() error { _, err := svc.StartCrawl(ctx, " ", nil); return err },
		"status empty":     func() error { _, err := svc.CrawlStatus(ctx, ""); return err },
		"cancel empty":     func() error { return svc.CancelCrawl(ctx, "") },
		"errors empty":     func() error { _, err := svc.CrawlErrors(ctx, ""); return err },
		"wait empty":       func() error { _, err := svc.WaitCrawl(ctx, ""); return err },
		"map empty":        func() error { _, err := svc.Map(ctx, "", nil); return err },
		"search empty":     func() error { _, err := svc.Search(ctx, "  ", nil); return err },
		"batch none":       func() error { _, err := svc.StartBatchScrape(ctx, nil, nil); return err },
		"batch bad url":    func() error { _, err := svc.StartBatchScrape(ctx, []string{"https://a.com", ""}, nil); return err },
		"batch status":     func() error { _, err := svc.BatchScrapeStatus(ctx, ""); return err },
		"extract no urls":  func() error { _, err := svc.Extract(ctx, nil, &ExtractOptions{Prompt: "x"}); return err },
		"extract no input": func() error { _, err := svc.Extract(ctx, []string{"https://a.com"}, nil); return err },
		"extract status":   func() error { _, err := svc.ExtractStatus(ctx, ""); return err },
		"many none":        func() error { _, err := svc.ScrapeMany(ctx, nil, 2, nil); return err },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			kind, ok := core.KindOf(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, core.KindValidation, kind)
		})
	}

	var watchErr error
	for _, err := range svc.WatchCrawl(ctx, "") {
		watchErr = err
	}
	assert.ErrorIs(t, watchErr, core.ErrValidation)
	assert.Zero(t, hits.Load())
}

func TestStartCrawl(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/crawl", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "https://docs.example.com", body["url"])
		assert.EqualValues(t, 25, body["limit"])
		assert.Equal(t, map[string]any{"formats": []any{"markdown"}}, body["scrapeOptions"])
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": "job-1", "url": "https://svc/v1/crawl/job-1"})
	})

	svc, _ := newTestService(t, mux)
	job, err := svc.StartCrawl(context.Background(), "https://docs.example.com", &CrawlOptions{
		Limit:         25,
		ScrapeOptions: &ScrapeOptions{Formats: []string{"markdown"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
}

func TestStartCrawlMissingID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/crawl", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	svc, _ := newTestService(t, mux)
	_, err := svc.StartCrawl(context.Background(), "https://docs.example.com", nil)
	assert.ErrorContains(t, err, "no job id")
}

func TestCrawlStatusFollowsNext(t *testing.T) {
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/crawl/job-1", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("skip") {
		case "":
			writeJSON(w, http.StatusOK, map[string]any{
				"status": "completed", "total": 3, "completed": 3,
				"next": base + "/v1/crawl/job-1?skip=2",
				"data": []map[string]any{{"markdown": "a"}, {"markdown": "b"}},
			})
		case "2":
			writeJSON(w, http.StatusOK, map[string]any{
				"status": "completed", "total": 3, "completed": 3,
				"next": "/crawl/job-1?skip=3",
				"data": []map[string]any{{"markdown": "c"}},
			})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "data": []any{}})
		}
	})

	svc, server := newTestService(t, mux)
	base = server.URL

	status, err := svc.CrawlStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Empty(t, status.Next)
	require.Len(t, status.Data, 3)
	assert.Equal(t, "c", status.Data[2].Markdown)
}

func TestCrawlStatusStopsOnRepeatedLink(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/crawl/job-1", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "completed",
			"next":   "/crawl/job-1?skip=1",
			"data":   []map[string]any{{"markdown": "same"}},
		})
	})

	svc, _ := newTestService(t, mux)
	status, err := svc.CrawlStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Len(t, status.Data, 2)
	assert.EqualValues(t, 2, hits.Load())
}

func TestCrawlStatusNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/crawl/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "job not found"})
	})

	svc, _ := newTestService(t, mux)
	_, err := svc.CrawlStatus(context.Background(), "missing")

	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.KindNotFound, ce.Kind)
	assert.Equal(t, "missing", ce.Resource)
}

func TestCancelCrawl(t *testing.T) {
	var cancelled atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /v1/crawl/job-1", func(w http.ResponseWriter, r *http.Request) {
		cancelled.Store(true)
		writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
	})

	svc, _ := newTestService(t, mux)
	require.NoError(t, svc.CancelCrawl(context.Background(), "job-1"))
	assert.True(t, cancelled.Load())
}

func TestCrawlErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/crawl/job-1/errors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"results": []map[string]any{{"url": "https://a.com/x", "error": "timeout"}},
		})
	})

	svc, _ := newTestService(t, mux)
	errs, err := svc.CrawlErrors(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "timeout", errs[0].Error)
}

func TestCrawlPollsUntilDone(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/crawl", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": "job-7"})
	})
	mux.HandleFunc("GET /v1/crawl/job-7", func(w http.ResponseWriter, r *http.Request) {
		n := polls.Add(1)
		if n < 3 {
			writeJSON(w, http.StatusOK, map[string]any{"status": "scraping", "total": 2, "completed": int(n) - 1})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "completed", "total": 2, "completed": 2,
			"data": []map[string]any{{"markdown": "one"}, {"markdown": "two"}},
		})
	})

	svc, _ := newTestService(t, mux)
	status, err := svc.Crawl(context.Background(), "https://example.com", nil)
	require.NoError(t, err)
	assert.True(t, status.Done())
	assert.Len(t, status.Data, 2)
	assert.EqualValues(t, 3, polls.Load())
}

func TestCrawlFailedJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/crawl/job-9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "failed"})
	})

	svc, _ := newTestService(t, mux)
	status, err := svc.WaitCrawl(context.Background(), "job-9")
	assert.ErrorIs(t, err, ErrJobFailed)
	require.NotNil(t, status)
	assert.Equal(t, StatusFailed, status.Status)
}

func TestCrawlWaitCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/crawl/job-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "scraping"})
	})

	svc, _ := newTestService(t, mux)
	svc.pollInterval = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.WaitCrawl(ctx, "job-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/map", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "docs", body["search"])
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "links": []string{"https://a.com/docs", "https://a.com/docs/api"}})
	})

	svc, _ := newTestService(t, mux)
	links, err := svc.Map(context.Background(), "https://a.com", &MapOptions{Search: "docs"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.com/docs", "https://a.com/docs/api"}, links)
}

func TestSearchEnvelopes(t *testing.T) {
	hits := []map[string]any{{"url": "https://a.com", "title": "A"}}
	bodies := map[string]any{
		"bare array": hits,
		"results":    map[string]any{"success": true, "results": hits},
		"result":     map[string]any{"success": true, "result": hits},
		"single":     hits[0],
	}

	for name, payload := range bodies {
		t.Run(name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /v1/search", func(w http.ResponseWriter, r *http.Request) {
				body := decodeBody(t, r)
				assert.Equal(t, "golang crawler", body["query"])
				assert.EqualValues(t, 5, body["limit"])
				writeJSON(w, http.StatusOK, payload)
			})

			svc, _ := newTestService(t, mux)
			results, err := svc.Search(context.Background(), "golang crawler", &SearchOptions{Limit: 5})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "A", results[0].Title)
		})
	}
}

func TestBatchScrape(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/batch/scrape", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("X-Idempotency-Key"))
		mu.Unlock()
		body := decodeBody(t, r)
		assert.Equal(t, []any{"https://a.com", "https://b.com"}, body["urls"])
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": "batch-1"})
	})
	mux.HandleFunc("GET /v1/batch/scrape/batch-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "completed", "total": 2, "completed": 2,
			"data": []map[string]any{{"markdown": "a"}, {"markdown": "b"}},
		})
	})

	svc, _ := newTestService(t, mux)
	urls := []string{"https://a.com", "https://b.com"}

	status, err := svc.BatchScrape(context.Background(), urls, nil)
	require.NoError(t, err)
	assert.Len(t, status.Data, 2)

	_, err = svc.StartBatchScrape(context.Background(), urls, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.NotEqual(t, keys[0], keys[1])
}

func TestBatchIdempotencyKeyStableAcrossRetries(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("X-Idempotency-Key"))
		n := len(keys)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": "batch-2"})
	}))
	defer server.Close()

	client, err := core.NewClient(core.WithBaseURL(server.URL), core.WithRetry(1, time.Millisecond))
	require.NoError(t, err)

	job, err := New(client).StartBatchScrape(context.Background(), []string{"https://a.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "batch-2", job.ID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
}

func TestExtract(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/extract", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, "list the product prices", body["prompt"])
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": "ext-1"})
	})
	mux.HandleFunc("GET /v1/extract/ext-1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"status":  "completed",
			"data":    map[string]any{"prices": []int{10, 20}},
		})
	})

	svc, _ := newTestService(t, mux)
	job, err := svc.Extract(context.Background(), []string{"https://shop.example.com"}, &ExtractOptions{Prompt: "list the product prices"})
	require.NoError(t, err)

	result, err := svc.ExtractStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.JSONEq(t, `{"prices":[10,20]}`, string(result.Data))
}

func TestScrapeMany(t *testing.T) {
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)

		body := decodeBody(t, r)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"markdown": body["url"]}})
	})

	svc, _ := newTestService(t, mux)
	var urls []string
	for i := range 6 {
		urls = append(urls, fmt.Sprintf("https://example.com/%d", i))
	}

	docs, err := svc.ScrapeMany(context.Background(), urls, 2, nil)
	require.NoError(t, err)
	require.Len(t, docs, len(urls))
	for i, doc := range docs {
		assert.Equal(t, urls[i], doc.Markdown)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestScrapeManyFirstError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["url"] == "https://bad.example.com" {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "blocked"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{}})
	})

	svc, _ := newTestService(t, mux)
	_, err := svc.ScrapeMany(context.Background(), []string{"https://ok.example.com", "https://bad.example.com"}, 1, nil)
	assert.ErrorIs(t, err, core.ErrAuth)
	assert.ErrorContains(t, err, "https://bad.example.com")
}

func TestCheckSuccess(t *testing.T) {
	assert.NoError(t, checkSuccess(true, ""))
	assert.True(t, errors.Is(checkSuccess(false, ""), ErrUnsuccessful))
}
