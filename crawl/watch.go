package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/petal-labs/crawlr/core"
)

// WatchCrawl follows a crawl job over its event stream. The sequence ends
// after the done event, when the stream closes, or on the first transport
// error; the stream is released on every exit path. Events of unknown
// types are skipped.
//
//	for ev, err := range svc.WatchCrawl(ctx, job.ID) {
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Document != nil {
//	        fmt.Println(ev.Document.SourceURL())
//	    }
//	}
func (s *Service) WatchCrawl(ctx context.Context, id string) iter.Seq2[CrawlEvent, error] {
	return func(yield func(CrawlEvent, error) bool) {
		if err := requireValue("crawl id", id); err != nil {
			yield(CrawlEvent{}, err)
			return
		}
		stream, err := s.client.Stream(ctx, &core.Request{Path: crawlPath(id) + "/stream"})
		if err != nil {
			yield(CrawlEvent{}, err)
			return
		}
		defer stream.Close()

		for ev, err := range stream.Events() {
			if err != nil {
				yield(CrawlEvent{}, err)
				return
			}
			ce, ok, err := decodeCrawlEvent(ev)
			if err != nil {
				if !yield(CrawlEvent{}, err) {
					return
				}
				continue
			}
			if !ok {
				s.logger.Debug().Str("event", ev.Name).Msg("skipping unknown crawl event")
				continue
			}
			if !yield(ce, nil) || ce.Type == EventDone {
				return
			}
		}
	}
}

// decodeCrawlEvent maps a stream event onto a CrawlEvent. It reports false
// for event types it does not know.
func decodeCrawlEvent(ev core.Event) (CrawlEvent, bool, error) {
	out := CrawlEvent{Type: ev.Name, ID: ev.ID}
	switch ev.Name {
	case EventDocument:
		var doc Document
		if err := ev.JSON(&doc); err != nil {
			return CrawlEvent{}, false, fmt.Errorf("decode %s event: %w", ev.Name, err)
		}
		out.Document = &doc
	case EventProgress, EventDone:
		var status JobStatus
		if strings.TrimSpace(ev.Data) != "" {
			if err := ev.JSON(&status); err != nil {
				return CrawlEvent{}, false, fmt.Errorf("decode %s event: %w", ev.Name, err)
			}
		}
		out.Progress = &status
	case EventError:
		out.Error = errorMessage(ev.Data)
	default:
		return CrawlEvent{}, false, nil
	}
	return out, true, nil
}

// errorMessage accepts {"error": "..."} or plain text.
func errorMessage(data string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(data)
}
