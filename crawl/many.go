package crawl

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ScrapeMany scrapes urls with at most concurrency requests in flight. The
// documents are returned in input order. The first failure cancels the
// remaining scrapes and is returned.
func (s *Service) ScrapeMany(ctx context.Context, urls []string, concurrency int, opts *ScrapeOptions) ([]*Document, error) {
	if err := validateURLs(urls); err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	docs := make([]*Document, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, target := range urls {
		g.Go(func() error {
			doc, err := s.Scrape(gctx, target, opts)
			if err != nil {
				return fmt.Errorf("scrape %s: %w", target, err)
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
