package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ihabontop/jobwatch/internal/config"
	"github.com/ihabontop/jobwatch/internal/listing"
)

// SourceHelloWork is the registry name of the HelloWork scraping adapter.
const SourceHelloWork = "hellowork"

const (
	helloWorkDefaultBaseURL = "https://www.hellowork.com"
	helloWorkSearchPath     = "/fr-fr/emploi/recherche.html"
	helloWorkTimeout        = 20 * time.Second
)

// HelloWork scrapes the HelloWork search results page with Colly. One
// Search visits the results page once per topic term and merges the
// parsed offer cards, deduplicating on URL.
type HelloWork struct {
	baseURL       string
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewHelloWork builds the scraping adapter.
func NewHelloWork(cfg config.Source, opts Options) (listing.Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = helloWorkDefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse hellowork base url: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Synchronous collection is the default; colly v2.1.0's Async option
	// ignores its argument and always enables async, so it must not be passed.
	c := colly.NewCollector()
	if opts.UserAgent != "" {
		c.UserAgent = opts.UserAgent
	}
	c.SetRequestTimeout(helloWorkTimeout)

	return &HelloWork{
		baseURL:       strings.TrimRight(baseURL, "/"),
		baseCollector: c,
		logger:        logger.With(zap.String("source", SourceHelloWork)),
	}, nil
}

// Name implements listing.Adapter.
func (h *HelloWork) Name() string { return SourceHelloWork }

// Close implements listing.Adapter.
func (h *HelloWork) Close() {}

// Search scrapes the results page for each of the topic's terms.
func (h *HelloWork) Search(ctx context.Context, topic listing.Topic, location string) ([]listing.Candidate, error) {
	var (
		candidates []listing.Candidate
		seen       = make(map[string]struct{})
		scrapeErr  error
	)

	collector := h.baseCollector.Clone()
	collector.OnHTML("li[data-id-storage-target=item]", func(e *colly.HTMLElement) {
		href := e.ChildAttr("a[data-cy=offerTitle]", "href")
		if href == "" {
			return
		}
		offerURL := e.Request.AbsoluteURL(href)
		if _, dup := seen[offerURL]; dup {
			return
		}
		seen[offerURL] = struct{}{}

		candidates = append(candidates, listing.Candidate{
			Title:    strings.TrimSpace(e.ChildText("a[data-cy=offerTitle]")),
			Company:  strings.TrimSpace(e.ChildText("span[data-cy=companyName]")),
			Location: strings.TrimSpace(e.ChildText("div[data-cy=localisationCard]")),
			Salary:   strings.TrimSpace(e.ChildText("div[data-cy=contractCard]")),
			URL:      offerURL,
		})
	})
	collector.OnError(func(_ *colly.Response, err error) {
		scrapeErr = err
	})

	for _, term := range topic.Terms() {
		if err := h.visit(ctx, collector, h.searchURL(term, location)); err != nil {
			return nil, &listing.AdapterError{Source: SourceHelloWork, Err: err}
		}
		if scrapeErr != nil {
			return nil, &listing.AdapterError{Source: SourceHelloWork, Err: scrapeErr}
		}
	}

	h.logger.Debug("search finished",
		zap.String("topic", topic.Name),
		zap.Int("offers", len(candidates)),
	)
	return candidates, nil
}

func (h *HelloWork) searchURL(term, location string) string {
	params := url.Values{}
	params.Set("k", term)
	if location != "" {
		params.Set("l", location)
	}
	params.Set("c", "Alternance")
	return h.baseURL + helloWorkSearchPath + "?" + params.Encode()
}

func (h *HelloWork) visit(ctx context.Context, collector *colly.Collector, pageURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("hellowork visit canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("hellowork visit failed: %w", err)
		}
		return nil
	}
}
