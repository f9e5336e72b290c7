package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/models"
)

const (
	userAgent    = "finrag/1.0 (+https://github.com/ternarybob/finrag)"
	maxPageBytes = 4 << 20
)

// httpGet fetches url and returns at most maxPageBytes of the body
func httpGet(ctx context.Context, client *http.Client, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.StatusError{StatusCode: resp.StatusCode, Endpoint: reqURL}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

// PageSource scrapes configured pages such as filings and investor relations pages
type PageSource struct {
	urls       []string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewPageSource creates a page source for absolute http(s) URLs; others are dropped with a warning
func NewPageSource(urls []string, httpClient *http.Client, logger arbor.ILogger) *PageSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	var valid []string
	for _, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			logger.Warn().Str("url", raw).Msg("Ignoring invalid page URL")
			continue
		}
		valid = append(valid, u.String())
	}
	return &PageSource{urls: valid, httpClient: httpClient, logger: logger}
}

// Name returns the source name
func (s *PageSource) Name() string { return SourcePage }

// Fetch scrapes each page; failures are skipped unless every page failed
func (s *PageSource) Fetch(ctx context.Context) ([]*models.Document, error) {
	var docs []*models.Document
	var errs []error

	for _, pageURL := range s.urls {
		if err := ctx.Err(); err != nil {
			return docs, err
		}

		doc, err := s.fetchPage(ctx, pageURL)
		if err != nil {
			s.logger.Warn().Str("url", pageURL).Err(err).Msg("Failed to scrape page")
			errs = append(errs, fmt.Errorf("%s: %w", pageURL, err))
			continue
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return docs, nil
}

func (s *PageSource) fetchPage(ctx context.Context, pageURL string) (*models.Document, error) {
	body, err := httpGet(ctx, s.httpClient, pageURL)
	if err != nil {
		return nil, err
	}

	page, err := ParseHTML(string(body), pageURL)
	if err != nil {
		return nil, err
	}
	if page.Text == "" {
		return nil, fmt.Errorf("page has no readable content")
	}

	s.logger.Debug().
		Str("url", pageURL).
		Str("title", page.Title).
		Int("text_length", len(page.Text)).
		Msg("Page scraped")

	return &models.Document{
		Key:      "page:" + pageURL,
		Source:   SourcePage,
		Title:    page.Title,
		Text:     page.Title + "\n\n" + page.Text,
		URL:      pageURL,
		Metadata: map[string]string{"url": pageURL},
	}, nil
}
