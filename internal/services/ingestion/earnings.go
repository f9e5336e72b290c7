package ingestion

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/models"
)

const (
	// DefaultRSSBaseURL is the Google News RSS search endpoint
	DefaultRSSBaseURL = "https://news.google.com/rss/search"

	earningsHeadlines = 5
	articleTimeout    = 5 * time.Second
)

// Phrases that mark an article as reporting an earnings surprise
var earningsSignals = []string{"beat", "beats", "miss", "missed", "surprise", "falls short"}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

// EarningsSource searches earnings headlines and flags those whose article mentions a beat or miss
type EarningsSource struct {
	baseURL    string
	httpClient *http.Client
	tickers    []common.Ticker
	aliases    *common.SymbolAliases
	logger     arbor.ILogger
}

// NewEarningsSource creates an earnings source over the RSS search endpoint at baseURL
func NewEarningsSource(baseURL string, httpClient *http.Client, tickers []common.Ticker, aliases *common.SymbolAliases, logger arbor.ILogger) *EarningsSource {
	if baseURL == "" {
		baseURL = DefaultRSSBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &EarningsSource{
		baseURL:    baseURL,
		httpClient: httpClient,
		tickers:    tickers,
		aliases:    aliases,
		logger:     logger,
	}
}

// Name returns the source name
func (s *EarningsSource) Name() string { return SourceEarnings }

// Fetch retrieves one earnings document per ticker with headlines
func (s *EarningsSource) Fetch(ctx context.Context) ([]*models.Document, error) {
	return fetchPerTicker(ctx, SourceEarnings, s.tickers, s.logger, func(t common.Ticker) (*models.Document, error) {
		items, err := s.search(ctx, t.Code+" earnings")
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			s.logger.Debug().Str("ticker", t.String()).Msg("No earnings headlines found")
			return nil, nil
		}
		if len(items) > earningsHeadlines {
			items = items[:earningsHeadlines]
		}

		var all, relevant []string
		for _, item := range items {
			title := strings.TrimSpace(item.Title)
			all = append(all, title)

			body, err := s.articleText(ctx, item.Link)
			if err != nil {
				s.logger.Trace().Str("link", item.Link).Err(err).Msg("Skipping unreadable article")
				continue
			}
			if hasEarningsSignal(body) {
				relevant = append(relevant, title)
			}
		}

		meta := tickerMetadata(t)
		meta["signals"] = fmt.Sprintf("%d", len(relevant))

		return &models.Document{
			Key:      t.SourceKey(SourceEarnings),
			Source:   SourceEarnings,
			Title:    fmt.Sprintf("%s earnings news", t.Code),
			Text:     formatEarnings(displayName(t, s.aliases), relevant, all),
			URL:      items[0].Link,
			Metadata: meta,
		}, nil
	})
}

func formatEarnings(name string, relevant, all []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "EARNINGS NEWS: %s\n", name)
	b.WriteString("Earnings surprise signals (beat or miss reported):\n")
	if len(relevant) == 0 {
		b.WriteString("- No strong signals found.\n")
	}
	for _, title := range relevant {
		fmt.Fprintf(&b, "- %s\n", title)
	}
	fmt.Fprintf(&b, "Recent %s earnings headlines:\n", name)
	for _, title := range all {
		fmt.Fprintf(&b, "- %s\n", title)
	}
	return b.String()
}

func hasEarningsSignal(text string) bool {
	for _, signal := range earningsSignals {
		if strings.Contains(text, signal) {
			return true
		}
	}
	return false
}

func (s *EarningsSource) search(ctx context.Context, query string) ([]rssItem, error) {
	reqURL := s.baseURL + "?" + url.Values{"q": {query}}.Encode()
	body, err := httpGet(ctx, s.httpClient, reqURL)
	if err != nil {
		return nil, err
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse RSS feed: %w", err)
	}
	return feed.Channel.Items, nil
}

// articleText returns the lower-cased visible text of an article page
func (s *EarningsSource) articleText(ctx context.Context, link string) (string, error) {
	if link == "" {
		return "", fmt.Errorf("empty link")
	}
	actx, cancel := context.WithTimeout(ctx, articleTimeout)
	defer cancel()

	body, err := httpGet(actx, s.httpClient, link)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	return strings.ToLower(doc.Text()), nil
}
