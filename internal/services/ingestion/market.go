package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/eodhd"
	"github.com/ternarybob/finrag/internal/models"
	"github.com/ternarybob/finrag/internal/services/analytics"
)

// Source names, also stored on documents
const (
	SourceQuote      = "quote"
	SourceNews       = "news"
	SourceEarnings   = "earnings"
	SourceTechnicals = "technicals"
	SourcePage       = "page"
	SourceFile       = "file"
)

// MarketBenchmark is the EODHD symbol used as the market for beta
const MarketBenchmark = "SPY.US"

// MarketClient is the subset of the EODHD client the market sources use
type MarketClient interface {
	GetRealTimeQuote(ctx context.Context, symbol string) (*eodhd.RealTimeQuote, error)
	GetEOD(ctx context.Context, symbol string, opts ...eodhd.QueryOption) (eodhd.EODResponse, error)
	GetNews(ctx context.Context, symbols []string, opts ...eodhd.QueryOption) (eodhd.NewsResponse, error)
}

// fetchPerTicker runs fn for every ticker. Failures are logged and skipped;
// the source only fails when every ticker failed.
func fetchPerTicker(ctx context.Context, source string, tickers []common.Ticker, logger arbor.ILogger, fn func(common.Ticker) (*models.Document, error)) ([]*models.Document, error) {
	var docs []*models.Document
	var errs []error

	for _, t := range tickers {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		doc, err := fn(t)
		if err != nil {
			logger.Warn().Str("source", source).Str("ticker", t.String()).Err(err).Msg("Failed to fetch ticker")
			errs = append(errs, fmt.Errorf("%s: %w", t.String(), err))
			continue
		}
		if doc != nil {
			docs = append(docs, doc)
		}
	}

	if len(docs) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return docs, nil
}

func tickerMetadata(t common.Ticker) map[string]string {
	return map[string]string{
		"ticker":   t.String(),
		"symbol":   t.EODHDSymbol(),
		"exchange": t.Exchange,
	}
}

// displayName is "Tesla (TSLA)" when an alias exists, else "TSLA"
func displayName(t common.Ticker, aliases *common.SymbolAliases) string {
	if aliases == nil {
		return t.Code
	}
	names := aliases.NamesFor(t)
	if len(names) == 0 {
		return t.Code
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	return fmt.Sprintf("%s (%s)", titleCase(names[0]), t.Code)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// exchangeSuffix is the EODHD exchange part of the ticker's symbol, e.g. "US" for TSLA.US
func exchangeSuffix(t common.Ticker) string {
	symbol := t.EODHDSymbol()
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		return symbol[i+1:]
	}
	return ""
}

func signed(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.2f", v)
	}
	return fmt.Sprintf("%.2f", v)
}

// QuoteSource turns real-time quotes into market data documents
type QuoteSource struct {
	client  MarketClient
	tickers []common.Ticker
	aliases *common.SymbolAliases
	now     func() time.Time
	logger  arbor.ILogger
}

// NewQuoteSource creates a quote source for tickers
func NewQuoteSource(client MarketClient, tickers []common.Ticker, aliases *common.SymbolAliases, logger arbor.ILogger) *QuoteSource {
	return &QuoteSource{client: client, tickers: tickers, aliases: aliases, now: time.Now, logger: logger}
}

// Name returns the source name
func (s *QuoteSource) Name() string { return SourceQuote }

// Fetch retrieves one quote document per ticker
func (s *QuoteSource) Fetch(ctx context.Context) ([]*models.Document, error) {
	return fetchPerTicker(ctx, SourceQuote, s.tickers, s.logger, func(t common.Ticker) (*models.Document, error) {
		quote, err := s.client.GetRealTimeQuote(ctx, t.EODHDSymbol())
		if err != nil {
			return nil, err
		}
		if !quote.Valid() {
			return nil, fmt.Errorf("quote for %s has no price", t.EODHDSymbol())
		}

		fetched := s.now().UTC()
		at := quote.Time()
		if at.IsZero() {
			at = fetched
		}

		doc := &models.Document{
			Key:       t.SourceKey(SourceQuote),
			Source:    SourceQuote,
			Title:     fmt.Sprintf("%s real-time quote", t.Code),
			Text:      formatQuote(t, displayName(t, s.aliases), quote, eodhd.MarketState(exchangeSuffix(t), fetched), at),
			Metadata:  tickerMetadata(t),
			FetchedAt: fetched,
		}
		return doc, nil
	})
}

func formatQuote(t common.Ticker, name string, q *eodhd.RealTimeQuote, state string, at time.Time) string {
	price := float64(q.Close)
	change := float64(q.Change)
	changePct := float64(q.ChangePercent)
	if change == 0 && q.PreviousClose > 0 {
		change = price - float64(q.PreviousClose)
	}
	if changePct == 0 && q.PreviousClose > 0 {
		changePct = change / float64(q.PreviousClose) * 100
	}

	var b strings.Builder
	b.WriteString("REAL-TIME MARKET DATA (from EODHD):\n")
	fmt.Fprintf(&b, "%s stock price today is %.2f as of %s.\n", name, price, at.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "- Stock: %s (%s)\n", name, t.String())
	fmt.Fprintf(&b, "- Current Price: %.2f\n", price)
	fmt.Fprintf(&b, "- Day Change: %s (%s%%)\n", signed(change), signed(changePct))
	if q.PreviousClose > 0 {
		fmt.Fprintf(&b, "- Previous Close: %.2f\n", float64(q.PreviousClose))
	}
	if q.Open > 0 {
		fmt.Fprintf(&b, "- Day Range: %.2f - %.2f (open %.2f)\n", float64(q.Low), float64(q.High), float64(q.Open))
	}
	if q.Volume > 0 {
		fmt.Fprintf(&b, "- Volume: %.0f\n", float64(q.Volume))
	}
	fmt.Fprintf(&b, "- Exchange: %s\n", t.Exchange)
	fmt.Fprintf(&b, "- Market State: %s\n", state)
	fmt.Fprintf(&b, "- Timestamp: %s\n", at.Format(time.RFC3339))
	return b.String()
}

// NewsSource collects recent headlines per ticker
type NewsSource struct {
	client  MarketClient
	tickers []common.Ticker
	aliases *common.SymbolAliases
	limit   int
	logger  arbor.ILogger
}

// NewNewsSource creates a news source returning up to limit articles per ticker
func NewNewsSource(client MarketClient, tickers []common.Ticker, aliases *common.SymbolAliases, limit int, logger arbor.ILogger) *NewsSource {
	if limit <= 0 {
		limit = 10
	}
	return &NewsSource{client: client, tickers: tickers, aliases: aliases, limit: limit, logger: logger}
}

// Name returns the source name
func (s *NewsSource) Name() string { return SourceNews }

// Fetch retrieves one news digest document per ticker; tickers without news yield nothing
func (s *NewsSource) Fetch(ctx context.Context) ([]*models.Document, error) {
	return fetchPerTicker(ctx, SourceNews, s.tickers, s.logger, func(t common.Ticker) (*models.Document, error) {
		items, err := s.client.GetNews(ctx, []string{t.EODHDSymbol()}, eodhd.WithLimit(s.limit))
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, nil
		}

		name := displayName(t, s.aliases)
		var b strings.Builder
		fmt.Fprintf(&b, "LATEST NEWS: %s\n", name)
		for _, item := range items {
			date := item.DateStr
			if !item.Date.IsZero() {
				date = item.Date.Format("2006-01-02")
			}
			fmt.Fprintf(&b, "- %s: %s", date, strings.TrimSpace(item.Title))
			if item.Sentiment != nil {
				fmt.Fprintf(&b, " (sentiment %s)", sentimentLabel(item.Sentiment.Polarity))
			}
			b.WriteString("\n")
			if summary := truncateRunes(normalizeText(item.Content), 300); summary != "" {
				fmt.Fprintf(&b, "  %s\n", summary)
			}
		}

		return &models.Document{
			Key:      t.SourceKey(SourceNews),
			Source:   SourceNews,
			Title:    fmt.Sprintf("%s news", t.Code),
			Text:     b.String(),
			URL:      items[0].Link,
			Metadata: tickerMetadata(t),
		}, nil
	})
}

func sentimentLabel(polarity float64) string {
	switch {
	case polarity > 0.2:
		return "positive"
	case polarity < -0.2:
		return "negative"
	default:
		return "neutral"
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}

// TechnicalsSource computes indicator summaries and regional risk from end-of-day history
type TechnicalsSource struct {
	client   MarketClient
	tickers  []common.Ticker
	lookback time.Duration
	now      func() time.Time
	logger   arbor.ILogger
}

// NewTechnicalsSource creates a technicals source over roughly a year of history
func NewTechnicalsSource(client MarketClient, tickers []common.Ticker, logger arbor.ILogger) *TechnicalsSource {
	return &TechnicalsSource{
		client:   client,
		tickers:  tickers,
		lookback: 400 * 24 * time.Hour,
		now:      time.Now,
		logger:   logger,
	}
}

// Name returns the source name
func (s *TechnicalsSource) Name() string { return SourceTechnicals }

func (s *TechnicalsSource) bars(ctx context.Context, symbol string) ([]analytics.Bar, error) {
	to := s.now().UTC()
	eod, err := s.client.GetEOD(ctx, symbol, eodhd.WithDateRange(to.Add(-s.lookback), to))
	if err != nil {
		return nil, err
	}
	bars := make([]analytics.Bar, 0, len(eod))
	for _, d := range eod {
		price := d.AdjustedClose
		if price <= 0 {
			price = d.Close
		}
		if d.Date.IsZero() || price <= 0 {
			continue
		}
		bars = append(bars, analytics.Bar{Date: d.Date, Close: price})
	}
	return bars, nil
}

// Fetch retrieves one technical analysis document per ticker, plus risk exposure documents
func (s *TechnicalsSource) Fetch(ctx context.Context) ([]*models.Document, error) {
	market, err := s.bars(ctx, MarketBenchmark)
	if err != nil {
		s.logger.Warn().Err(err).Str("benchmark", MarketBenchmark).Msg("Benchmark history unavailable, beta defaults to 1")
		market = nil
	}

	var summaries []analytics.TechnicalSummary
	docs, err := fetchPerTicker(ctx, SourceTechnicals, s.tickers, s.logger, func(t common.Ticker) (*models.Document, error) {
		bars, err := s.bars(ctx, t.EODHDSymbol())
		if err != nil {
			return nil, err
		}
		summary, err := analytics.Summarize(t.Code, bars, market)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, *summary)

		meta := tickerMetadata(t)
		meta["rsi_signal"] = summary.RSISignal
		meta["trend_signal"] = summary.TrendSignal
		meta["risk_level"] = summary.RiskLevel

		return &models.Document{
			Key:      t.SourceKey(SourceTechnicals),
			Source:   SourceTechnicals,
			Title:    fmt.Sprintf("%s technical analysis", t.Code),
			Text:     summary.Text(),
			Metadata: meta,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	return append(docs, s.riskDocuments(summaries)...), nil
}

// riskDocuments builds a global exposure document and one per region with analysed positions
func (s *TechnicalsSource) riskDocuments(summaries []analytics.TechnicalSummary) []*models.Document {
	var docs []*models.Document

	if risk, ok := analytics.AnalyzeRisk(summaries, ""); ok {
		text := risk.Text()
		if portfolio, ok := analytics.AnalyzePortfolio(summaries); ok {
			text += portfolio.Text()
		}
		docs = append(docs, riskDocument("global", text))
	}

	for _, region := range []string{"Asia", "US", "Europe"} {
		var inRegion []analytics.TechnicalSummary
		for _, summary := range summaries {
			kept := analytics.FilterByRegion([]string{summary.Symbol}, region)
			if len(kept) == 1 && kept[0] == summary.Symbol {
				inRegion = append(inRegion, summary)
			}
		}
		if risk, ok := analytics.AnalyzeRisk(inRegion, region); ok {
			docs = append(docs, riskDocument(analytics.RegionKey(region), risk.Text()))
		}
	}

	return docs
}

func riskDocument(region, text string) *models.Document {
	return &models.Document{
		Key:      "portfolio:risk:" + region,
		Source:   SourceTechnicals,
		Title:    "Risk exposure " + region,
		Text:     text,
		Metadata: map[string]string{"region": region},
	}
}
