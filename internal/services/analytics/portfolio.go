package analytics

import (
	"fmt"
	"strings"
	"time"
)

// Regional universes used to scope risk exposure questions
var regionSymbols = map[string][]string{
	"asia":   {"TSM", "2330.TW", "SSNLF", "005930.KS", "BABA", "BIDU", "9988.HK"},
	"us":     {"AAPL", "MSFT", "GOOGL", "META", "NVDA", "AMD", "INTC"},
	"europe": {"ASML", "SAP", "SHOP"},
}

var regionDefaults = map[string]string{
	"asia":   "TSM",
	"us":     "AAPL",
	"europe": "ASML",
}

// RegionKey maps free text such as "Asia tech" or "America" to a region key, or "" for global
func RegionKey(region string) string {
	r := strings.ToLower(region)
	switch {
	case strings.Contains(r, "asia"):
		return "asia"
	case strings.Contains(r, "us") || strings.Contains(r, "america"):
		return "us"
	case strings.Contains(r, "europe"):
		return "europe"
	}
	return ""
}

// FilterByRegion keeps symbols belonging to region. An empty match falls back to the
// region's bellwether; no symbols at all falls back to TSM.
func FilterByRegion(symbols []string, region string) []string {
	key := RegionKey(region)
	if key != "" {
		allowed := map[string]bool{}
		for _, s := range regionSymbols[key] {
			allowed[strings.ToUpper(s)] = true
		}
		var kept []string
		for _, s := range symbols {
			if allowed[strings.ToUpper(s)] {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			kept = []string{regionDefaults[key]}
		}
		symbols = kept
	}
	if len(symbols) == 0 {
		return []string{"TSM"}
	}
	return symbols
}

// RiskExposure summarises risk across analysed positions
type RiskExposure struct {
	Region            string             `json:"region"`
	StocksAnalyzed    int                `json:"stocks_analyzed"`
	Stocks            []TechnicalSummary `json:"stocks"`
	AverageVolatility float64            `json:"average_volatility"`
	AverageBeta       float64            `json:"average_beta"`
	OverallRiskLevel  string             `json:"overall_risk_level"`
	RiskSummary       string             `json:"risk_summary"`
	HighRiskPositions []string           `json:"high_risk_positions"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// AnalyzeRisk aggregates summaries into a risk exposure. It returns false when there is nothing to analyse.
func AnalyzeRisk(summaries []TechnicalSummary, region string) (*RiskExposure, bool) {
	if len(summaries) == 0 {
		return nil, false
	}

	var totalVol, totalBeta float64
	high := []string{}
	for _, s := range summaries {
		totalVol += s.Volatility
		totalBeta += s.Beta
		if s.RiskLevel == RiskHigh {
			high = append(high, s.Symbol)
		}
	}
	n := float64(len(summaries))
	avgVol := totalVol / n
	avgBeta := totalBeta / n

	exposure := &RiskExposure{
		Region:            region,
		StocksAnalyzed:    len(summaries),
		Stocks:            summaries,
		AverageVolatility: round(avgVol, 2),
		AverageBeta:       round(avgBeta, 2),
		HighRiskPositions: high,
		GeneratedAt:       time.Now(),
	}
	if exposure.Region == "" {
		exposure.Region = "Global"
	}

	switch {
	case float64(len(high)) > n/2:
		exposure.OverallRiskLevel = "High"
		exposure.RiskSummary = "Portfolio has significant exposure to volatile assets. Consider diversification."
	case avgVol > 25:
		exposure.OverallRiskLevel = "Medium-High"
		exposure.RiskSummary = "Above-average volatility. Monitor positions closely."
	case avgBeta > 1.2:
		exposure.OverallRiskLevel = "Medium"
		exposure.RiskSummary = "Portfolio is more sensitive to market movements than average."
	default:
		exposure.OverallRiskLevel = "Low-Medium"
		exposure.RiskSummary = "Portfolio has moderate risk exposure."
	}

	return exposure, true
}

// PortfolioAnalytics counts trend and momentum signals across positions
type PortfolioAnalytics struct {
	TotalPositions     int                `json:"total_positions"`
	BullishTrend       int                `json:"bullish_trend"`
	BearishTrend       int                `json:"bearish_trend"`
	NeutralTrend       int                `json:"neutral_trend"`
	OverboughtCount    int                `json:"overbought_count"`
	OversoldCount      int                `json:"oversold_count"`
	Analyses           []TechnicalSummary `json:"individual_analyses"`
	PortfolioSentiment string             `json:"portfolio_sentiment"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

// AnalyzePortfolio aggregates summaries. It returns false when there is nothing to analyse.
func AnalyzePortfolio(summaries []TechnicalSummary) (*PortfolioAnalytics, bool) {
	if len(summaries) == 0 {
		return nil, false
	}

	p := &PortfolioAnalytics{
		TotalPositions: len(summaries),
		Analyses:       summaries,
		GeneratedAt:    time.Now(),
	}
	for _, s := range summaries {
		switch s.TrendSignal {
		case SignalBullish:
			p.BullishTrend++
		case SignalBearish:
			p.BearishTrend++
		}
		switch s.RSISignal {
		case SignalOverbought:
			p.OverboughtCount++
		case SignalOversold:
			p.OversoldCount++
		}
	}
	p.NeutralTrend = p.TotalPositions - p.BullishTrend - p.BearishTrend

	switch {
	case p.BullishTrend > p.BearishTrend:
		p.PortfolioSentiment = SignalBullish
	case p.BearishTrend > p.BullishTrend:
		p.PortfolioSentiment = SignalBearish
	default:
		p.PortfolioSentiment = "Mixed"
	}

	return p, true
}

// Text renders the exposure as a retrievable document
func (r *RiskExposure) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "RISK EXPOSURE: %s (%d stocks analysed)\n", r.Region, r.StocksAnalyzed)
	fmt.Fprintf(&b, "Overall risk exposure in %s is %s. %s\n", r.Region, r.OverallRiskLevel, r.RiskSummary)
	fmt.Fprintf(&b, "Average volatility is %.2f%% and average beta is %.2f.\n", r.AverageVolatility, r.AverageBeta)
	if len(r.HighRiskPositions) > 0 {
		fmt.Fprintf(&b, "High risk positions: %s.\n", strings.Join(r.HighRiskPositions, ", "))
	}
	for _, s := range r.Stocks {
		fmt.Fprintf(&b, "- %s: price %.2f, volatility %.2f%%, beta %.2f, %s risk, %s trend\n",
			s.Symbol, s.CurrentPrice, s.Volatility, s.Beta, strings.ToLower(s.RiskLevel), strings.ToLower(s.TrendSignal))
	}
	return b.String()
}

// Text renders the portfolio signals as a retrievable document
func (p *PortfolioAnalytics) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PORTFOLIO SIGNALS: %d positions, overall sentiment %s\n", p.TotalPositions, p.PortfolioSentiment)
	fmt.Fprintf(&b, "Trend: %d bullish, %d bearish, %d neutral. Momentum: %d overbought, %d oversold.\n",
		p.BullishTrend, p.BearishTrend, p.NeutralTrend, p.OverboughtCount, p.OversoldCount)
	return b.String()
}
