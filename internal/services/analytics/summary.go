// Package analytics computes technical indicators and portfolio risk from end-of-day prices.
package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Indicator parameters
const (
	RSIPeriod        = 14
	ShortSMAPeriod   = 20
	LongSMAPeriod    = 50
	BollingerPeriod  = 20
	BollingerWidth   = 2.0
	VolatilityPeriod = 20
	BetaPeriod       = 60

	// MinBars is the shortest history that yields every indicator
	MinBars = LongSMAPeriod
)

// ErrInsufficientData is returned when the price history is too short to summarise
var ErrInsufficientData = errors.New("insufficient price history")

// Signal labels
const (
	SignalOverbought  = "Overbought"
	SignalOversold    = "Oversold"
	SignalNeutral     = "Neutral"
	SignalBullish     = "Bullish"
	SignalBearish     = "Bearish"
	SignalNearUpper   = "Near Upper"
	SignalNearLower   = "Near Lower"
	SignalWithinBands = "Within Bands"

	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
)

// TechnicalSummary holds indicators and signals for one symbol
type TechnicalSummary struct {
	Symbol          string    `json:"symbol"`
	AsOf            time.Time `json:"as_of"`
	CurrentPrice    float64   `json:"current_price"`
	PriceChange1D   float64   `json:"price_change_1d"`
	PriceChange1W   float64   `json:"price_change_1w"`
	PriceChange1M   float64   `json:"price_change_1m"`
	RSI             float64   `json:"rsi"`
	RSISignal       string    `json:"rsi_signal"`
	SMA20           float64   `json:"sma_20"`
	SMA50           float64   `json:"sma_50"`
	TrendSignal     string    `json:"trend_signal"`
	BollingerUpper  float64   `json:"bollinger_upper"`
	BollingerLower  float64   `json:"bollinger_lower"`
	BollingerSignal string    `json:"bollinger_signal"`
	Volatility      float64   `json:"volatility"`
	Beta            float64   `json:"beta"`
	RiskLevel       string    `json:"risk_level"`
}

// Summarize computes the technical summary for bars (oldest first).
// market is the benchmark history used for beta; nil gives beta 1.
func Summarize(symbol string, bars []Bar, market []Bar) (*TechnicalSummary, error) {
	if len(bars) < MinBars {
		return nil, fmt.Errorf("%w: %s has %d bars, need %d", ErrInsufficientData, symbol, len(bars), MinBars)
	}

	prices := closes(bars)
	current := prices[len(prices)-1]

	rsi, _ := RSI(prices, RSIPeriod)
	sma20, _ := SMA(prices, ShortSMAPeriod)
	sma50, _ := SMA(prices, LongSMAPeriod)
	bands, _ := Bollinger(prices, BollingerPeriod, BollingerWidth)
	volatility, _ := Volatility(prices, VolatilityPeriod)

	beta := 1.0
	if len(market) > 0 {
		beta = Beta(bars, market, BetaPeriod)
	}

	s := &TechnicalSummary{
		Symbol:          symbol,
		AsOf:            bars[len(bars)-1].Date,
		CurrentPrice:    round(current, 2),
		PriceChange1D:   round(changeBack(prices, 2), 2),
		PriceChange1W:   round(changeBack(prices, 5), 2),
		PriceChange1M:   round(changeBack(prices, 20), 2),
		RSI:             round(rsi, 2),
		RSISignal:       rsiSignal(rsi),
		SMA20:           round(sma20, 2),
		SMA50:           round(sma50, 2),
		TrendSignal:     trendSignal(sma20, sma50),
		BollingerUpper:  round(bands.Upper, 2),
		BollingerLower:  round(bands.Lower, 2),
		BollingerSignal: bollingerSignal(current, bands),
		Volatility:      volatility,
		Beta:            beta,
	}
	s.RiskLevel = riskLevel(s.Volatility, s.Beta)

	return s, nil
}

// changeBack is the percent change from the price n places from the end to the latest
func changeBack(prices []float64, n int) float64 {
	if len(prices) < n || n < 2 {
		return 0
	}
	return PctChange(prices[len(prices)-n], prices[len(prices)-1])
}

func rsiSignal(rsi float64) string {
	switch {
	case rsi > 70:
		return SignalOverbought
	case rsi < 30:
		return SignalOversold
	default:
		return SignalNeutral
	}
}

func trendSignal(short, long float64) string {
	switch {
	case short > long:
		return SignalBullish
	case short < long:
		return SignalBearish
	default:
		return SignalNeutral
	}
}

// bollingerSignal flags prices within 2% of a band
func bollingerSignal(price float64, bands Bands) string {
	switch {
	case price > bands.Upper*0.98:
		return SignalNearUpper
	case price < bands.Lower*1.02:
		return SignalNearLower
	default:
		return SignalWithinBands
	}
}

func riskLevel(volatility, beta float64) string {
	switch {
	case volatility > 30 || beta > 1.5:
		return RiskHigh
	case volatility > 20 || beta > 1.0:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Text renders the summary as a retrievable document
func (s *TechnicalSummary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "TECHNICAL ANALYSIS: %s (as of %s)\n", s.Symbol, s.AsOf.Format("2006-01-02"))
	fmt.Fprintf(&b, "%s current price is %.2f. Change: 1 day %+.2f%%, 1 week %+.2f%%, 1 month %+.2f%%.\n",
		s.Symbol, s.CurrentPrice, s.PriceChange1D, s.PriceChange1W, s.PriceChange1M)
	fmt.Fprintf(&b, "The RSI (14) for %s is %.2f, which is %s.\n", s.Symbol, s.RSI, strings.ToLower(s.RSISignal))
	fmt.Fprintf(&b, "The 20-day SMA is %.2f and the 50-day SMA is %.2f, a %s trend.\n",
		s.SMA20, s.SMA50, strings.ToLower(s.TrendSignal))
	fmt.Fprintf(&b, "Bollinger bands (20, 2): upper %.2f, lower %.2f; price is %s.\n",
		s.BollingerUpper, s.BollingerLower, strings.ToLower(s.BollingerSignal))
	fmt.Fprintf(&b, "Annualised volatility is %.2f%% and beta is %.2f, so risk is %s.\n",
		s.Volatility, s.Beta, strings.ToLower(s.RiskLevel))
	return b.String()
}
