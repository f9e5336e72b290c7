package analytics

import (
	"math"
	"time"
)

// TradingDaysPerYear annualises daily volatility
const TradingDaysPerYear = 252

// Bar is one end-of-day price point
type Bar struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// closes extracts closing prices in order
func closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// RSI computes the relative strength index over the last period price changes,
// using simple averages of gains and losses. ok is false with fewer than period+1 prices.
// A window with no losses is 100; a flat window is 50.
func RSI(prices []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}

	var gains, losses float64
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	switch {
	case avgGain == 0 && avgLoss == 0:
		return 50, true
	case avgLoss == 0:
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// SMA calculates the simple moving average of the last n values
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	return mean(values[len(values)-n:]), true
}

// Bands are Bollinger bands around a moving average
type Bands struct {
	Middle float64 `json:"middle"`
	Upper  float64 `json:"upper"`
	Lower  float64 `json:"lower"`
}

// Bollinger computes bands of width k sample standard deviations over the last n prices
func Bollinger(prices []float64, n int, k float64) (Bands, bool) {
	if n < 2 || len(prices) < n {
		return Bands{}, false
	}
	window := prices[len(prices)-n:]
	middle := mean(window)
	sd := stddev(window)
	return Bands{
		Middle: middle,
		Upper:  middle + k*sd,
		Lower:  middle - k*sd,
	}, true
}

// Returns converts prices into simple period-over-period returns
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

// Volatility is the annualised standard deviation of the last period daily returns, in percent
func Volatility(prices []float64, period int) (float64, bool) {
	returns := Returns(prices)
	if period < 2 || len(returns) < period {
		return 0, false
	}
	daily := stddev(returns[len(returns)-period:])
	return round(daily*math.Sqrt(TradingDaysPerYear)*100, 2), true
}

// Beta measures sensitivity of stock to market over the last period common trading days.
// Returns are aligned by date. With fewer than 10 aligned returns, or a flat market, beta is 1.
func Beta(stock, market []Bar, period int) float64 {
	marketReturns := make(map[string]float64, len(market))
	for i := 1; i < len(market); i++ {
		if market[i-1].Close == 0 {
			continue
		}
		marketReturns[dayKey(market[i].Date)] = market[i].Close/market[i-1].Close - 1
	}

	var xs, ys []float64
	for i := 1; i < len(stock); i++ {
		if stock[i-1].Close == 0 {
			continue
		}
		m, ok := marketReturns[dayKey(stock[i].Date)]
		if !ok {
			continue
		}
		xs = append(xs, stock[i].Close/stock[i-1].Close-1)
		ys = append(ys, m)
	}

	if len(xs) > period {
		xs = xs[len(xs)-period:]
		ys = ys[len(ys)-period:]
	}
	if len(xs) < 10 {
		return 1.0
	}

	variance := covariance(ys, ys)
	if variance == 0 {
		return 1.0
	}
	return round(covariance(xs, ys)/variance, 2)
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// PctChange calculates the percentage change from old to new
func PctChange(old, newVal float64) float64 {
	if old == 0 {
		return 0
	}
	return (newVal - old) / old * 100
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev calculates the sample standard deviation
func stddev(values []float64) float64 {
	return math.Sqrt(covariance(values, values))
}

// covariance is the sample covariance of two equal-length series
func covariance(xs, ys []float64) float64 {
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	sum := 0.0
	for i := range xs {
		sum += (xs[i] - mx) * (ys[i] - my)
	}
	return sum / float64(len(xs)-1)
}

// round rounds to specified decimal places
func round(value float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(value*mult) / mult
}
