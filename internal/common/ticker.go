// Package common provides shared utilities across the application.
package common

import (
	"strings"
)

// Ticker represents a parsed exchange-qualified ticker.
// Format: EXCHANGE:CODE (e.g., "NYSE:TSLA", "NSE:INFY")
type Ticker struct {
	// Exchange is the exchange code (e.g., "NYSE", "NASDAQ", "NSE")
	Exchange string
	// Code is the stock/security code (e.g., "TSLA", "INFY")
	Code string
	// Raw is the original ticker string
	Raw string
}

// ExchangeToSuffix maps exchange codes to EODHD API suffixes.
var ExchangeToSuffix = map[string]string{
	"NYSE":   ".US",
	"NASDAQ": ".US",
	"US":     ".US",
	"NSE":    ".NSE",
	"BSE":    ".BSE",
	"KRX":    ".KO",
	"ASX":    ".AU",
	"LSE":    ".LSE",
	"TSX":    ".TO",
	"XETRA":  ".XETRA",
	"INDX":   ".INDX",
}

// yahooSuffixToExchange maps the Yahoo-style suffixes used in symbol aliases to exchanges.
var yahooSuffixToExchange = map[string]string{
	"NS": "NSE",
	"BO": "BSE",
	"KS": "KRX",
	"AX": "ASX",
	"L":  "LSE",
	"TO": "TSX",
	"DE": "XETRA",
	"US": "US",
}

// indexCodes maps caret-prefixed index symbols to EODHD index codes.
var indexCodes = map[string]string{
	"^GSPC":    "GSPC",
	"^DJI":     "DJI",
	"^IXIC":    "IXIC",
	"^RUT":     "RUT",
	"^NSEI":    "NSEI",
	"^BSESN":   "BSESN",
	"^NSEBANK": "NSEBANK",
}

// DefaultExchange is the exchange used when parsing tickers without an exchange qualifier.
var DefaultExchange = "US"

// ParseTicker parses a ticker string.
// Supports formats:
//   - "NYSE:TSLA" -> Exchange="NYSE", Code="TSLA"
//   - "INFY.NS" -> Exchange="NSE", Code="INFY" (Yahoo-style suffix)
//   - "^NSEI" -> Exchange="INDX", Code="NSEI"
//   - "tsla" -> Exchange=DefaultExchange, Code="TSLA"
func ParseTicker(ticker string) Ticker {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return Ticker{}
	}

	if code, ok := indexCodes[strings.ToUpper(ticker)]; ok {
		return Ticker{Exchange: "INDX", Code: code, Raw: ticker}
	}

	if idx := strings.Index(ticker, ":"); idx > 0 {
		return Ticker{
			Exchange: strings.ToUpper(ticker[:idx]),
			Code:     strings.ToUpper(ticker[idx+1:]),
			Raw:      ticker,
		}
	}

	// Only treat the suffix as an exchange if it is a known one, codes like BRK.B keep their dot
	if idx := strings.LastIndex(ticker, "."); idx > 0 && idx < len(ticker)-1 {
		if exchange, ok := yahooSuffixToExchange[strings.ToUpper(ticker[idx+1:])]; ok {
			return Ticker{
				Exchange: exchange,
				Code:     strings.ToUpper(ticker[:idx]),
				Raw:      ticker,
			}
		}
	}

	return Ticker{
		Exchange: DefaultExchange,
		Code:     strings.ToUpper(ticker),
		Raw:      ticker,
	}
}

// String returns the full exchange-qualified ticker string.
func (t Ticker) String() string {
	if t.Exchange == "" || t.Code == "" {
		return t.Code
	}
	return t.Exchange + ":" + t.Code
}

// EODHDSymbol returns the EODHD API symbol format.
// Example: "NYSE:TSLA" -> "TSLA.US"
func (t Ticker) EODHDSymbol() string {
	if t.Code == "" {
		return ""
	}
	suffix, ok := ExchangeToSuffix[t.Exchange]
	if !ok {
		suffix = ".US"
	}
	return t.Code + suffix
}

// SourceKey returns a stable document key for a ticker and source kind.
// Example: ("NYSE:TSLA", "quote") -> "nyse:TSLA:quote"
func (t Ticker) SourceKey(kind string) string {
	if t.Code == "" {
		return ""
	}
	exchange := strings.ToLower(t.Exchange)
	if kind != "" {
		return exchange + ":" + t.Code + ":" + kind
	}
	return exchange + ":" + t.Code
}

// ParseTickers parses a list of ticker strings, resolving company-name aliases first.
func ParseTickers(tickers []string, aliases *SymbolAliases) []Ticker {
	result := make([]Ticker, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		symbol := t
		if aliases != nil {
			if resolved, ok := aliases.Resolve(t); ok {
				symbol = resolved
			}
		}
		parsed := ParseTicker(symbol)
		if parsed.Code == "" || seen[parsed.String()] {
			continue
		}
		seen[parsed.String()] = true
		result = append(result, parsed)
	}
	return result
}
