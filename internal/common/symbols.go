package common

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultSymbolAliases maps common company and index names to Yahoo-style symbols.
var defaultSymbolAliases = map[string]string{
	// Indian stocks (NSE)
	"infosys":                   "INFY.NS",
	"infy":                      "INFY.NS",
	"tcs":                       "TCS.NS",
	"tata consultancy":          "TCS.NS",
	"tata consultancy services": "TCS.NS",
	"reliance":                  "RELIANCE.NS",
	"reliance industries":       "RELIANCE.NS",
	"wipro":                     "WIPRO.NS",
	"hcl":                       "HCLTECH.NS",
	"hcl tech":                  "HCLTECH.NS",
	"hdfc bank":                 "HDFCBANK.NS",
	"hdfc":                      "HDFCBANK.NS",
	"icici bank":                "ICICIBANK.NS",
	"icici":                     "ICICIBANK.NS",
	"sbi":                       "SBIN.NS",
	"state bank":                "SBIN.NS",
	"bharti airtel":             "BHARTIARTL.NS",
	"airtel":                    "BHARTIARTL.NS",
	"kotak":                     "KOTAKBANK.NS",
	"kotak mahindra":            "KOTAKBANK.NS",
	"axis bank":                 "AXISBANK.NS",
	"axis":                      "AXISBANK.NS",
	"maruti":                    "MARUTI.NS",
	"maruti suzuki":             "MARUTI.NS",
	"tata motors":               "TATAMOTORS.NS",
	"tata steel":                "TATASTEEL.NS",
	"itc":                       "ITC.NS",
	"asian paints":              "ASIANPAINT.NS",
	"bajaj finance":             "BAJFINANCE.NS",
	"larsen":                    "LT.NS",
	"l&t":                       "LT.NS",
	"sun pharma":                "SUNPHARMA.NS",
	"hindalco":                  "HINDALCO.NS",
	"tech mahindra":             "TECHM.NS",
	"power grid":                "POWERGRID.NS",
	"ntpc":                      "NTPC.NS",
	"ongc":                      "ONGC.NS",
	"ultratech":                 "ULTRACEMCO.NS",

	// Indian indices
	"nifty":      "^NSEI",
	"nifty50":    "^NSEI",
	"nifty 50":   "^NSEI",
	"sensex":     "^BSESN",
	"bse sensex": "^BSESN",
	"bank nifty": "^NSEBANK",
	"nifty bank": "^NSEBANK",

	// US stocks
	"apple":      "AAPL",
	"microsoft":  "MSFT",
	"google":     "GOOGL",
	"alphabet":   "GOOGL",
	"amazon":     "AMZN",
	"tesla":      "TSLA",
	"nvidia":     "NVDA",
	"meta":       "META",
	"facebook":   "META",
	"netflix":    "NFLX",
	"intel":      "INTC",
	"amd":        "AMD",
	"tsmc":       "TSM",
	"qualcomm":   "QCOM",
	"broadcom":   "AVGO",
	"adobe":      "ADBE",
	"salesforce": "CRM",
	"cisco":      "CSCO",
	"oracle":     "ORCL",
	"ibm":        "IBM",
	"paypal":     "PYPL",
	"uber":       "UBER",
	"zoom":       "ZM",
	"spotify":    "SPOT",

	// US indices
	"dow":              "^DJI",
	"dow jones":        "^DJI",
	"s&p":              "^GSPC",
	"s&p 500":          "^GSPC",
	"sp500":            "^GSPC",
	"nasdaq":           "^IXIC",
	"nasdaq composite": "^IXIC",
	"russell":          "^RUT",
	"russell 2000":     "^RUT",

	// Other global
	"samsung": "005930.KS",
}

// SymbolAliases resolves company names to ticker symbols
type SymbolAliases struct {
	aliases map[string]string
}

type symbolAliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// NewSymbolAliases returns the built-in alias table
func NewSymbolAliases() *SymbolAliases {
	aliases := make(map[string]string, len(defaultSymbolAliases))
	for name, symbol := range defaultSymbolAliases {
		aliases[name] = symbol
	}
	return &SymbolAliases{aliases: aliases}
}

// LoadSymbolAliases returns the built-in aliases merged with the entries of a YAML file.
// An empty path returns the built-in table.
//
// File format:
//
//	aliases:
//	  berkshire: BRK-B
//	  toyota: 7203.T
func LoadSymbolAliases(path string) (*SymbolAliases, error) {
	s := NewSymbolAliases()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols file %s: %w", path, err)
	}

	var file symbolAliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse symbols file %s: %w", path, err)
	}

	for name, symbol := range file.Aliases {
		name = strings.ToLower(strings.TrimSpace(name))
		symbol = strings.TrimSpace(symbol)
		if name != "" && symbol != "" {
			s.aliases[name] = symbol
		}
	}

	return s, nil
}

// Resolve maps a company name or symbol to a symbol.
// Known names resolve through the alias table; an upper-case input of two or more
// characters is taken as a symbol already.
func (s *SymbolAliases) Resolve(query string) (string, bool) {
	trimmed := strings.TrimSpace(query)
	if symbol, ok := s.aliases[strings.ToLower(trimmed)]; ok {
		return symbol, true
	}
	if len(trimmed) >= 2 && trimmed == strings.ToUpper(trimmed) {
		return trimmed, true
	}
	return "", false
}

// Len returns the number of aliases
func (s *SymbolAliases) Len() int {
	return len(s.aliases)
}

// NamesFor returns the alias names that resolve to the same ticker as t, sorted
func (s *SymbolAliases) NamesFor(t Ticker) []string {
	var names []string
	for name, symbol := range s.aliases {
		if ParseTicker(symbol).String() == t.String() && !strings.EqualFold(name, t.Code) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
