package eodhd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// EODData represents a single day's end-of-day price data.
type EODData struct {
	Date          time.Time `json:"-"`
	DateStr       string    `json:"date"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	AdjustedClose float64   `json:"adjusted_close"`
	Volume        int64     `json:"volume"`
}

// EODResponse is a slice of EODData.
type EODResponse []EODData

// NewsItem represents a single news article.
type NewsItem struct {
	Date      time.Time      `json:"-"`
	DateStr   string         `json:"date"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Link      string         `json:"link"`
	Symbols   []string       `json:"symbols"`
	Tags      []string       `json:"tags"`
	Sentiment *NewsSentiment `json:"sentiment,omitempty"`
}

// NewsSentiment represents sentiment analysis data for news.
type NewsSentiment struct {
	Polarity float64 `json:"polarity"`
	Neg      float64 `json:"neg"`
	Neu      float64 `json:"neu"`
	Pos      float64 `json:"pos"`
}

// NewsResponse is a slice of NewsItem.
type NewsResponse []NewsItem

// Number is a float that tolerates the "NA" strings EODHD returns for missing values.
type Number float64

// UnmarshalJSON implements custom JSON unmarshaling for Number.
// Accepts numbers, numeric strings, and "NA"/null (decoded as 0).
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" || s == "NA" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", s, err)
		}
		*n = Number(f)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Number(f)
	return nil
}

// RealTimeQuote is the (delayed) live quote for one symbol.
type RealTimeQuote struct {
	Code          string `json:"code"`
	Timestamp     int64  `json:"timestamp"`
	GMTOffset     int    `json:"gmtoffset"`
	Open          Number `json:"open"`
	High          Number `json:"high"`
	Low           Number `json:"low"`
	Close         Number `json:"close"`
	Volume        Number `json:"volume"`
	PreviousClose Number `json:"previousClose"`
	Change        Number `json:"change"`
	ChangePercent Number `json:"change_p"`
}

// Time returns the quote timestamp in UTC
func (q *RealTimeQuote) Time() time.Time {
	if q.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(q.Timestamp, 0).UTC()
}

// Valid reports whether the quote carries a price
func (q *RealTimeQuote) Valid() bool {
	return q.Close > 0
}

// Market states reported for a quote
const (
	MarketOpen   = "REGULAR"
	MarketClosed = "CLOSED"
)

// DefaultWorkingDays returns standard Monday-Friday working days.
func DefaultWorkingDays() []time.Weekday {
	return []time.Weekday{
		time.Monday,
		time.Tuesday,
		time.Wednesday,
		time.Thursday,
		time.Friday,
	}
}

// DefaultExchangeTimezones maps EODHD exchange suffixes to their IANA timezones.
var DefaultExchangeTimezones = map[string]string{
	"US":    "America/New_York",
	"NSE":   "Asia/Kolkata",
	"BSE":   "Asia/Kolkata",
	"KO":    "Asia/Seoul",
	"AU":    "Australia/Sydney",
	"LSE":   "Europe/London",
	"XETRA": "Europe/Berlin",
	"TO":    "America/Toronto",
	"INDX":  "America/New_York",
}

// DefaultOpenTime maps exchange suffixes to their open times (local time "HH:MM").
var DefaultOpenTime = map[string]string{
	"US":    "09:30",
	"NSE":   "09:15",
	"BSE":   "09:15",
	"KO":    "09:00",
	"AU":    "10:00",
	"LSE":   "08:00",
	"XETRA": "09:00",
	"TO":    "09:30",
	"INDX":  "09:30",
}

// DefaultCloseTime maps exchange suffixes to their close times (local time "HH:MM").
var DefaultCloseTime = map[string]string{
	"US":    "16:00",
	"NSE":   "15:30",
	"BSE":   "15:30",
	"KO":    "15:30",
	"AU":    "16:00",
	"LSE":   "16:30",
	"XETRA": "17:30",
	"TO":    "16:00",
	"INDX":  "16:00",
}

// MarketState reports whether the exchange is in regular trading hours at now.
// Holidays are not modelled. Unknown exchanges use US hours.
func MarketState(exchange string, now time.Time) string {
	tzName, ok := DefaultExchangeTimezones[exchange]
	if !ok {
		exchange = "US"
		tzName = DefaultExchangeTimezones[exchange]
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	working := false
	for _, d := range DefaultWorkingDays() {
		if local.Weekday() == d {
			working = true
			break
		}
	}
	if !working {
		return MarketClosed
	}

	open, errOpen := clockOn(local, DefaultOpenTime[exchange])
	closing, errClose := clockOn(local, DefaultCloseTime[exchange])
	if errOpen != nil || errClose != nil {
		return MarketClosed
	}
	if !local.Before(open) && local.Before(closing) {
		return MarketOpen
	}
	return MarketClosed
}

// clockOn places an "HH:MM" clock time on the date of day
func clockOn(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
