package eodhd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/finrag/internal/common"
	"github.com/ternarybob/finrag/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", append([]ClientOption{WithBaseURL(srv.URL + "/"), WithRateLimit(100)}, opts...)...)
}

func TestGetRealTimeQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/real-time/TSLA.US", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_token"))
		assert.Equal(t, "json", r.URL.Query().Get("fmt"))
		_, _ = w.Write([]byte(`{"code":"TSLA.US","timestamp":1760000000,"gmtoffset":0,"open":248.1,"high":"252.9","low":247.5,"close":251.3,"volume":81234567,"previousClose":247.6,"change":3.7,"change_p":"NA"}`))
	})

	quote, err := client.GetRealTimeQuote(context.Background(), "TSLA.US")
	require.NoError(t, err)

	assert.Equal(t, "TSLA.US", quote.Code)
	assert.Equal(t, Number(251.3), quote.Close)
	assert.Equal(t, Number(252.9), quote.High)
	assert.Equal(t, Number(0), quote.ChangePercent)
	assert.True(t, quote.Valid())
	assert.Equal(t, int64(1760000000), quote.Time().Unix())
}

func TestGetEOD(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eod/AAPL.US", r.URL.Path)
		assert.Equal(t, "d", r.URL.Query().Get("period"))
		assert.Equal(t, "a", r.URL.Query().Get("order"))
		assert.Equal(t, "2025-01-01", r.URL.Query().Get("from"))
		_, _ = w.Write([]byte(`[{"date":"2025-01-02","open":1,"high":2,"low":0.5,"close":1.5,"adjusted_close":1.5,"volume":100},
			{"date":"2025-01-03","open":1.5,"high":2.5,"low":1,"close":2,"adjusted_close":2,"volume":200}]`))
	})

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bars, err := client.GetEOD(context.Background(), "AAPL.US", WithDateRange(from, time.Time{}))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 2025, bars[0].Date.Year())
	assert.Equal(t, 3, bars[1].Date.Day())
	assert.Equal(t, 2.0, bars[1].Close)
}

func TestGetNews(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/news", r.URL.Path)
		assert.Equal(t, "TSM.US,AAPL.US", r.URL.Query().Get("s"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"date":"2025-10-14T12:30:00+00:00","title":"TSMC beats estimates","content":"Revenue rose.","link":"https://example.com/a","symbols":["TSM.US"],"sentiment":{"polarity":0.8,"neg":0,"neu":0.2,"pos":0.8}}]`))
	})

	news, err := client.GetNews(context.Background(), []string{"TSM.US", "AAPL.US"}, WithLimit(5))
	require.NoError(t, err)
	require.Len(t, news, 1)
	assert.Equal(t, "TSMC beats estimates", news[0].Title)
	assert.Equal(t, 14, news[0].Date.Day())
	require.NotNil(t, news[0].Sentiment)
	assert.Equal(t, 0.8, news[0].Sentiment.Polarity)
}

func TestStatusErrorIsRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("busy"))
			return
		}
		_, _ = w.Write([]byte(`{"code":"AAPL.US","close":190}`))
	}, WithRetry(common.Backoff{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2}))

	quote, err := client.GetRealTimeQuote(context.Background(), "AAPL.US")
	require.NoError(t, err)
	assert.Equal(t, Number(190), quote.Close)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStatusErrorNotRetriedWhenPermanent(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("invalid token"))
	}, WithRetry(common.Backoff{MaxAttempts: 3, InitialBackoff: time.Millisecond, Multiplier: 2}))

	_, err := client.GetRealTimeQuote(context.Background(), "AAPL.US")
	require.Error(t, err)

	var statusErr *models.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "invalid token", statusErr.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMissingAPIKey(t *testing.T) {
	client := NewClient("")
	_, err := client.GetRealTimeQuote(context.Background(), "AAPL.US")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.False(t, client.HasAPIKey())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 2*time.Second, parseRetryAfter("2", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(time.RFC1123), now))
}

func TestMarketState(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("timezone data unavailable")
	}

	// Wednesday
	assert.Equal(t, MarketOpen, MarketState("US", time.Date(2025, 10, 15, 11, 0, 0, 0, ny)))
	assert.Equal(t, MarketClosed, MarketState("US", time.Date(2025, 10, 15, 8, 0, 0, 0, ny)))
	assert.Equal(t, MarketClosed, MarketState("US", time.Date(2025, 10, 15, 16, 0, 0, 0, ny)))
	// Saturday
	assert.Equal(t, MarketClosed, MarketState("US", time.Date(2025, 10, 18, 11, 0, 0, 0, ny)))
	// Unknown exchanges follow US hours
	assert.Equal(t, MarketOpen, MarketState("XX", time.Date(2025, 10, 15, 11, 0, 0, 0, ny)))
}
