package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScrapeClient_KeepsCookiesAcrossRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/consent", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "consent", Value: "yes", Path: "/"})
		http.Redirect(w, r, "/page", http.StatusFound)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("consent")
		if err != nil || c.Value != "yes" {
			http.Error(w, "no consent", http.StatusForbidden)
			return
		}
		w.Write([]byte(r.Header.Get("User-Agent")))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewScrapeClient(5 * time.Second)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/consent", nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "finrag-test")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := make([]byte, 64)
	n, _ := resp.Body.Read(body)
	assert.Equal(t, "finrag-test", string(body[:n]))
}

func TestNewScrapeClient_StopsRedirectLoops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	client, err := NewScrapeClient(5 * time.Second)
	require.NoError(t, err)

	_, err = client.Get(srv.URL + "/loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 5 redirects")
}

func TestNewDefaultHTTPClient(t *testing.T) {
	client := NewDefaultHTTPClient(3 * time.Second)
	assert.Equal(t, 3*time.Second, client.Timeout)
	assert.Nil(t, client.Jar)
}
