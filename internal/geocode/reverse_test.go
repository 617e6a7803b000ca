package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/internal/config"
	"github.com/xkilldash9x/fpwarden/internal/network"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	netCfg := network.NewDefaultClientConfig()
	netCfg.ForceHTTP2 = false
	c, err := NewClient(config.GeocodeConfig{
		BaseURL:       baseURL,
		UserAgent:     "fpwarden-test/1.0",
		RatePerSecond: 100,
		CacheSize:     16,
	}, network.NewClient(netCfg), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestReverseResolvesCountry(t *testing.T) {
	var calls atomic.Int32
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotUA.Store(r.Header.Get("User-Agent"))
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.NotEmpty(t, r.URL.Query().Get("lat"))
		io.WriteString(w, `{"address": {"country": "Germany", "country_code": "de"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.Reverse(context.Background(), 52.52, 13.405)
	require.NoError(t, err)
	assert.Equal(t, "Germany", res.Country)
	assert.Equal(t, "de", res.CountryCode)
	assert.Equal(t, "fpwarden-test/1.0", gotUA.Load())

	// Second lookup at cache granularity hits the cache, not the server.
	res, err = c.Reverse(context.Background(), 52.52001, 13.40501)
	require.NoError(t, err)
	assert.Equal(t, "Germany", res.Country)
	assert.Equal(t, int32(1), calls.Load())
}

func TestReverseServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error": "Unable to geocode"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Reverse(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to geocode")
}

func TestReverseHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Reverse(context.Background(), 52.52, 13.405)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestReverseMissingCountry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"address": {}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Reverse(context.Background(), 52.52, 13.405)
	require.Error(t, err)
}

func TestNewClientRequiresUserAgent(t *testing.T) {
	_, err := NewClient(config.GeocodeConfig{BaseURL: "https://example.org"}, nil, zap.NewNop())
	require.Error(t, err)
}

func TestReverseCanceledContext(t *testing.T) {
	c := newTestClient(t, "https://invalid.example")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Reverse(ctx, 1, 1)
	require.Error(t, err)
}
