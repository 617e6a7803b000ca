// Package geocode resolves coordinates to country names through the
// Nominatim reverse endpoint, with client-side rate limiting and a
// small LRU cache so repair runs over many profiles stay polite.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/fpwarden/internal/config"
	"github.com/xkilldash9x/fpwarden/internal/network"
)

// Result is the subset of a Nominatim reverse lookup this tool uses.
type Result struct {
	Country     string
	CountryCode string
}

type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		Country     string `json:"country"`
		CountryCode string `json:"country_code"`
	} `json:"address"`
}

// Client is a rate-limited, caching reverse geocoder.
type Client struct {
	baseURL   string
	userAgent string
	http      *network.Client
	limiter   *rate.Limiter
	cache     *lru.Cache[string, Result]
	log       *zap.Logger
}

// NewClient builds the geocoder from its config section. Nominatim's
// usage policy requires an identifying User-Agent and at most one
// request per second; both come from configuration.
func NewClient(cfg config.GeocodeConfig, httpClient *network.Client, logger *zap.Logger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, eris.New("geocode: user agent must be set")
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, Result](size)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: failed to build cache")
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		cache:     cache,
		log:       logger.Named("geocode"),
	}, nil
}

// Reverse resolves a coordinate pair to a country. Coordinates are
// cached at four decimal places, roughly ten meters, which is far finer
// than country granularity.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (Result, error) {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if res, ok := c.cache.Get(key); ok {
		return res, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, eris.Wrap(err, "geocode: rate limit wait aborted")
	}

	endpoint, err := url.Parse(c.baseURL + "/reverse")
	if err != nil {
		return Result{}, eris.Wrapf(err, "geocode: bad base url %q", c.baseURL)
	}
	q := endpoint.Query()
	q.Set("format", "json")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Result{}, eris.Wrap(err, "geocode: failed to build request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, eris.Wrap(err, "geocode: reverse lookup failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, eris.Wrap(err, "geocode: failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, eris.Errorf("geocode: reverse lookup returned HTTP %d", resp.StatusCode)
	}

	var parsed nominatimResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, eris.Wrap(err, "geocode: failed to decode response")
	}
	if parsed.Error != "" {
		return Result{}, eris.Errorf("geocode: service error: %s", parsed.Error)
	}
	if parsed.Address.Country == "" {
		return Result{}, eris.New("geocode: response carried no country")
	}

	res := Result{Country: parsed.Address.Country, CountryCode: parsed.Address.CountryCode}
	c.cache.Add(key, res)
	c.log.Debug("Resolved coordinates",
		zap.Float64("lat", lat), zap.Float64("lon", lon), zap.String("country", res.Country))
	return res, nil
}
