// Package provider fetches daily bars, valuation ratios and benchmark closes
// from the market data API. All fetching completes and merges into a panel
// before any simulation starts; the simulator itself never does I/O.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/daasalpha/alphahunter/internal/cache"
	"github.com/daasalpha/alphahunter/internal/config"
	"github.com/daasalpha/alphahunter/internal/panel"
	"github.com/daasalpha/alphahunter/internal/regime"
)

// FetchError indicates the data provider could not deliver required data.
// It is distinct from factor and strategy errors: the caller reports it as a
// failed run rather than a broken pipeline contract.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Op, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// Client is the rate-limited, circuit-broken market data client.
type Client struct {
	config  config.ProviderConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cache   cache.Cache
}

// NewClient creates a provider client.
func NewClient(cfg config.ProviderConfig, c cache.Cache) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "market-data",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval.Std(),
		Timeout:     cfg.Breaker.Timeout.Std(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout.Std()},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: breaker,
		cache:   c,
	}
}

// barDTO is the provider's wire format for one daily bar.
type barDTO struct {
	Date           string  `json:"date"` // YYYYMMDD
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         float64 `json:"volume"`
	ValuationRatio float64 `json:"valuation_ratio"`
}

// FetchHistory fetches one asset's daily bars for the date range, consulting
// the cache first.
func (c *Client) FetchHistory(ctx context.Context, asset string, from, to time.Time) ([]panel.Row, error) {
	key := fmt.Sprintf("history:%s:%s:%s", asset, from.Format("20060102"), to.Format("20060102"))

	var bars []barDTO
	if raw, ok := c.cache.Get(ctx, key); ok {
		if err := json.Unmarshal(raw, &bars); err == nil {
			return c.toRows(asset, bars)
		}
	}

	raw, err := c.get(ctx, "/v1/daily", url.Values{
		"asset": {asset},
		"from":  {from.Format("20060102")},
		"to":    {to.Format("20060102")},
	})
	if err != nil {
		return nil, &FetchError{Op: "history " + asset, Err: err}
	}
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, &FetchError{Op: "history " + asset, Err: err}
	}

	c.cache.Set(ctx, key, raw, c.config.CacheTTL.Std())
	return c.toRows(asset, bars)
}

func (c *Client) toRows(asset string, bars []barDTO) ([]panel.Row, error) {
	rows := make([]panel.Row, 0, len(bars))
	for _, b := range bars {
		d, err := time.ParseInLocation("20060102", b.Date, time.UTC)
		if err != nil {
			return nil, &FetchError{Op: "history " + asset, Err: fmt.Errorf("bad date %q: %w", b.Date, err)}
		}
		rows = append(rows, panel.Row{
			AssetID:        asset,
			TradeDate:      d,
			Open:           b.Open,
			High:           b.High,
			Low:            b.Low,
			Close:          b.Close,
			Volume:         b.Volume,
			ValuationRatio: b.ValuationRatio,
		})
	}
	return rows, nil
}

// closeDTO is the provider's wire format for one benchmark close.
type closeDTO struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// FetchBenchmark fetches the benchmark index daily closes for the range.
func (c *Client) FetchBenchmark(ctx context.Context, index string, from, to time.Time) ([]regime.Point, error) {
	key := fmt.Sprintf("index:%s:%s:%s", index, from.Format("20060102"), to.Format("20060102"))

	var closes []closeDTO
	raw, ok := c.cache.Get(ctx, key)
	if ok && json.Unmarshal(raw, &closes) == nil {
		return c.toPoints(index, closes)
	}

	raw, err := c.get(ctx, "/v1/index", url.Values{
		"asset": {index},
		"from":  {from.Format("20060102")},
		"to":    {to.Format("20060102")},
	})
	if err != nil {
		return nil, &FetchError{Op: "benchmark " + index, Err: err}
	}
	if err := json.Unmarshal(raw, &closes); err != nil {
		return nil, &FetchError{Op: "benchmark " + index, Err: err}
	}

	c.cache.Set(ctx, key, raw, c.config.CacheTTL.Std())
	return c.toPoints(index, closes)
}

func (c *Client) toPoints(index string, closes []closeDTO) ([]regime.Point, error) {
	pts := make([]regime.Point, 0, len(closes))
	for _, cl := range closes {
		d, err := time.ParseInLocation("20060102", cl.Date, time.UTC)
		if err != nil {
			return nil, &FetchError{Op: "benchmark " + index, Err: fmt.Errorf("bad date %q: %w", cl.Date, err)}
		}
		pts = append(pts, regime.Point{Date: d, Close: cl.Close})
	}
	return pts, nil
}

// get performs one rate-limited request through the circuit breaker.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.config.BaseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}
		if c.config.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.Token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s returned %d", path, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}
