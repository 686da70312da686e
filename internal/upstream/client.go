// Package upstream talks to the chart backend that serves historical candles,
// backtests and symbol search. Responses arrive in several historical shapes;
// decoding is defensive and skips what it cannot read.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradedash/internal/model"
)

// DefaultTimeout bounds every upstream request.
const DefaultTimeout = 15 * time.Second

// MinSearchLen is the shortest query sent to symbol search.
const MinSearchLen = 2

// ErrNoCandles is returned when a chart response has no usable candles.
var ErrNoCandles = errors.New("upstream: no candles in response")

// TokenSource supplies the bearer token. auth.TokenManager satisfies it.
type TokenSource interface {
	Get() (string, error)
}

// CandleCache memoises chart responses. The Redis store implements it.
type CandleCache interface {
	GetCandles(ctx context.Context, key model.SeriesKey) ([]model.Candle, bool)
	PutCandles(ctx context.Context, key model.SeriesKey, candles []model.Candle)
}

// Config for Client.
type Config struct {
	BaseURL string
	Timeout time.Duration // default: 15s
	Tokens  TokenSource   // optional
	Cache   CandleCache   // optional
}

// Client is the upstream HTTP client. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	cache      CandleCache

	// OnRequest is called after every request (optional, for metrics).
	OnRequest func(route string, status int, elapsed time.Duration)
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     cfg.Tokens,
		cache:      cfg.Cache,
	}
}

const (
	routeChart    = "/api/merged-chart-data"
	routeBacktest = "/api/backtest"
	routeSearch   = "/search-nse-symbols"
)

// FetchCandles loads the historical candles of symbol at timeframe tf.
// The returned slice is in upstream order; callers run
// indicator.PrepareCandles before charting.
func (c *Client) FetchCandles(ctx context.Context, symbol string, tf model.Timeframe) ([]model.Candle, error) {
	key := model.SeriesKey{InstrumentKey: symbol, Timeframe: tf}
	if c.cache != nil {
		if candles, ok := c.cache.GetCandles(ctx, key); ok {
			return candles, nil
		}
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", string(tf))
	raw, err := c.do(ctx, http.MethodGet, routeChart, q, nil)
	if err != nil {
		return nil, err
	}

	v, err := decodeAny(raw)
	if err != nil {
		return nil, fmt.Errorf("upstream: decode chart data: %w", err)
	}
	data, _, err := envelope(v)
	if err != nil {
		return nil, err
	}
	rows, ok := candleRows(data)
	if !ok {
		return nil, ErrNoCandles
	}
	candles, _ := DecodeCandles(rows)
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}

	if c.cache != nil {
		c.cache.PutCandles(ctx, key, candles)
	}
	return candles, nil
}

// BacktestRequest is the body of POST /api/backtest.
type BacktestRequest struct {
	InstrumentKey  string                 `json:"instrument_key"`
	Strategy       string                 `json:"strategy"`
	StartDate      string                 `json:"start_date"`
	EndDate        string                 `json:"end_date"`
	InitialCapital float64                `json:"initial_capital"`
	Params         map[string]interface{} `json:"params"`
}

// BacktestResult is the decoded backtest response. Equity is kept raw since
// its shape varies; equity.Reconstruct interprets it.
type BacktestResult struct {
	Candles     []model.Candle
	Equity      json.RawMessage
	Positions   []int
	Buys        []model.Signal
	Sells       []model.Signal
	Indicators  []model.IndicatorSeries
	Metrics     model.Metrics
	TotalReturn *float64
	Trades      []model.Trade
}

// RunBacktest posts a backtest request and decodes the response.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: encode backtest request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, routeBacktest, nil, body)
	if err != nil {
		return nil, err
	}
	return DecodeBacktest(raw)
}

// DecodeBacktest decodes a backtest response body.
func DecodeBacktest(raw []byte) (*BacktestResult, error) {
	v, err := decodeAny(raw)
	if err != nil {
		return nil, fmt.Errorf("upstream: decode backtest: %w", err)
	}
	data, obj, err := envelope(v)
	if err != nil {
		return nil, err
	}
	res := &BacktestResult{}

	d, _ := data.(map[string]interface{})
	if d == nil {
		d = map[string]interface{}{}
	}
	rows, _ := candleRows(d["candles"])
	res.Candles, _ = DecodeCandles(rows)
	res.Positions = decodePositions(d, rows)
	res.Buys, res.Sells = decodeSignals(d["signals"])
	res.Indicators = decodeIndicators(d["indicators"])

	for _, key := range []string{"equity", "portfolio", "equity_curve"} {
		if e, ok := d[key]; ok && e != nil {
			res.Equity, _ = json.Marshal(e)
			break
		}
	}

	var metrics interface{}
	if obj != nil {
		metrics = obj["metrics"]
	}
	if metrics == nil {
		metrics = d["metrics"]
	}
	res.Metrics, res.TotalReturn, res.Trades = decodeMetrics(metrics)
	return res, nil
}

// Symbol is one symbol search hit.
type Symbol struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
}

// SearchSymbols queries the symbol search endpoint. Queries shorter than
// MinSearchLen return no results without a request.
func (c *Client) SearchSymbols(ctx context.Context, query string) ([]Symbol, error) {
	query = strings.TrimSpace(query)
	if len(query) < MinSearchLen {
		return []Symbol{}, nil
	}
	q := url.Values{}
	q.Set("query", query)
	raw, err := c.do(ctx, http.MethodGet, routeSearch, q, nil)
	if err != nil {
		return nil, err
	}

	v, err := decodeAny(raw)
	if err != nil {
		return nil, fmt.Errorf("upstream: decode search: %w", err)
	}
	if obj, ok := v.(map[string]interface{}); ok {
		if msg, ok := obj["error"].(string); ok {
			return nil, &APIError{Message: msg}
		}
		v = obj["data"]
	}
	arr, _ := v.([]interface{})
	out := make([]Symbol, 0, len(arr))
	for _, item := range arr {
		rec, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sym, _ := rec["symbol"].(string)
		desc, _ := rec["description"].(string)
		if sym == "" {
			continue
		}
		out = append(out, Symbol{Symbol: sym, Description: desc})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, route string, q url.Values, body []byte) ([]byte, error) {
	reqURL := c.baseURL + route
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok, err := c.tokens.Get(); err == nil {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(route, 0, start)
		return nil, fmt.Errorf("upstream: %s %s: %w", method, route, err)
	}
	defer resp.Body.Close()
	c.observe(route, resp.StatusCode, start)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read %s: %w", route, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if v, err := decodeAny(raw); err == nil {
			var apiErr *APIError
			if _, _, err := envelope(v); errors.As(err, &apiErr) && apiErr.Message != "" {
				msg = apiErr.Message
			}
		}
		log.Printf("[upstream] %s %s status=%d", method, route, resp.StatusCode)
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return raw, nil
}

func (c *Client) observe(route string, status int, start time.Time) {
	if c.OnRequest != nil {
		c.OnRequest(route, status, time.Since(start))
	}
}
