package binance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"

	"cryptodesk/internal/httpx"
	"cryptodesk/internal/provider"
)

const (
	defaultBaseURL = "https://api.binance.com"
	klinesPath     = "/api/v3/klines"
)

// Candle is the subset of a kline row the price core needs.
type Candle struct {
	OpenTime  time.Time
	Close     float64
	CloseTime time.Time
}

// KlinesRequest is one page request against /api/v3/klines.
type KlinesRequest struct {
	Symbol    string
	Interval  string
	StartTime int64 // ms epoch, inclusive
	EndTime   int64 // ms epoch, inclusive
	Limit     int
}

// Client is a minimal client for the Binance spot REST API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP client used for every call.
	httpClient httpx.HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// ClientOption is a configuration option for Client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient httpx.HTTPClient) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new Binance API client.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// BaseURL reports the endpoint this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Klines fetches one page of candles. Region blocks (403, 451) surface as
// provider.ErrRegionBlocked so callers can switch endpoints.
func (c *Client) Klines(ctx context.Context, r KlinesRequest) ([]Candle, error) {
	query := url.Values{}
	query.Set("symbol", r.Symbol)
	query.Set("interval", r.Interval)
	query.Set("startTime", strconv.FormatInt(r.StartTime, 10))
	query.Set("endTime", strconv.FormatInt(r.EndTime, 10))
	if r.Limit > 0 {
		query.Set("limit", strconv.Itoa(r.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+klinesPath+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusUnavailableForLegalReasons:
		return nil, httpx.StatusError(req, res, provider.ErrRegionBlocked)
	case http.StatusTooManyRequests, http.StatusTeapot:
		return nil, httpx.StatusError(req, res, provider.ErrRateLimited)
	default:
		return nil, httpx.StatusError(req, res, provider.ErrUnexpectedStatus)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return parseKlines(body)
}

// parseKlines decodes the positional kline rows:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlines(body []byte) ([]Candle, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("decoding klines: expected array, got %.64q", body)
	}

	var out []Candle
	var rowErr error
	_, err := jsonparser.ArrayEach(body, func(value []byte, dataType jsonparser.ValueType, _ int, _ error) {
		if rowErr != nil {
			return
		}
		if dataType != jsonparser.Array {
			rowErr = fmt.Errorf("decoding kline %d: expected array, got %s", len(out), dataType)
			return
		}
		c, err := parseCandle(value)
		if err != nil {
			rowErr = fmt.Errorf("decoding kline %d: %w", len(out), err)
			return
		}
		out = append(out, c)
	})
	if err != nil {
		return nil, fmt.Errorf("decoding klines: %w", err)
	}
	if rowErr != nil {
		return nil, rowErr
	}
	return out, nil
}

func parseCandle(row []byte) (Candle, error) {
	openMs, err := jsonparser.GetInt(row, "[0]")
	if err != nil {
		return Candle{}, fmt.Errorf("open time: %w", err)
	}
	closeRaw, err := jsonparser.GetString(row, "[4]")
	if err != nil {
		return Candle{}, fmt.Errorf("close: %w", err)
	}
	closeMs, err := jsonparser.GetInt(row, "[6]")
	if err != nil {
		return Candle{}, fmt.Errorf("close time: %w", err)
	}
	px, err := decimal.NewFromString(closeRaw)
	if err != nil {
		return Candle{}, fmt.Errorf("close %q: %w", closeRaw, err)
	}
	return Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		Close:     px.InexactFloat64(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
	}, nil
}
