// Package rest is a client for Tradier-style brokerage market-data endpoints.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/sawpanic/optionflow/internal/models"
	"github.com/sawpanic/optionflow/internal/provider"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBody = 8 << 20

// Client implements provider.MarketData over HTTP
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	now     func() time.Time
}

// New creates a client from provider config. The HTTP client may be nil.
func New(cfg provider.Config, hc *http.Client) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base_url is required", cfg.Name)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("provider %s: invalid base_url: %w", cfg.Name, err)
	}
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: timeout,
		http:    hc,
		now:     time.Now,
	}, nil
}

type quotesResponse struct {
	Quotes *struct {
		Quote     oneOrMany[provider.RawQuote] `json:"quote"`
		Unmatched jsoniter.RawMessage          `json:"unmatched_symbols"`
	} `json:"quotes"`
}

type chainResponse struct {
	Options *struct {
		Option oneOrMany[provider.RawContract] `json:"option"`
	} `json:"options"`
}

type expirationsResponse struct {
	Expirations *struct {
		Date oneOrMany[string] `json:"date"`
	} `json:"expirations"`
}

func (c *Client) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	var resp quotesResponse
	q := url.Values{"symbols": {symbol}, "greeks": {"false"}}
	if err := c.get(ctx, "/v1/markets/quotes", q, &resp); err != nil {
		return models.Quote{}, &models.ProviderError{Symbol: symbol, Op: "quote", Err: err}
	}
	if resp.Quotes == nil || len(resp.Quotes.Quote) == 0 {
		return models.Quote{}, &models.ProviderError{Symbol: symbol, Op: "quote", Err: fmt.Errorf("symbol not found")}
	}
	for _, raw := range resp.Quotes.Quote {
		if strings.EqualFold(raw.Symbol, symbol) {
			return provider.NormalizeQuote(symbol, raw), nil
		}
	}
	return provider.NormalizeQuote(symbol, resp.Quotes.Quote[0]), nil
}

func (c *Client) FetchOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionContract, error) {
	var resp chainResponse
	q := url.Values{
		"symbol":     {symbol},
		"expiration": {expiration.Format("2006-01-02")},
		"greeks":     {"true"},
	}
	if err := c.get(ctx, "/v1/markets/options/chains", q, &resp); err != nil {
		return nil, &models.ProviderError{Symbol: symbol, Op: "chain", Err: err}
	}
	if resp.Options == nil {
		return []models.OptionContract{}, nil
	}
	out, _ := provider.NormalizeChain(symbol, expiration, resp.Options.Option)
	return out, nil
}

func (c *Client) FetchExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	var resp expirationsResponse
	q := url.Values{"symbol": {symbol}, "includeAllRoots": {"true"}}
	if err := c.get(ctx, "/v1/markets/options/expirations", q, &resp); err != nil {
		return nil, &models.ProviderError{Symbol: symbol, Op: "expirations", Err: err}
	}
	var dates []time.Time
	if resp.Expirations != nil {
		dates = provider.ParseDates(resp.Expirations.Date)
	}
	if len(dates) == 0 {
		return provider.NextFridays(c.now(), provider.FallbackExpirationCount), nil
	}
	return dates, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: snippet(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// StatusError is a non-200 response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func snippet(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > 200 {
		b = b[:200]
	}
	return string(b)
}

// oneOrMany decodes a value that the API sends bare when there is one element
// and as an array otherwise. null decodes to empty.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*o = nil
		return nil
	case b[0] == '[':
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*o = many
		return nil
	default:
		var one T
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*o = oneOrMany[T]{one}
		return nil
	}
}
