package fares

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrUnavailable means the upstream could not produce a fare for the
// requested segment. Callers recover via their normal failure path.
var ErrUnavailable = errors.New("fare unavailable")

// Quote is a single-segment fare observation.
type Quote struct {
	Price     float64 `json:"price"`
	FareClass string  `json:"fare_class"`
	Currency  string  `json:"currency"`
	Source    string  `json:"source"`
}

// Source is the fare lookup consumed by the check executor.
type Source interface {
	// FetchPrice returns the current fare for one segment, or
	// ErrUnavailable when the upstream has no price.
	FetchPrice(ctx context.Context, origin, destination, date string, pax int, fareClass string) (*Quote, error)
}

// Config holds fare API client configuration.
type Config struct {
	BaseURL  string
	APIKey   string
	Currency string
}

// Client talks to the fare lookup HTTP API.
type Client struct {
	client   *resty.Client
	currency string
}

// NewClient creates a new fare API client.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Accept", "application/json")
	// Transport-level backstop; per-check deadlines come from the context.
	client.SetTimeout(2 * time.Minute)

	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}

	return &Client{
		client:   client,
		currency: currency,
	}
}

type fareResponse struct {
	Price     float64 `json:"price"`
	FareClass string  `json:"fare_class"`
	Currency  string  `json:"currency"`
	Error     string  `json:"error,omitempty"`
}

// FetchPrice looks up the current fare for one segment.
// Parameters:
//   - ctx: context carrying the per-check deadline.
//   - origin, destination: IATA airport codes.
//   - date: departure date, date-only.
//   - pax: passenger count.
//   - fareClass: ticket category the comparison must match.
// Returns:
//   - *Quote: current fare when available.
//   - error: ErrUnavailable when the upstream has no price, otherwise the
//     transport or API error.
func (c *Client) FetchPrice(ctx context.Context, origin, destination, date string, pax int, fareClass string) (*Quote, error) {
	var out fareResponse

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"origin":      origin,
			"destination": destination,
			"date":        date,
			"pax":         fmt.Sprintf("%d", pax),
			"fare_class":  fareClass,
			"currency":    c.currency,
		}).
		SetResult(&out).
		Get("/v1/fares")
	if err != nil {
		return nil, fmt.Errorf("fare lookup %s-%s: %w", origin, destination, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		if out.Price <= 0 {
			return nil, ErrUnavailable
		}
		return &Quote{
			Price:     out.Price,
			FareClass: out.FareClass,
			Currency:  out.Currency,
			Source:    "fares-api",
		}, nil
	case http.StatusNotFound:
		return nil, ErrUnavailable
	default:
		if out.Error != "" {
			return nil, fmt.Errorf("fare lookup %s-%s: %s (status %d)", origin, destination, out.Error, resp.StatusCode())
		}
		return nil, fmt.Errorf("fare lookup %s-%s: unexpected status %d", origin, destination, resp.StatusCode())
	}
}
