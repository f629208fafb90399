package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var ErrExchangeRateUnavailable = errors.New("exchange rate unavailable")

// ExchangeRateSource quotes a conversion rate from one currency to another.
// A failed quote aborts the calling operation; withdrawals never guess rates.
type ExchangeRateSource interface {
	Rate(ctx context.Context, from, to string) (float64, error)
}

type HTTPExchangeRateSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExchangeRateSource(baseURL string) *HTTPExchangeRateSource {
	return &HTTPExchangeRateSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPExchangeRateSource) Rate(ctx context.Context, from, to string) (float64, error) {
	if from == to {
		return 1, nil
	}
	endpoint := fmt.Sprintf("%s/rates?from=%s&to=%s", s.baseURL, url.QueryEscape(from), url.QueryEscape(to))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExchangeRateUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExchangeRateUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrExchangeRateUnavailable, resp.StatusCode)
	}
	var payload struct {
		Rate float64 `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExchangeRateUnavailable, err)
	}
	if payload.Rate <= 0 {
		return 0, fmt.Errorf("%w: non-positive rate for %s/%s", ErrExchangeRateUnavailable, from, to)
	}
	return payload.Rate, nil
}

// StaticExchangeRateSource serves fixed rates keyed "FROM/TO". Used in
// development and tests.
type StaticExchangeRateSource map[string]float64

func (s StaticExchangeRateSource) Rate(ctx context.Context, from, to string) (float64, error) {
	if from == to {
		return 1, nil
	}
	rate, ok := s[from+"/"+to]
	if !ok {
		return 0, fmt.Errorf("%w: no rate for %s/%s", ErrExchangeRateUnavailable, from, to)
	}
	return rate, nil
}
