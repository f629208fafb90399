// Package paypal is a minimal PayPal REST client covering checkout orders
// and payouts. Tokens are fetched lazily and refreshed ahead of expiry.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/draftpulse/contest-payments/internal/service"
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

var (
	_ service.OrderClient  = (*Client)(nil)
	_ service.PayoutClient = (*Client)(nil)
)

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("paypal client requires base url and credentials")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}, nil
}

// token returns a cached access token, fetching a fresh one when the cached
// token is missing or within a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apiError("token", resp)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("paypal token response missing access_token")
	}
	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) CreateOrder(ctx context.Context, amountMinorUnits int64, currency string) (string, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount": map[string]string{
				"currency_code": currency,
				"value":         FormatAmount(amountMinorUnits),
			},
		}},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("paypal order response missing id")
	}
	return out.ID, nil
}

func (c *Client) CaptureOrder(ctx context.Context, orderID string) (string, error) {
	var out struct {
		PurchaseUnits []struct {
			Payments struct {
				Captures []struct {
					ID string `json:"id"`
				} `json:"captures"`
			} `json:"payments"`
		} `json:"purchase_units"`
	}
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	if err := c.call(ctx, http.MethodPost, path, map[string]any{}, &out); err != nil {
		return "", err
	}
	for _, unit := range out.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			if capture.ID != "" {
				return capture.ID, nil
			}
		}
	}
	return "", fmt.Errorf("paypal capture response missing capture id")
}

func (c *Client) SendPayout(ctx context.Context, req service.PayoutRequest) (string, error) {
	body := map[string]any{
		"sender_batch_header": map[string]string{
			"sender_batch_id": req.SenderItemID,
			"email_subject":   "You have a payout",
		},
		"items": []map[string]any{{
			"recipient_type": "EMAIL",
			"receiver":       req.RecipientHandle,
			"sender_item_id": req.SenderItemID,
			"note":           req.Note,
			"amount": map[string]string{
				"currency": req.Currency,
				"value":    FormatAmount(req.AmountMinorUnits),
			},
		}},
	}
	var out struct {
		BatchHeader struct {
			PayoutBatchID string `json:"payout_batch_id"`
		} `json:"batch_header"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/payments/payouts", body, &out); err != nil {
		return "", err
	}
	if out.BatchHeader.PayoutBatchID == "" {
		return "", fmt.Errorf("paypal payout response missing batch id")
	}
	return out.BatchHeader.PayoutBatchID, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paypal %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(path, resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// APIError carries the provider status code so the classifier can separate
// throttling and outages from terminal rejections.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Code maps provider HTTP status onto classifier codes.
func (e *APIError) Code() string {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case e.StatusCode >= 500:
		return "provider_unavailable"
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return "auth_failed"
	default:
		return "provider_rejected"
	}
}

func apiError(endpoint string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(snippet)}
}

// FormatAmount renders minor units as the decimal string the API expects.
func FormatAmount(minorUnits int64) string {
	sign := ""
	if minorUnits < 0 {
		sign = "-"
		minorUnits = -minorUnits
	}
	return fmt.Sprintf("%s%d.%02d", sign, minorUnits/100, minorUnits%100)
}
