package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCreemAPIBaseURL = "https://api.creem.io"

// CreemClient calls the creem REST API.
type CreemClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewCreemClient(apiKey, baseURL string) *CreemClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultCreemAPIBaseURL
	}
	return &CreemClient{
		APIKey:     strings.TrimSpace(apiKey),
		APIBaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type CreemCustomer struct {
	Email string `json:"email,omitempty"`
}

type CreemCheckoutRequest struct {
	ProductID  string            `json:"product_id"`
	RequestID  string            `json:"request_id"`
	SuccessURL string            `json:"success_url,omitempty"`
	Customer   *CreemCustomer    `json:"customer,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type CreemCheckoutSession struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
	Status      string `json:"status"`
}

// CheckoutCreator is the part of CreemClient used by CreemCheckout.
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, in CreemCheckoutRequest) (*CreemCheckoutSession, error)
}

// CreateCheckout opens a hosted checkout session. Any transport failure or
// non-2xx status is wrapped in ErrProviderUnavailable.
func (c *CreemClient) CreateCheckout(ctx context.Context, in CreemCheckoutRequest) (*CreemCheckoutSession, error) {
	if c.APIKey == "" {
		return nil, ErrProviderNotEnabled
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return nil, errors.New("creem product id is required")
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/v1/checkouts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: creem checkout failed: status=%d body=%s", ErrProviderUnavailable, resp.StatusCode, string(body))
	}

	var out CreemCheckoutSession
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if strings.TrimSpace(out.CheckoutURL) == "" {
		return nil, fmt.Errorf("%w: creem checkout returned empty checkout_url", ErrProviderUnavailable)
	}
	return &out, nil
}
