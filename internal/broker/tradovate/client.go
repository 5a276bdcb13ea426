// Package tradovate adapts the Tradovate futures REST API to the venue
// contract. Requests are HMAC-signed and throttled with a client-side token
// bucket because Tradovate enforces strict per-key request quotas.
package tradovate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantive/signalbridge/internal/crypto"
	"github.com/quantive/signalbridge/internal/domain"
)

// Client is the REST client for the Tradovate API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Tradovate REST client. requestsPerSecond bounds the
// client-side request rate; zero selects the venue default of 5 req/s with a
// burst of 10.
func NewClient(baseURL string, auth *crypto.HMACAuth, requestsPerSecond float64) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 10),
	}
}

// doSignedRequest waits for rate-limit headroom, then builds, signs, sends,
// and reads an HTTP request against the Tradovate API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var bodyJSON []byte
	var bodyReader io.Reader
	if reqBody != nil {
		var err error
		bodyJSON, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range c.auth.Headers(method, path, string(bodyJSON)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		ErrorText string `json:"errorText"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("tradovate: %s: %w", apiErr.ErrorText, domain.ErrNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("tradovate: %s: %w", apiErr.ErrorText, domain.ErrRateLimited)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("tradovate: unauthorized: %s", apiErr.ErrorText)
	default:
		return fmt.Errorf("tradovate: HTTP %d: %s", statusCode, apiErr.ErrorText)
	}
}
