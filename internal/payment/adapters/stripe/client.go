package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type client struct {
	baseURL   string
	secretKey string
	accountID string
	http      *http.Client
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *client) do(ctx context.Context, method, path string, values url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if values != nil {
		body = strings.NewReader(values.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.accountID != "" {
		req.Header.Set("Stripe-Account", c.accountID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return errors.New("stripe_request_failed")
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		return errors.New(message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
