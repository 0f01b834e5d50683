package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request is the handoff payload for a remote generation run. CallbackURL
// tells the engine where to deliver the finished content.
type Request struct {
	RequestID   string   `json:"request_id"`
	EntityID    string   `json:"entity_id"`
	UserID      uint64   `json:"user_id"`
	Topic       string   `json:"topic"`
	Tone        string   `json:"tone,omitempty"`
	Platforms   []string `json:"platforms,omitempty"`
	Pieces      int      `json:"pieces"`
	CallbackURL string   `json:"callback_url"`
}

// Client talks to the external workflow engine. The engine acknowledges a
// submission synchronously and delivers results later through the callback
// gateway; Submit only covers the acknowledgement leg.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	callbackURL string
}

func NewClient(baseURL, callbackURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		callbackURL: callbackURL,
	}
}

func (c *Client) Submit(ctx context.Context, req Request) error {
	req.RequestID = uuid.NewString()
	req.CallbackURL = c.callbackURL

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal engine request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/workflows/trigger", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("submit to engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine rejected submission: status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
