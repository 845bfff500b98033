// Package client is a Go client for the comparison service.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// CompareClient streams comparisons from a comparison server.
type CompareClient interface {
	// Compare starts a comparison and returns a channel of stream events.
	// The channel closes after the terminal complete event or on error.
	Compare(ctx context.Context, req CompareRequest) (<-chan Event, error)

	// Credits returns the caller's remaining credit balance.
	Credits(ctx context.Context, fingerprint string) (*CreditsStatus, error)

	// Models lists the comparable models.
	Models(ctx context.Context) ([]ModelInfo, error)
}

// HTTPCompareClient implements CompareClient over the server's HTTP API.
type HTTPCompareClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for the given server base URL. token is an
// optional bearer token for authenticated identities.
func NewHTTPClient(baseURL, token string) *HTTPCompareClient {
	return &HTTPCompareClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 0}, // streams have no overall deadline
	}
}

func (c *HTTPCompareClient) Compare(ctx context.Context, req CompareRequest) (<-chan Event, error) {
	if req.ReqID == "" {
		req.ReqID = ulid.Make().String()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/compare", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("comparison request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == "complete" {
				return
			}
		}
	}()
	return events, nil
}

func (c *HTTPCompareClient) Credits(ctx context.Context, fingerprint string) (*CreditsStatus, error) {
	url := c.baseURL + "/v1/credits"
	if fingerprint != "" {
		url += "?fingerprint=" + fingerprint
	}
	var status CreditsStatus
	if err := c.getJSON(ctx, url, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *HTTPCompareClient) Models(ctx context.Context) ([]ModelInfo, error) {
	var infos []ModelInfo
	if err := c.getJSON(ctx, c.baseURL+"/v1/models", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *HTTPCompareClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	// Non-streaming calls get a bounded deadline unlike c.http.
	short := &http.Client{Timeout: 30 * time.Second}
	resp, err := short.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPCompareClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
