package imageserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 10 * time.Second

	// maxResponseSize bounds the body read from the service.
	maxResponseSize = 64 << 10
)

// Client requests observation ids over HTTP.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a client for the service at baseURL. A non-positive timeout
// uses the default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		url:        strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// URL returns the service base URL.
func (c *Client) URL() string {
	return c.url
}

// NextObsIDs allocates n observation ids for the given source ("Block")
// and source id.
func (c *Client) NextObsIDs(ctx context.Context, source string, id, n int) ([]string, error) {
	q := url.Values{}
	q.Set("source", source)
	q.Set("id", strconv.Itoa(id))
	q.Set("n", strconv.Itoa(n))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/getNextObsId?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrRequestFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if len(ids) < n {
		return nil, fmt.Errorf("%w: asked for %d ids, got %d", ErrBadResponse, n, len(ids))
	}
	return ids, nil
}
