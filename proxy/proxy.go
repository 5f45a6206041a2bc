// Package proxy is the single-hop relay to the resource-owning downstream
// services. It is not a state machine: a request goes out, the response
// comes back verbatim, and a transport failure is synthesized into a
// downstream-unreachable error instead of leaking low-level transport
// details to the caller.
package proxy

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"resty.dev/v3"
)

// Response is a downstream response captured for relay.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports whether the downstream answered with a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client calls one named downstream service. Every call carries a bounded
// timeout; there are no automatic retries — a failed call surfaces to the
// original caller.
type Client struct {
	name    string
	baseURL string
	http    *resty.Client
}

// NewClient creates a client for the named downstream at baseURL.
func NewClient(name, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    resty.New().SetTimeout(timeout),
	}
}

// Name returns the downstream service name, used in synthesized 502 bodies.
func (c *Client) Name() string {
	return c.name
}

// Close releases the underlying HTTP client.
func (c *Client) Close() error {
	return c.http.Close()
}

// Do performs a request against the downstream and returns its response.
// A non-nil error means the downstream could not be reached (connection
// refused, timeout); HTTP-level failures (4xx/5xx) come back as a Response
// and are the caller's to relay verbatim.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, headers http.Header, body []byte) (*Response, error) {
	req := c.http.R().SetContext(ctx)

	for key, values := range headers {
		for _, value := range values {
			req.SetHeader(key, value)
		}
	}
	if body != nil {
		req.SetBody(body)
		if headers.Get("Content-Type") == "" {
			req.SetHeader("Content-Type", "application/json")
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	res, err := req.Execute(method, u)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:      res.StatusCode(),
		ContentType: res.Header().Get("Content-Type"),
		Body:        res.Bytes(),
	}, nil
}

// Get is shorthand for a GET with no body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil, nil)
}

// Post is shorthand for a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, nil, nil, body)
}
