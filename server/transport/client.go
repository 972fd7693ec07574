// Package transport is the outbound HTTP primitive shared by every provider
// adapter. It signs requests, encodes JSON or multipart bodies, applies a
// fixed per-call timeout and turns transport failures into network errors.
// Status codes are not interpreted here; adapters classify them.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single provider call. Retries do not extend it.
const DefaultTimeout = 120 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 32 << 20

// Signer adds credentials to an outgoing request.
type Signer func(*http.Request)

// BearerAuth signs requests with an Authorization: Bearer header.
func BearerAuth(key string) Signer {
	tok := &oauth2.Token{AccessToken: key, TokenType: "Bearer"}
	return func(r *http.Request) {
		tok.SetAuthHeader(r)
	}
}

// HeaderAuth sets fixed headers, e.g. x-api-key for Anthropic.
func HeaderAuth(headers map[string]string) Signer {
	return func(r *http.Request) {
		for k, v := range headers {
			r.Header.Set(k, v)
		}
	}
}

// Response is a fully read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// FilePart is the file field of a multipart upload.
type FilePart struct {
	Field    string
	Filename string
	Data     io.Reader
}

// Client sends requests with a fixed timeout.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a transport client.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-call bound.
func (c *Client) Timeout() time.Duration { return c.timeout }

// PostJSON marshals payload and posts it to url.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, signers ...Signer) (*Response, *errors.RelayError) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewError(errors.InternalError, "failed to encode request", 0, "", nil, err)
	}
	return c.do(ctx, http.MethodPost, url, "application/json", bytes.NewReader(body), signers)
}

// PostMultipart sends form fields and one file as multipart/form-data.
func (c *Client) PostMultipart(ctx context.Context, url string, fields map[string]string, file FilePart, signers ...Signer) (*Response, *errors.RelayError) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, errors.NewError(errors.InternalError, "failed to encode form", 0, "", nil, err)
		}
	}
	fw, err := w.CreateFormFile(file.Field, file.Filename)
	if err != nil {
		return nil, errors.NewError(errors.InternalError, "failed to encode form", 0, "", nil, err)
	}
	if _, err := io.Copy(fw, file.Data); err != nil {
		return nil, errors.NewError(errors.InternalError, "failed to encode form", 0, "", nil, err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.NewError(errors.InternalError, "failed to encode form", 0, "", nil, err)
	}
	return c.do(ctx, http.MethodPost, url, w.FormDataContentType(), &buf, signers)
}

// Get fetches url.
func (c *Client) Get(ctx context.Context, url string, signers ...Signer) (*Response, *errors.RelayError) {
	return c.do(ctx, http.MethodGet, url, "", nil, signers)
}

func (c *Client) do(ctx context.Context, method, url, contentType string, body io.Reader, signers []Signer) (*Response, *errors.RelayError) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errors.NewNetworkError(fmt.Sprintf("invalid request url %q", url), err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, sign := range signers {
		sign(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed",
			zap.String("method", method),
			zap.String("host", req.URL.Host),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, upstream(errors.NewNetworkError(describe(err, req.URL.Host), err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, upstream(errors.NewNetworkError(fmt.Sprintf("failed to read response from %s", req.URL.Host), err))
	}

	c.logger.Debug("provider request completed",
		zap.String("method", method),
		zap.String("host", req.URL.Host),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// upstream marks a failure of the remote host itself.
func upstream(e *errors.RelayError) *errors.RelayError {
	e.Upstream = true
	return e
}

func describe(err error, host string) string {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("request to %s timed out", host)
	}
	if stderrors.As(err, new(*net.DNSError)) {
		return fmt.Sprintf("could not resolve %s", host)
	}
	return fmt.Sprintf("request to %s failed", host)
}
