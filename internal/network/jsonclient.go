// File: internal/network/jsonclient.go
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

// StatusError is a non-2xx reply.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Temporary reports whether a retry may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// JSONClient sends JSON requests to one base URL, rate limited and retried.
type JSONClient struct {
	http       *http.Client
	base       *url.URL
	limiter    *rate.Limiter
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// JSONClientOption customizes a JSONClient.
type JSONClientOption func(*JSONClient)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(c *http.Client) JSONClientOption {
	return func(j *JSONClient) { j.http = c }
}

// WithRateLimit caps requests per second; zero or less is unlimited.
func WithRateLimit(rps float64) JSONClientOption {
	return func(j *JSONClient) {
		if rps > 0 {
			j.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetries sets how often temporary failures are retried.
func WithRetries(n uint64) JSONClientOption {
	return func(j *JSONClient) { j.maxRetries = n }
}

// NewJSONClient parses baseURL and applies the options.
func NewJSONClient(baseURL string, logger *zap.Logger, opts ...JSONClientOption) (*JSONClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid service base URL %q", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &JSONClient{
		base:       u,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		maxRetries: 2,
		logger:     logger.Named("jsonclient"),
	}
	j.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		return b
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.http == nil {
		cfg := NewDefaultClientConfig()
		cfg.Logger = j.logger
		j.http = NewClient(cfg)
	}
	return j, nil
}

// Do sends in as the JSON body (nil for none) and decodes the reply into out
// (nil to discard). path is joined to the base URL; query may be nil.
func (j *JSONClient) Do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := j.base.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request for %s: %w", target.Path, err)
		}
	}

	var body []byte
	op := func() error {
		if err := j.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, err := j.send(ctx, method, target.String(), payload)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Temporary() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			j.logger.Debug("Retrying service request.", zap.String("url", target.String()), zap.Error(err))
			return err
		}
		body = b
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(j.newBackOff(), j.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", target.Path, err)
	}
	return nil
}

func (j *JSONClient) send(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := j.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

// Get fetches an absolute URL and returns the raw body.
func (j *JSONClient) Get(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := j.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, "", err
	}
	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, final, &StatusError{Method: http.MethodGet, URL: rawURL, Code: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, final, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
