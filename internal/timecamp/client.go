// Package timecamp reads time records from the TimeCamp third-party API.
//
// The Client handles transport concerns (auth, pacing, retries). The Fetcher
// builds on it to paginate entries and enrich them with user and group
// hierarchy metadata.
package timecamp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/timecampetl/internal/common"
	"github.com/dmitrijs2005/timecampetl/internal/logging"
	"github.com/dmitrijs2005/timecampetl/internal/metrics"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// StatusError is an HTTP response outside the 2xx range.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Options configures a Client.
type Options struct {
	Domain            string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             RetryPolicy
	// BaseURL overrides https://{Domain}/third_party/api.
	BaseURL    string
	HTTPClient *http.Client
}

// Client issues authenticated, paced and retried requests.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	policy  RetryPolicy
	log     logging.Logger
}

// NewClient builds a Client from opts.
func NewClient(opts Options, log logging.Logger) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, fmt.Errorf("%w: missing api token", common.ErrInvalidConfig)
	}

	base := opts.BaseURL
	if base == "" {
		domain := opts.Domain
		if domain == "" {
			domain = common.DefaultDomain
		}
		base = fmt.Sprintf("https://%s/third_party/api", domain)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		token:   opts.Token,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		policy:  opts.Retry,
		log:     log,
	}, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// get performs GET path?query under the retry policy. Non-retriable and
// exhausted failures are wrapped in common.ErrSourceUnavailable.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*response, error) {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	endpoint := endpointName(path)

	var (
		out     *response
		attempt int
	)

	err := retry.Do(ctx, c.policy.backoff(), func(ctx context.Context) error {
		attempt++

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		c.log.Debug(ctx, "api request", "method", http.MethodGet, "url", u, "attempt", attempt)

		resp, err := c.once(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Timeouts and transport failures are all worth another try.
			metrics.APIRetry("transport")
			c.log.Warn(ctx, "transient api error", "path", path, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}

		c.log.Debug(ctx, "api response", "path", path, "status", resp.status, "bytes", len(resp.body))

		switch {
		case resp.status == http.StatusTooManyRequests:
			wait := c.policy.rateLimitWait(resp.header, attempt)
			metrics.APIRetry("rate_limited")
			c.log.Warn(ctx, "rate limited", "path", path, "attempt", attempt, "wait", wait.String())
			if attempt < c.policy.attempts() {
				if err := sleep(ctx, wait); err != nil {
					return err
				}
			}
			return retry.RetryableError(c.statusError(path, resp))
		case resp.status >= 500:
			metrics.APIRetry("server_error")
			c.log.Warn(ctx, "server error", "path", path, "attempt", attempt, "status", resp.status)
			if resp.header.Get("Retry-After") != "" && attempt < c.policy.attempts() {
				if err := sleep(ctx, c.policy.rateLimitWait(resp.header, attempt)); err != nil {
					return err
				}
			}
			return retry.RetryableError(c.statusError(path, resp))
		case resp.status >= 400:
			return c.statusError(path, resp)
		}

		out = resp
		return nil
	})

	if err != nil {
		metrics.APIRequest(endpoint, "error")
		return nil, fmt.Errorf("%w: GET %s after %d attempt(s): %w", common.ErrSourceUnavailable, path, attempt, err)
	}

	metrics.APIRequest(endpoint, "ok")
	return out, nil
}

func (c *Client) once(ctx context.Context, u string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// getJSON decodes a successful response body into v. Empty bodies and 204
// leave v untouched.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) (*response, error) {
	resp, err := c.get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNoContent || len(strings.TrimSpace(string(resp.body))) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", common.ErrSchemaMismatch, path, err)
	}
	return resp, nil
}

func (c *Client) statusError(path string, resp *response) *StatusError {
	body := string(resp.body)
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{Method: http.MethodGet, Path: path, Code: resp.status, Body: body}
}

// IsNotFound reports whether err carries a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

func endpointName(path string) string {
	p := strings.Trim(path, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
