package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/courtside-data/cbbdx/pkg/metrics"
	"github.com/courtside-data/cbbdx/pkg/retry"
	"github.com/courtside-data/cbbdx/pkg/utils"
	"go.uber.org/zap"
)

// maxErrorBody caps how much of a failed response is kept on HTTPError.
const maxErrorBody = 512

// HTTPClient is a wrapper around an http.Client that composes a shared token bucket,
// a bounded concurrency gate and retry with jittered exponential backoff.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger

	limiter *Limiter
	gate    *Gate
	retry   retry.Config
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	BaseURL        string
	Token          string
	Timeout        time.Duration
	RPS            float64
	Burst          int
	MaxConcurrency int
	Retry          retry.Config
	HTTPClient     *http.Client
	Logger         *zap.Logger

	// Limiter and Gate may be shared across clients; nil builds private ones.
	Limiter *Limiter
	Gate    *Gate
}

// NewHTTPWithOpts creates a new HTTPClient with the given options.
func NewHTTPWithOpts(o Opts) *HTTPClient {
	if o.RPS <= 0 {
		o.RPS = 3
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.Config{
			MaxAttempts:   5,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      8 * time.Second,
			Multiplier:    2,
			JitterEnabled: true,
		}
	}
	o.Retry.ShouldRetry = IsRetryable
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	limiter := o.Limiter
	if limiter == nil {
		limiter = NewLimiter(o.RPS, o.Burst)
	}
	gate := o.Gate
	if gate == nil {
		gate = NewGate(o.MaxConcurrency)
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		token:   o.Token,
		client:  client,
		logger:  o.Logger,
		limiter: limiter,
		gate:    gate,
		retry:   o.Retry,
	}
}

// Fetch issues GET path?query and returns the JSON body. Retryable failures are retried up
// to the configured attempt budget; the terminal error can be inspected with Classify.
func (c *HTTPClient) Fetch(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.fetch(ctx, path, path, query)
}

// FetchEndpoint resolves {param} placeholders in the template from params and sends the
// remaining params as the query string. Metrics are labelled with the template.
func (c *HTTPClient) FetchEndpoint(ctx context.Context, template string, params map[string]any) (json.RawMessage, error) {
	path, query := ResolvePath(template, params)
	return c.fetch(ctx, template, path, query)
}

func (c *HTTPClient) fetch(ctx context.Context, label, path string, query url.Values) (json.RawMessage, error) {
	var body json.RawMessage
	_, err := retry.Do(ctx, c.retry, c.logger, "GET "+path, func() error {
		b, err := c.attempt(ctx, label, path, query)
		if err != nil {
			if IsRetryable(err) {
				metrics.RetriesTotal.WithLabelValues(label).Inc()
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(label, Classify(err).String()).Inc()
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(label, "ok").Inc()
	return body, nil
}

// attempt performs one request. Both the gate slot and a limiter token are taken before
// dispatch; the slot is returned on every exit path.
func (c *HTTPClient) attempt(ctx context.Context, label, path string, query url.Values) (json.RawMessage, error) {
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()
	started := time.Now()
	defer func() { metrics.RequestDuration.WithLabelValues(label).Observe(time.Since(started).Seconds()) }()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = utils.CloseBody(resp.Body) }()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(bz))) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(bz) {
		return nil, fmt.Errorf("GET %s: %w", path, ErrMalformedBody)
	}
	return json.RawMessage(bz), nil
}

var placeholder = regexp.MustCompile(`\{([^}]+)\}`)

// ResolvePath substitutes {name} segments of template with params and returns the
// remaining params as query values. Keys are emitted in sorted order.
func ResolvePath(template string, params map[string]any) (string, url.Values) {
	used := map[string]bool{}
	path := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok {
			return m
		}
		used[name] = true
		return url.PathEscape(fmt.Sprint(v))
	})
	query := url.Values{}
	for _, k := range utils.SortedKeys(params) {
		if used[k] || params[k] == nil {
			continue
		}
		query.Set(k, fmt.Sprint(params[k]))
	}
	return path, query
}

// Records decodes an API body into a list of loosely typed mappings. A single object
// becomes a one-element list; null and non-object list items are dropped. Numbers are
// kept as json.Number so integer identifiers never pass through float64.
func Records(body json.RawMessage) ([]map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{t}, nil
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode records: unexpected %T", v)
	}
}
