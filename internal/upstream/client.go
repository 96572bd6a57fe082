// Package upstream is the single point through which every provider call
// leaves the process. It owns credentials, request logging, rate-limit
// capture and the classification of failures into apierr kinds.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/n0madic/go-llmportal/internal/auth"
	"github.com/n0madic/go-llmportal/internal/codec"
	"github.com/n0madic/go-llmportal/internal/config"
	"github.com/n0madic/go-llmportal/internal/limits"
	"github.com/n0madic/go-llmportal/internal/logger"
)

const defaultTimeout = 120 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL      string
	Organization string
	Project      string
	Timeout      time.Duration
	TokenSource  oauth2.TokenSource
	// Base is the innermost RoundTripper; tests inject httptest transports here.
	Base    http.RoundTripper
	Logger  *logger.Logger
	Verbose bool
	Debug   bool
}

// Request is one upstream HTTP call.
type Request struct {
	Endpoint    string // logical name used in errors and logs, e.g. "chat"
	Method      string
	Path        string
	Body        []byte
	ContentType string
	Header      http.Header
}

// Response is a fully read upstream reply.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	RateLimits *limits.RateLimitSnapshot
}

// Client sends authenticated requests to an OpenAI-compatible API.
type Client struct {
	baseURL      string
	organization string
	project      string
	httpClient   *http.Client
	log          *logger.Logger
	verbose      bool
	debug        bool

	dumpMu sync.Mutex

	sdkOnce sync.Once
	sdk     *goopenai.Client
}

// NewClient builds a client. A nil TokenSource means every request fails
// with auth.ErrNoCredentials.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ts := opts.TokenSource
	if ts == nil {
		ts = auth.NewTokenSource(context.Background(), auth.Options{})
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	return &Client{
		baseURL:      baseURL,
		organization: opts.Organization,
		project:      opts.Project,
		httpClient:   auth.NewHTTPClient(ts, opts.Base, timeout),
		log:          logger.OrNop(opts.Logger).Named("upstream"),
		verbose:      opts.Verbose,
		debug:        opts.Debug,
	}
}

// BaseURL returns the normalized upstream base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the authenticated HTTP client shared with the SDKs.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// OpenAIClient returns a go-openai client that shares this transport. It is
// used for the assistant workflow and multipart uploads.
func (c *Client) OpenAIClient() *goopenai.Client {
	c.sdkOnce.Do(func() {
		cfg := goopenai.DefaultConfig("")
		cfg.BaseURL = c.baseURL
		cfg.OrgID = c.organization
		cfg.HTTPClient = c.httpClient
		c.sdk = goopenai.NewClientWithConfig(cfg)
	})
	return c.sdk
}

// Do sends req once. Statuses >= 400 come back as classified *apierr.Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Endpoint, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	config.ApplyDefaultHeaders(httpReq.Header, c.organization, c.project)
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	c.logRequest(req, method)
	c.dumpRequest(httpReq, req.Body)

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Warn("upstream.transport.failed",
			zap.String("endpoint", req.Endpoint),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return nil, Classify(req.Endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(req.Endpoint, fmt.Errorf("read response body: %w", err))
	}
	c.dumpResponse(resp, raw)

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       raw,
		Headers:    resp.Header,
		RateLimits: limits.RecordFromResponse(resp.Header),
	}
	c.logResponse(req, out, time.Since(started))

	if resp.StatusCode >= http.StatusBadRequest {
		return out, ClassifyResponse(req.Endpoint, out)
	}
	return out, nil
}

// PostJSON marshals payload, posts it to path and returns the response body.
func (c *Client) PostJSON(ctx context.Context, endpoint, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", endpoint, err)
	}
	return c.PostBody(ctx, endpoint, path, body)
}

// PostBody posts an already encoded JSON body.
func (c *Client) PostBody(ctx context.Context, endpoint, path string, body []byte) ([]byte, error) {
	resp, err := c.Do(ctx, Request{
		Endpoint:    endpoint,
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Get issues a GET with optional extra headers.
func (c *Client) Get(ctx context.Context, endpoint, path string, header http.Header) (*Response, error) {
	return c.Do(ctx, Request{Endpoint: endpoint, Method: http.MethodGet, Path: path, Header: header})
}

// Health probes GET /models.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Get(ctx, "health", "/models", nil)
	return err
}

func (c *Client) logRequest(req Request, method string) {
	fields := []zap.Field{
		zap.String("endpoint", req.Endpoint),
		zap.String("method", method),
		zap.String("path", req.Path),
		zap.Int("body_bytes", len(req.Body)),
	}
	if c.verbose {
		c.log.Info("upstream.request", fields...)
		return
	}
	c.log.Debug("upstream.request", fields...)
}

func (c *Client) logResponse(req Request, resp *Response, took time.Duration) {
	fields := []zap.Field{
		zap.String("endpoint", req.Endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", took),
	}
	if id := codec.RequestID(resp.Headers); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if rl := resp.RateLimits; rl != nil && rl.Requests != nil {
		fields = append(fields, zap.Int("ratelimit_remaining_requests", rl.Requests.Remaining))
	}
	if rl := resp.RateLimits; rl != nil && rl.Tokens != nil {
		fields = append(fields, zap.Int("ratelimit_remaining_tokens", rl.Tokens.Remaining))
	}
	switch {
	case resp.StatusCode >= http.StatusBadRequest:
		c.log.Warn("upstream.response", fields...)
	case c.verbose:
		c.log.Info("upstream.response", fields...)
	default:
		c.log.Debug("upstream.response", fields...)
	}
}
