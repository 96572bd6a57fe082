package upstream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/n0madic/go-llmportal/internal/apierr"
)

func newTestClient(t *testing.T, url string, opts ...func(*Options)) *Client {
	t.Helper()
	t.Setenv("LLMPORTAL_HOME", t.TempDir())
	o := Options{
		BaseURL:     url,
		Timeout:     5 * time.Second,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "sk-test"}),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return NewClient(o)
}

func TestClassificationTable(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind apierr.Kind
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, apierr.KindAuthentication},
		{"rate limited", 429, `{"error":{"message":"slow down","code":"rate_limit_exceeded"}}`, apierr.KindRateLimit},
		{"quota on 429", 429, `{"error":{"message":"no credit","code":"insufficient_quota"}}`, apierr.KindQuotaExceeded},
		{"quota on 403", 403, `{"error":{"message":"no credit","code":"quota_exceeded"}}`, apierr.KindQuotaExceeded},
		{"plain forbidden", 403, `{"error":{"message":"nope"}}`, apierr.KindUpstream},
		{"server error", 503, `overloaded`, apierr.KindServerError},
		{"bad request", 400, `{"error":{"message":"bad param"}}`, apierr.KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("x-request-id", "req_abc")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).PostJSON(context.Background(), "chat", "/chat/completions", map[string]string{"model": "gpt-4o"})
			require.Error(t, err)

			var e *apierr.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.status, e.StatusCode)
			assert.Equal(t, "chat", e.Endpoint)
			assert.Equal(t, "req_abc", e.RequestID)
			assert.Contains(t, e.Error(), "Upstream returned HTTP")
		})
	}
}

func TestRateLimitErrorCarriesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-limit-requests", "100")
		w.Header().Set("x-ratelimit-remaining-requests", "0")
		w.Header().Set("x-ratelimit-reset-requests", "2s")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).PostBody(context.Background(), "responses", "/responses", []byte(`{}`))
	require.True(t, errors.Is(err, apierr.RateLimit))

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	require.NotNil(t, rl.Snapshot)
	assert.Equal(t, "2s", rl.RetryAfter)
}

func TestSuccessSendsBearerAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "org-9", r.Header.Get("OpenAI-Organization"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "llmportal/"))
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/v1/", func(o *Options) { o.Organization = "org-9" })
	body, err := c.PostJSON(context.Background(), "chat", "/chat/completions", map[string]any{"model": "gpt-4o"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestMissingCredentialsIsAuthentication(t *testing.T) {
	t.Setenv("LLMPORTAL_HOME", t.TempDir())
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL})
	_, err := c.PostJSON(context.Background(), "chat", "/chat/completions", map[string]any{})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindAuthentication))
	assert.False(t, called)
}

func TestDeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, srv.URL).Get(ctx, "models", "/models", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierr.Timeout))
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(t, srv.URL).Health(context.Background()))
}

func TestOpenAIClientSharesTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.OpenAIClient().RetrieveAssistant(context.Background(), "asst_1")
	require.Error(t, err)

	classified := Classify("assistant", err)
	assert.True(t, apierr.IsKind(classified, apierr.KindAuthentication))
	assert.Same(t, c.OpenAIClient(), c.OpenAIClient())
}

func TestClassifySDKErrors(t *testing.T) {
	quota := &goopenai.APIError{HTTPStatusCode: 429, Code: "insufficient_quota", Message: "out of credit"}
	assert.True(t, apierr.IsKind(Classify("audio", quota), apierr.KindQuotaExceeded))

	server := &goopenai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}
	assert.True(t, apierr.IsKind(Classify("audio", server), apierr.KindServerError))

	already := apierr.New(apierr.KindJobFailed, "assistant", "run failed")
	assert.Same(t, error(already), Classify("audio", already))

	assert.True(t, apierr.IsKind(Classify("chat", errors.New("dial tcp: refused")), apierr.KindUpstream))
	assert.NoError(t, Classify("chat", nil))
	assert.ErrorIs(t, Classify("chat", context.Canceled), context.Canceled)
}

func TestDebugDump(t *testing.T) {
	var buf bytes.Buffer
	orig := debugOut
	debugOut = &buf
	t.Cleanup(func() { debugOut = orig })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(o *Options) { o.Debug = true })
	_, err := c.Get(context.Background(), "models", "/models", nil)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "===== UPSTREAM REQUEST GET /models BEGIN =====")
	assert.Contains(t, out, "===== UPSTREAM RESPONSE status=200 END =====")
	assert.Contains(t, out, `{"data":[]}`)
}
