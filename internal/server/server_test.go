package server

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/n0madic/go-llmportal/internal/assistant"
	"github.com/n0madic/go-llmportal/internal/audio"
	"github.com/n0madic/go-llmportal/internal/auth"
	"github.com/n0madic/go-llmportal/internal/chat"
	"github.com/n0madic/go-llmportal/internal/config"
	"github.com/n0madic/go-llmportal/internal/image"
	"github.com/n0madic/go-llmportal/internal/models"
	"github.com/n0madic/go-llmportal/internal/orchestrator"
	"github.com/n0madic/go-llmportal/internal/responses"
	"github.com/n0madic/go-llmportal/internal/session"
	"github.com/n0madic/go-llmportal/internal/upstream"
)

// fakeUpstream answers the OpenAI endpoints the handlers call and records
// the paths it saw.
type fakeUpstream struct {
	mu         sync.Mutex
	paths      []string
	modelsFail bool
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	modelsFail := f.modelsFail
	f.mu.Unlock()

	switch r.URL.Path {
	case "/models":
		if modelsFail {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":{"message":"maintenance"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"gpt-4o","object":"model","owned_by":"openai"},{"id":"o3-mini","object":"model"}]}`))
	case "/chat/completions":
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi there"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	case "/responses":
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"resp_1","status":"completed","output":[
			{"type":"message","role":"assistant","content":[{"type":"output_text","text":"4"}]}]}`))
	case "/images/generations":
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"b64_json":"aW1n"}]}`))
	case "/audio/speech":
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-audio"))
	case "/audio/transcriptions":
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello world"}`))
	case "/files":
		_, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"no file"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"file_1","object":"file","bytes":5,"filename":"` + header.Filename + `","purpose":"` + r.FormValue("purpose") + `"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"unknown path"}}`))
	}
}

func (f *fakeUpstream) saw(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.paths {
		if p == path {
			return true
		}
	}
	return false
}

type testEnv struct {
	srv      *Server
	upstream *fakeUpstream
	store    session.Store
}

func newTestEnv(t *testing.T, cfg config.ServerConfig) *testEnv {
	t.Helper()
	t.Setenv("LLMPORTAL_HOME", t.TempDir())

	fu := &fakeUpstream{}
	up := httptest.NewServer(fu)
	t.Cleanup(up.Close)

	client := upstream.NewClient(upstream.Options{
		BaseURL:     up.URL,
		TokenSource: auth.NewTokenSource(context.Background(), auth.Options{APIKey: "sk-test"}),
		Timeout:     5 * time.Second,
	})
	store := session.NewMemoryStore(time.Hour, 100)
	chatHandler := chat.New(client, nil)
	orch := orchestrator.New(orchestrator.Deps{
		Chat:      chatHandler,
		Responses: responses.New(client, store, nil),
		Image:     image.New(client, chatHandler, nil),
		Audio:     audio.New(client.OpenAIClient(), client, nil),
		Assistant: assistant.New(client.OpenAIClient(), store, config.AssistantConfig{PollInterval: time.Millisecond}, nil),
		Store:     store,
		Upstream:  client,
	})
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
		cfg.Port = 8000
	}
	srv := New(Options{
		Config:       &cfg,
		Orchestrator: orch,
		Registry:     models.NewRegistry(client, time.Minute, nil),
		Store:        store,
		Locker:       session.NewLocker(),
	})
	return &testEnv{srv: srv, upstream: fu, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())

	env.upstream.mu.Lock()
	env.upstream.modelsFail = true
	env.upstream.mu.Unlock()

	rec = env.do(t, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", gjson.Get(rec.Body.String(), "status").String())
	assert.NotEmpty(t, gjson.Get(rec.Body.String(), "error").String())
}

func TestAccessToken(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{AccessToken: "secret"})

	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/stats", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, serverAccessTokenError, gjson.Get(rec.Body.String(), "error.message").String())
	assert.Equal(t, "authentication", gjson.Get(rec.Body.String(), "error.type").String())

	rec = env.do(t, http.MethodGet, "/v1/stats", "", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/stats", "", http.Header{"Authorization": {"Bearer secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{AccessToken: "secret"})

	rec := env.do(t, http.MethodOptions, "/v1/dispatch", "", http.Header{"Access-Control-Request-Headers": {"X-Custom"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Custom", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestDispatchChat(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodPost, "/v1/dispatch",
		`{"conversationId":"c1","modelId":"gpt-4","userInput":"hi"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Equal(t, "Hi there", gjson.Get(body, "content").String())
	assert.Equal(t, "chat", gjson.Get(body, "handler").String())
	assert.Equal(t, "c1", gjson.Get(body, "conversation_id").String())
	assert.True(t, env.upstream.saw("/chat/completions"))
}

func TestDispatchResponsesAssignsConversation(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodPost, "/v1/dispatch", `{"modelId":"o3-mini","userInput":"2+2?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Equal(t, "4", gjson.Get(body, "content").String())
	assert.Equal(t, "responses", gjson.Get(body, "handler").String())
	conv := gjson.Get(body, "conversation_id").String()
	require.NotEmpty(t, conv)

	entry, err := env.store.Get(context.Background(), conv)
	require.NoError(t, err)
	assert.Equal(t, "resp_1", entry.ContinuationToken)
}

func TestDispatchRejects(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{name: "media only model", body: `{"modelId":"dall-e-3","userInput":"draw"}`, status: http.StatusBadRequest, kind: "wrong_handler"},
		{name: "unknown model", body: `{"modelId":"claude-3-opus","userInput":"hi"}`, status: http.StatusBadRequest, kind: "unsupported_model"},
		{name: "missing input", body: `{"modelId":"gpt-4"}`, status: http.StatusBadRequest, kind: "validation_error"},
		{name: "invalid json", body: `{"modelId":`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/dispatch", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, gjson.Get(rec.Body.String(), "error.type").String())
			}
			assert.NotEmpty(t, gjson.Get(rec.Body.String(), "error.message").String())
		})
	}
}

func TestImages(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodPost, "/v1/images", `{"prompt":"a cat","enhancePrompt":false}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Equal(t, "aW1n", gjson.Get(body, "imageData").String())
	assert.Equal(t, image.ModelGPTImage, gjson.Get(body, "modelUsed").String())
	assert.False(t, gjson.Get(body, "usedFallback").Bool())
	assert.False(t, env.upstream.saw("/chat/completions"))
}

func TestImagesRejectsInvalidOptions(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodPost, "/v1/images", `{"prompt":"a cat","preferredModel":"dall-e-2","quality":"hd"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", gjson.Get(rec.Body.String(), "error.type").String())
	assert.Contains(t, gjson.Get(rec.Body.String(), "error.message").String(), "Invalid quality 'hd'")
	assert.False(t, env.upstream.saw("/images/generations"))
}

func TestSpeech(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodPost, "/v1/audio/speech", `{"text":"Hello there","voice":"alloy"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, audio.ModelGPT4oMiniTTS, rec.Header().Get("X-Model-Used"))
	assert.Equal(t, "alloy", rec.Header().Get("X-Voice"))
	assert.Equal(t, "ID3-audio", rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/audio/speech", `{"text":"Hello","voice":"robot"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTranscription(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "meeting_notes.mp3")
	require.NoError(t, err)
	fw.Write([]byte("fake mp3 bytes"))
	require.NoError(t, mw.WriteField("usePrompting", "false"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, audio.TranscriptPrefix+"hello world", gjson.Get(rec.Body.String(), "text").String())
	assert.Equal(t, "hello world", gjson.Get(rec.Body.String(), "rawText").String())
}

func TestTranscriptionRequiresFile(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodPost, "/v1/audio/transcriptions", `{"file":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetConversation(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodPost, "/v1/dispatch", `{"conversationId":"conv-r","modelId":"o3-mini","userInput":"hi"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "sessions").Int())
	assert.Greater(t, gjson.Get(rec.Body.String(), "total").Int(), int64(0))

	rec = env.do(t, http.MethodDelete, "/v1/conversations/conv-r", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "reset").Bool())

	_, err := env.store.Get(context.Background(), "conv-r")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestModelsAndCapabilities(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodGet, "/v1/models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gpt-4o", gjson.Get(rec.Body.String(), "data.0.id").String())

	rec = env.do(t, http.MethodGet, "/v1/models/o3-mini/capabilities", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, gjson.Get(body, "known").Bool())
	assert.True(t, gjson.Get(body, "capabilities.reasoning").Bool())
	assert.Equal(t, "responses", gjson.Get(body, "route.target").String())
	assert.Equal(t, "o3-mini", gjson.Get(body, "remote.id").String())

	rec = env.do(t, http.MethodGet, "/v1/models/dall-e-3/capabilities", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.NotEmpty(t, gjson.Get(body, "routeError").String())
	assert.True(t, gjson.Get(body, "image.imageGeneration").Bool())
	assert.False(t, gjson.Get(body, "route").Exists())

	rec = env.do(t, http.MethodGet, "/v1/models/gpt-9-turbo/capabilities", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.False(t, gjson.Get(body, "known").Bool())
	assert.True(t, gjson.Get(body, "route.bestEffort").Bool())
}

func TestConversationStateAndScopedReset(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodPost, "/v1/dispatch", `{"conversationId":"conv-s","modelId":"o3-mini","userInput":"hi"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/conversations/conv-s", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "conv-s", gjson.Get(body, "conversationId").String())
	assert.Equal(t, "resp_1", gjson.Get(body, "responses.continuation_token").String())
	assert.Equal(t, int64(1), gjson.Get(body, "responses.turn_count").Int())
	assert.False(t, gjson.Get(body, "assistant.hasThread").Bool())

	rec = env.do(t, http.MethodDelete, "/v1/conversations/conv-s?scope=responses", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "responses", gjson.Get(rec.Body.String(), "scope").String())

	rec = env.do(t, http.MethodGet, "/v1/conversations/conv-s", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "responses.has_state").Bool())
	_, err := env.store.Get(context.Background(), "conv-s")
	assert.NoError(t, err)

	rec = env.do(t, http.MethodDelete, "/v1/conversations/conv-s?scope=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnhancePromptRoute(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodPost, "/v1/prompts/enhance", `{"prompt":"a cat","kind":"creative"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Equal(t, "Hi there", gjson.Get(body, "enhanced").String())
	assert.True(t, gjson.Get(body, "changed").Bool())
	assert.True(t, env.upstream.saw("/chat/completions"))

	rec = env.do(t, http.MethodPost, "/v1/prompts/enhance", `{"prompt":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssistantFileUpload(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "data.csv")
	require.NoError(t, err)
	fw.Write([]byte("a,b\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/assistant/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Equal(t, "file_1", gjson.Get(body, "id").String())
	assert.Equal(t, "data.csv", gjson.Get(body, "filename").String())
	assert.Equal(t, "assistants", gjson.Get(body, "purpose").String())
	assert.True(t, env.upstream.saw("/files"))

	rec = env.do(t, http.MethodPost, "/v1/assistant/files", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssistantMessagesWithoutThread(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodGet, "/v1/assistant/nope/messages", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", gjson.Get(rec.Body.String(), "error.type").String())

	rec = env.do(t, http.MethodPost, "/v1/assistant/messages", `{"conversationId":"a1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	rec := env.do(t, http.MethodGet, "/v1/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, gjson.Get(rec.Body.String(), "error.message").String())

	rec = env.do(t, http.MethodGet, "/v1/dispatch", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "error.message").String(), "not allowed")

	rec = env.do(t, http.MethodPut, "/v1/conversations/c1", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(t, http.MethodPost, "/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDebugDump(t *testing.T) {
	var buf bytes.Buffer
	orig := debugOut
	debugOut = &buf
	t.Cleanup(func() { debugOut = orig })

	env := newTestEnv(t, config.ServerConfig{Debug: true, Verbose: true})
	rec := env.do(t, http.MethodPost, "/v1/dispatch", `{"modelId":"gpt-4","userInput":"dump me"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	out := buf.String()
	assert.Contains(t, out, "===== INBOUND REQUEST BEGIN =====")
	assert.Contains(t, out, "dump me")
	assert.Contains(t, out, "===== INBOUND REQUEST END =====")
}

func TestConversationLockSerialises(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	unlock, err := env.srv.locker.Lock(context.Background(), "busy")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/dispatch",
		strings.NewReader(`{"conversationId":"busy","modelId":"gpt-4","userInput":"hi"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "timeout", gjson.Get(rec.Body.String(), "error.type").String())
	assert.False(t, env.upstream.saw("/chat/completions"))

	unlock()
	assert.Equal(t, 0, env.srv.locker.Held())
}
