// Package chat sends stateless chat completion requests.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/logger"
	"github.com/n0madic/go-llmportal/internal/models"
	"github.com/n0madic/go-llmportal/internal/tools/websearch"
	"github.com/n0madic/go-llmportal/internal/transform"
	"github.com/n0madic/go-llmportal/internal/types"
)

const (
	Endpoint = "chat"
	Path     = "/chat/completions"

	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

// Poster sends an encoded JSON body and returns the response body.
type Poster interface {
	PostBody(ctx context.Context, endpoint, path string, body []byte) ([]byte, error)
}

// Handler talks to the chat completions endpoint.
type Handler struct {
	client Poster
	log    *logger.Logger
}

// New returns a chat handler.
func New(client Poster, log *logger.Logger) *Handler {
	return &Handler{client: client, log: logger.OrNop(log).Named("chat")}
}

// Request is one chat turn. History, when set, receives the user and
// assistant turns. WebSearch is nil for defaults or websearch.Disabled to
// opt out.
type Request struct {
	UserInput     types.Turn
	Model         string
	History       *[]types.Turn
	SystemMessage string
	Temperature   *float64
	MaxTokens     int
	WebSearch     *websearch.Config
}

// Complete sends one chat completion request. No retries are made.
func (h *Handler) Complete(ctx context.Context, req Request) (*types.Result, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, apierr.New(apierr.KindValidation, Endpoint, "model is required")
	}
	caps := models.Classify(req.Model)

	var history []types.Turn
	if req.History != nil {
		history = *req.History
	}
	history = append(history, req.UserInput)
	if req.History != nil {
		*req.History = history
	}

	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(req.Model),
		Messages:  transform.ForChat(req.SystemMessage, history),
		MaxTokens: openai.Int(int64(maxTokens)),
	}
	webSearch := caps.WebSearch == models.WebSearchChat && !req.WebSearch.IsDisabled()
	// Search-preview models reject sampling parameters.
	if !webSearch {
		params.Temperature = openai.Float(temperature)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	if webSearch {
		cfg := websearch.Config{}
		if req.WebSearch != nil {
			cfg = *req.WebSearch
		}
		sanitized, warnings := websearch.Validate(cfg)
		for _, w := range warnings {
			h.log.Warn("websearch.config.dropped", zap.String("model", req.Model), zap.String("reason", w))
		}
		if body, err = websearch.AttachChat(body, sanitized); err != nil {
			return nil, fmt.Errorf("attach web search: %w", err)
		}
	}

	h.log.Debug("chat.request",
		zap.String("model", req.Model),
		zap.Int("messages", len(history)),
		zap.Bool("web_search", webSearch),
	)
	raw, err := h.client.PostBody(ctx, Endpoint, Path, body)
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(raw)
	message := root.Get("choices.0.message")
	if !message.Exists() {
		return nil, apierr.New(apierr.KindUpstream, Endpoint, "response has no choices")
	}
	content := message.Get("content").String()

	result := &types.Result{
		Content:  content,
		Response: content,
		Usage:    types.UsageFrom(root.Get("usage")),
		Model:    req.Model,
		Handler:  types.HandlerChat,
	}
	if webSearch {
		result.Citations = websearch.ChatCitations(types.DecodeAnnotations(message.Get("annotations")))
		result.WebSearchUsed = len(result.Citations) > 0
	}

	history = append(history, types.TextTurn(types.RoleAssistant, content))
	if req.History != nil {
		*req.History = history
	}
	result.History = history
	return result, nil
}
