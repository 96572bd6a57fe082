// Package responses drives the stateful Responses API: continuation
// tokens, reasoning parameters and hosted tool attachment.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	sdkresponses "github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/logger"
	"github.com/n0madic/go-llmportal/internal/models"
	"github.com/n0madic/go-llmportal/internal/reasoning"
	"github.com/n0madic/go-llmportal/internal/session"
	"github.com/n0madic/go-llmportal/internal/tools"
	"github.com/n0madic/go-llmportal/internal/tools/codeinterp"
	"github.com/n0madic/go-llmportal/internal/tools/websearch"
	"github.com/n0madic/go-llmportal/internal/transform"
	"github.com/n0madic/go-llmportal/internal/types"
)

const (
	Endpoint = "responses"
	Path     = "/responses"
)

// Poster sends an encoded JSON body and returns the response body.
type Poster interface {
	PostBody(ctx context.Context, endpoint, path string, body []byte) ([]byte, error)
}

// Handler sends Responses API requests and tracks continuation per
// conversation in the session store.
type Handler struct {
	client Poster
	store  session.Store
	log    *logger.Logger
}

// New returns a responses handler.
func New(client Poster, store session.Store, log *logger.Logger) *Handler {
	return &Handler{client: client, store: store, log: logger.OrNop(log).Named("responses")}
}

// Request is one responses turn. WebSearch and CodeInterpreter are nil for
// defaults or their Disabled sentinel to opt out.
type Request struct {
	ConversationID     string
	UserInput          types.Turn
	Model              string
	SystemMessage      string
	History            []types.Turn
	Temperature        *float64
	MaxTokens          int
	ContinuationToken  string
	Reasoning          *reasoning.Param
	WebSearch          *websearch.Config
	CodeInterpreter    *codeinterp.Config
	ForceCleanResponse bool
}

// State is the stored continuation for a conversation.
type State struct {
	TurnCount         int    `json:"turn_count"`
	ContinuationToken string `json:"continuation_token,omitempty"`
	HasState          bool   `json:"has_state"`
}

// Respond sends one turn. With a continuation token only the new user turn
// is sent; otherwise the system message, history and new turn are.
func (h *Handler) Respond(ctx context.Context, req Request) (*types.Result, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, apierr.New(apierr.KindValidation, Endpoint, "model is required")
	}
	model := models.NormalizeModelName(req.Model)
	caps := models.Classify(model)

	token := req.ContinuationToken
	if token == "" && req.ConversationID != "" {
		entry, err := h.store.Get(ctx, req.ConversationID)
		switch {
		case err == nil:
			token = entry.ContinuationToken
		case !errors.Is(err, session.ErrNotFound):
			return nil, fmt.Errorf("load session: %w", err)
		}
	}

	params := sdkresponses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Store: openai.Bool(true),
	}
	if token != "" {
		params.PreviousResponseID = openai.String(token)
		params.Input = sdkresponses.ResponseNewParamsInputUnion{
			OfInputItemList: transform.ResponsesInput("", nil, req.UserInput),
		}
	} else {
		params.Input = sdkresponses.ResponseNewParamsInputUnion{
			OfInputItemList: transform.ResponsesInput(req.SystemMessage, req.History, req.UserInput),
		}
	}
	if caps.Reasoning {
		params.Reasoning = reasoning.BuildReasoningParam(req.Reasoning, req.Model)
	} else if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}

	useWebSearch := caps.WebSearch == models.WebSearchResponses && !req.WebSearch.IsDisabled()
	useCode := caps.CodeInterpreter && !req.CodeInterpreter.IsDisabled()

	var codeCfg codeinterp.Config
	if useCode {
		if req.CodeInterpreter != nil {
			codeCfg = *req.CodeInterpreter
		}
		var warnings []string
		codeCfg, warnings = codeinterp.Validate(codeCfg)
		for _, w := range warnings {
			h.log.Warn("codeinterp.config.dropped", zap.String("model", model), zap.String("reason", w))
		}
		if codeCfg.Instructions != "" && token == "" && req.SystemMessage == "" {
			params.Instructions = openai.String(codeCfg.Instructions)
		}
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal responses request: %w", err)
	}
	if useWebSearch {
		cfg := websearch.Config{}
		if req.WebSearch != nil {
			cfg = *req.WebSearch
		}
		sanitized, warnings := websearch.Validate(cfg)
		for _, w := range warnings {
			h.log.Warn("websearch.config.dropped", zap.String("model", model), zap.String("reason", w))
		}
		if body, err = websearch.AttachResponses(body, sanitized); err != nil {
			return nil, fmt.Errorf("attach web search: %w", err)
		}
	}
	if useCode {
		if body, err = codeinterp.Attach(body, codeCfg); err != nil {
			return nil, fmt.Errorf("attach code interpreter: %w", err)
		}
	}

	h.log.Debug("responses.request",
		zap.String("model", model),
		zap.String("conversation_id", req.ConversationID),
		zap.Bool("continuation", token != ""),
		zap.Bool("web_search", useWebSearch),
		zap.Bool("code_interpreter", useCode),
		zap.Int("tools", tools.Count(body)),
	)
	raw, err := h.client.PostBody(ctx, Endpoint, Path, body)
	if err != nil {
		return nil, err
	}

	env, err := types.DecodeResponse(raw)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUpstream, Endpoint, err)
	}
	if env.Status == "failed" {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = "response failed"
		}
		return nil, apierr.New(apierr.KindUpstream, Endpoint, "%s", msg)
	}

	reasoningText, answer := transform.ExtractResponseContent(env.Output)
	content := answer
	if !req.ForceCleanResponse {
		content = transform.FormatReasoningResponse(req.Reasoning.DisplayMode(), reasoningText, answer)
	}
	result := &types.Result{
		Content:           content,
		Response:          answer,
		Reasoning:         reasoningText,
		Usage:             env.Usage,
		ContinuationToken: env.ID,
		ConversationID:    req.ConversationID,
		Model:             model,
		Handler:           types.HandlerResponses,
	}
	result.Citations, result.WebSearchUsed = websearch.ResponseCitations(env.Output)
	if useCode {
		code := codeinterp.Extract(env.Output)
		if code.Used() {
			result.CodeInterpreterUsed = true
			result.CodeExecutions = code.Executions
			result.GeneratedFiles = code.GeneratedFiles
			result.ContainerID = code.ContainerID
		}
	}

	if req.ConversationID != "" && env.ID != "" {
		entry, err := h.store.Update(ctx, req.ConversationID, func(e *session.Entry) {
			e.ContinuationToken = env.ID
			e.TurnCount++
		})
		if err != nil {
			h.log.Warn("responses.session.save_failed", zap.String("conversation_id", req.ConversationID), zap.Error(err))
		} else {
			h.log.Debug("responses.session.saved",
				zap.String("conversation_id", req.ConversationID),
				zap.Int("turn", entry.TurnCount),
			)
		}
	}
	return result, nil
}

// State reports the stored continuation for conversationID.
func (h *Handler) State(ctx context.Context, conversationID string) (State, error) {
	entry, err := h.store.Get(ctx, conversationID)
	if errors.Is(err, session.ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	return State{
		TurnCount:         entry.TurnCount,
		ContinuationToken: entry.ContinuationToken,
		HasState:          entry.ContinuationToken != "",
	}, nil
}

// Reset drops the continuation for conversationID, keeping any assistant
// state.
func (h *Handler) Reset(ctx context.Context, conversationID string) error {
	_, err := h.store.Update(ctx, conversationID, func(e *session.Entry) {
		e.ContinuationToken = ""
		e.TurnCount = 0
	})
	return err
}
