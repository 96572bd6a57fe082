// Package orchestrator routes generic chat payloads to the chat or
// responses handler by model capability and fronts the media and
// assistant handlers.
package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/assistant"
	"github.com/n0madic/go-llmportal/internal/audio"
	"github.com/n0madic/go-llmportal/internal/chat"
	"github.com/n0madic/go-llmportal/internal/image"
	"github.com/n0madic/go-llmportal/internal/logger"
	"github.com/n0madic/go-llmportal/internal/models"
	"github.com/n0madic/go-llmportal/internal/reasoning"
	"github.com/n0madic/go-llmportal/internal/responses"
	"github.com/n0madic/go-llmportal/internal/session"
	"github.com/n0madic/go-llmportal/internal/types"
)

// ChatCompleter is the stateless chat handler.
type ChatCompleter interface {
	Complete(ctx context.Context, req chat.Request) (*types.Result, error)
}

// Responder is the stateful responses handler.
type Responder interface {
	Respond(ctx context.Context, req responses.Request) (*types.Result, error)
	State(ctx context.Context, conversationID string) (responses.State, error)
	Reset(ctx context.Context, conversationID string) error
}

// PromptEnhancer rewrites a prompt through an auxiliary model. The chat
// handler satisfies it.
type PromptEnhancer interface {
	EnhancePrompt(ctx context.Context, prompt, kind string) string
}

// HealthChecker probes the upstream.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the handlers the orchestrator fronts. Image, Audio and
// Assistant may be nil when those features are not wired.
type Deps struct {
	Chat      ChatCompleter
	Responses Responder
	Image     *image.Handler
	Audio     *audio.Handler
	Assistant *assistant.Handler
	Store     session.Store
	Upstream  HealthChecker
	Log       *logger.Logger
}

// Orchestrator dispatches payloads.
type Orchestrator struct {
	deps Deps
	log  *logger.Logger
}

// New returns an orchestrator over deps.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps, log: logger.OrNop(deps.Log).Named("orchestrator")}
}

// Image returns the image handler.
func (o *Orchestrator) Image() *image.Handler { return o.deps.Image }

// Audio returns the audio handler.
func (o *Orchestrator) Audio() *audio.Handler { return o.deps.Audio }

// Assistant returns the assistant handler.
func (o *Orchestrator) Assistant() *assistant.Handler { return o.deps.Assistant }

// Route exposes the routing decision for modelID without executing it.
func (o *Orchestrator) Route(modelID string) (Route, error) {
	return Resolve(modelID)
}

// Dispatch sends p to the handler its model routes to. A responses turn
// without a conversation id gets a fresh one, returned in the result.
func (o *Orchestrator) Dispatch(ctx context.Context, p Payload) (*types.Result, error) {
	if strings.TrimSpace(p.ModelID) == "" {
		return nil, apierr.New(apierr.KindValidation, "dispatch", "modelId is required")
	}
	if p.UserInput.Text() == "" && !p.UserInput.IsMultipart() {
		return nil, apierr.New(apierr.KindValidation, "dispatch", "userInput is required")
	}
	if p.UserInput.Role == "" {
		p.UserInput.Role = types.RoleUser
	}

	route, err := Resolve(p.ModelID)
	if err != nil {
		o.log.Warn("dispatch.rejected", zap.String("model", p.ModelID), zap.Error(err))
		return nil, err
	}
	log := o.log.With(
		zap.String("model", route.Model),
		zap.String("target", string(route.Target)),
		zap.String("reason", route.Reason),
	)

	var res *types.Result
	switch route.Target {
	case TargetResponses:
		if p.ConversationID == "" {
			p.ConversationID = session.NewID()
		}
		log.Debug("dispatch.responses", zap.String("conversation_id", p.ConversationID))
		res, err = o.deps.Responses.Respond(ctx, responses.Request{
			ConversationID:     p.ConversationID,
			UserInput:          p.UserInput,
			Model:              route.Model,
			SystemMessage:      p.SystemMessage,
			History:            p.ConversationHistory,
			Temperature:        p.Temperature,
			MaxTokens:          p.MaxTokens,
			ContinuationToken:  p.ContinuationToken,
			Reasoning:          withEffort(p.Reasoning, route.Effort),
			WebSearch:          p.WebSearchConfig,
			CodeInterpreter:    p.CodeInterpreterConfig,
			ForceCleanResponse: p.ForceCleanResponse,
		})
	default:
		if route.BestEffort {
			log.Warn("dispatch.best_effort", zap.String("source", string(route.Capabilities.Source)))
		} else {
			log.Debug("dispatch.chat")
		}
		history := append([]types.Turn(nil), p.ConversationHistory...)
		res, err = o.deps.Chat.Complete(ctx, chat.Request{
			UserInput:     p.UserInput,
			Model:         route.Model,
			History:       &history,
			SystemMessage: p.SystemMessage,
			Temperature:   p.Temperature,
			MaxTokens:     p.MaxTokens,
			WebSearch:     p.WebSearchConfig,
		})
		if err == nil {
			res.ConversationID = p.ConversationID
		}
	}
	if err != nil {
		return nil, err
	}
	if route.BestEffort {
		res.Warning = "model " + route.Model + " is not in the capability table; routed to chat best-effort"
	}
	return res, nil
}

// withEffort applies an effort taken from the model id suffix unless the
// caller already chose one.
func withEffort(p *reasoning.Param, effort string) *reasoning.Param {
	if effort == "" || (p != nil && strings.TrimSpace(p.Effort) != "") {
		return p
	}
	var out reasoning.Param
	if p != nil {
		out = *p
	}
	out.Effort = effort
	return &out
}

// Reset scopes.
const (
	ResetAll       = ""
	ResetResponses = "responses"
	ResetAssistant = "assistant"
)

// ResetConversation drops the state held for conversationID. ResetAll
// removes the whole session entry; the other scopes clear only the
// continuation or the assistant and thread ids.
func (o *Orchestrator) ResetConversation(ctx context.Context, conversationID, scope string) error {
	if strings.TrimSpace(conversationID) == "" {
		return apierr.New(apierr.KindValidation, "reset", "conversation id is required")
	}
	var err error
	switch scope {
	case ResetAll:
		err = o.deps.Store.Delete(ctx, conversationID)
	case ResetResponses:
		err = o.deps.Responses.Reset(ctx, conversationID)
	case ResetAssistant:
		if o.deps.Assistant == nil {
			return apierr.New(apierr.KindValidation, "reset", "assistant is not configured")
		}
		err = o.deps.Assistant.ResetState(ctx, conversationID)
	default:
		return apierr.New(apierr.KindValidation, "reset", "unknown reset scope %q", scope)
	}
	if err != nil {
		return err
	}
	o.log.Info("conversation.reset", zap.String("conversation_id", conversationID), zap.String("scope", scope))
	return nil
}

// ConversationState is what the portal holds for one conversation.
type ConversationState struct {
	ConversationID string           `json:"conversationId"`
	Responses      responses.State  `json:"responses"`
	Assistant      *assistant.State `json:"assistant,omitempty"`
}

// ConversationState reports the continuation and assistant state of
// conversationID. Unknown conversations report empty state.
func (o *Orchestrator) ConversationState(ctx context.Context, conversationID string) (ConversationState, error) {
	out := ConversationState{ConversationID: conversationID}
	if strings.TrimSpace(conversationID) == "" {
		return out, apierr.New(apierr.KindValidation, "state", "conversation id is required")
	}
	rs, err := o.deps.Responses.State(ctx, conversationID)
	if err != nil {
		return out, err
	}
	out.Responses = rs
	if o.deps.Assistant != nil {
		as, err := o.deps.Assistant.State(ctx, conversationID)
		if err != nil {
			return out, err
		}
		out.Assistant = &as
	}
	return out, nil
}

// EnhancePrompt rewrites prompt for kind (general, technical or
// creative). A failed rewrite returns the prompt unchanged.
func (o *Orchestrator) EnhancePrompt(ctx context.Context, prompt, kind string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apierr.New(apierr.KindValidation, "enhance", "prompt is required")
	}
	enhancer, ok := o.deps.Chat.(PromptEnhancer)
	if !ok {
		return "", apierr.New(apierr.KindServerError, "enhance", "prompt enhancement is not available")
	}
	return enhancer.EnhancePrompt(ctx, prompt, kind), nil
}

// Health probes the upstream model listing.
func (o *Orchestrator) Health(ctx context.Context) error {
	if o.deps.Upstream == nil {
		return nil
	}
	return o.deps.Upstream.Health(ctx)
}

// Stats summarizes what the orchestrator serves.
type Stats struct {
	Models   map[string]int `json:"models"`
	Total    int            `json:"total"`
	Sessions int            `json:"sessions"`
}

// Stats counts statically known models per handler family and the live
// sessions.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Models: map[string]int{}}
	for _, g := range models.Catalog() {
		s.Models[g.Name] = len(g.Models)
		s.Total += len(g.Models)
	}
	if o.deps.Store != nil {
		n, err := o.deps.Store.Len(ctx)
		if err != nil {
			return s, err
		}
		s.Sessions = n
	}
	return s, nil
}
