package orchestrator

import (
	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/models"
)

// Target names the handler a chat payload is sent to.
type Target string

const (
	TargetChat      Target = "chat"
	TargetResponses Target = "responses"
)

// Route is the routing decision for one model id.
type Route struct {
	Model        string              `json:"model"`
	Effort       string              `json:"effort,omitempty"`
	Target       Target              `json:"target"`
	Reason       string              `json:"reason"`
	BestEffort   bool                `json:"bestEffort,omitempty"`
	Capabilities models.Capabilities `json:"capabilities"`
}

// Resolve picks the handler for modelID. First match wins: reasoning,
// code interpreter, web search by variant, chat, then the vendor chat
// prefix as a best effort.
func Resolve(modelID string) (Route, error) {
	model, effort := models.SplitEffort(modelID)
	caps := models.Classify(model)
	r := Route{Model: model, Effort: effort, Capabilities: caps}

	switch {
	case caps.Reasoning:
		r.Target, r.Reason = TargetResponses, "reasoning"
	case caps.CodeInterpreter:
		r.Target, r.Reason = TargetResponses, "code_interpreter"
	case caps.WebSearch == models.WebSearchChat:
		r.Target, r.Reason = TargetChat, "web_search_chat"
	case caps.WebSearch == models.WebSearchResponses:
		r.Target, r.Reason = TargetResponses, "web_search_responses"
	case caps.Chat && caps.Source != models.SourcePrefix:
		r.Target, r.Reason = TargetChat, "chat"
	case caps.MediaOnly():
		return r, apierr.New(apierr.KindWrongHandler, "dispatch",
			"model %q serves %s requests, not chat", model, models.GroupFor(caps))
	case caps.Source == models.SourcePrefix:
		r.Target, r.Reason, r.BestEffort = TargetChat, "vendor_prefix", true
	default:
		return r, apierr.New(apierr.KindUnsupportedModel, "dispatch", "unsupported model %q", modelID)
	}
	return r, nil
}
