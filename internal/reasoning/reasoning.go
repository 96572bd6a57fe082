// Package reasoning builds the reasoning parameter for reasoning-capable
// models and renders reasoning alongside the final answer.
package reasoning

import (
	"strings"

	"github.com/openai/openai-go/v3/shared"

	"github.com/n0madic/go-llmportal/internal/models"
)

const (
	DefaultEffort  = "high"
	DefaultSummary = "auto"
)

// Param is a caller-supplied effort/summary override. Display picks how
// the reasoning is rendered with the answer (see Format).
type Param struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
	Display string `json:"display,omitempty"`
}

// DisplayMode returns the display mode of p, or ModeHeaders.
func (p *Param) DisplayMode() string {
	if p == nil || strings.TrimSpace(p.Display) == "" {
		return ModeHeaders
	}
	return p.Display
}

var validSummaries = map[string]bool{"auto": true, "concise": true, "detailed": true, "none": true}

// AllowedEfforts returns the effort levels accepted for model.
func AllowedEfforts(model string) map[string]bool {
	base := models.NormalizeModelName(model)
	if strings.HasSuffix(base, "-pro") {
		return map[string]bool{"medium": true, "high": true}
	}
	return map[string]bool{"low": true, "medium": true, "high": true}
}

// Resolve merges overrides into the defaults, dropping unsupported values.
// An effort suffix on the model id ("o3-mini-low") applies when the
// overrides carry no effort.
func Resolve(overrides *Param, model string) Param {
	valid := AllowedEfforts(model)
	out := Param{Effort: DefaultEffort, Summary: DefaultSummary}

	if _, suffix := models.SplitEffort(model); suffix != "" && valid[suffix] {
		out.Effort = suffix
	}
	if overrides != nil {
		if e := strings.ToLower(strings.TrimSpace(overrides.Effort)); valid[e] {
			out.Effort = e
		}
		if s := strings.ToLower(strings.TrimSpace(overrides.Summary)); validSummaries[s] {
			out.Summary = s
		}
	}
	if !valid[out.Effort] {
		out.Effort = "high"
	}
	return out
}

// BuildReasoningParam returns the SDK reasoning parameter for model.
func BuildReasoningParam(overrides *Param, model string) shared.ReasoningParam {
	p := Resolve(overrides, model)
	rp := shared.ReasoningParam{Effort: shared.ReasoningEffort(p.Effort)}
	// Sending "none" is rejected upstream; omitting the field disables summaries.
	if p.Summary != "none" {
		rp.Summary = shared.ReasoningSummary(p.Summary)
	}
	return rp
}
