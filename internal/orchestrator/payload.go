package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-llmportal/internal/reasoning"
	"github.com/n0madic/go-llmportal/internal/tools/codeinterp"
	"github.com/n0madic/go-llmportal/internal/tools/websearch"
	"github.com/n0madic/go-llmportal/internal/types"
)

// Payload is the generic chat request coming from the portal UI.
type Payload struct {
	ConversationID        string             `json:"conversationId,omitempty"`
	UserInput             types.Turn         `json:"userInput"`
	ModelID               string             `json:"modelId"`
	ConversationHistory   []types.Turn       `json:"conversationHistory,omitempty"`
	SystemMessage         string             `json:"systemMessage,omitempty"`
	Temperature           *float64           `json:"temperature,omitempty"`
	MaxTokens             int                `json:"maxTokens,omitempty"`
	WebSearchConfig       *websearch.Config  `json:"webSearchConfig,omitempty"`
	CodeInterpreterConfig *codeinterp.Config `json:"codeInterpreterConfig,omitempty"`
	ContinuationToken     string             `json:"continuationToken,omitempty"`
	ForceCleanResponse    bool               `json:"forceCleanResponse,omitempty"`
	Reasoning             *reasoning.Param   `json:"reasoning,omitempty"`
}

// DecodePayload reads a payload leniently. userInput may be a string or a
// turn object; modelID and tokens are accepted as aliases. Tool configs
// with wrong-typed fields keep their valid fields and report warnings.
func DecodePayload(raw []byte) (Payload, []string, error) {
	if !gjson.ValidBytes(raw) {
		return Payload{}, nil, fmt.Errorf("payload: invalid JSON")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Payload{}, nil, fmt.Errorf("payload: expected object")
	}

	p := Payload{
		ConversationID:     root.Get("conversationId").String(),
		ModelID:            first(root, "modelId", "modelID", "model").String(),
		SystemMessage:      root.Get("systemMessage").String(),
		ContinuationToken:  root.Get("continuationToken").String(),
		ForceCleanResponse: root.Get("forceCleanResponse").Bool(),
		MaxTokens:          int(first(root, "maxTokens", "tokens").Int()),
	}
	if t := root.Get("temperature"); t.Type == gjson.Number {
		v := t.Float()
		p.Temperature = &v
	}

	input := first(root, "userInput", "user_input")
	switch {
	case input.Type == gjson.String:
		p.UserInput = types.TextTurn(types.RoleUser, input.String())
	case input.IsObject():
		if err := json.Unmarshal([]byte(input.Raw), &p.UserInput); err != nil {
			return Payload{}, nil, fmt.Errorf("payload userInput: %w", err)
		}
		if p.UserInput.Role == "" {
			p.UserInput.Role = types.RoleUser
		}
	}

	if h := first(root, "conversationHistory", "history"); h.IsArray() {
		if err := json.Unmarshal([]byte(h.Raw), &p.ConversationHistory); err != nil {
			return Payload{}, nil, fmt.Errorf("payload conversationHistory: %w", err)
		}
	}
	if r := root.Get("reasoning"); r.IsObject() {
		p.Reasoning = &reasoning.Param{
			Effort:  r.Get("effort").String(),
			Summary: r.Get("summary").String(),
			Display: r.Get("display").String(),
		}
	}

	var warnings []string
	if v := root.Get("webSearchConfig"); v.Exists() {
		cfg, w := websearch.DecodeConfig([]byte(v.Raw))
		p.WebSearchConfig = cfg
		warnings = append(warnings, w...)
	}
	if v := root.Get("codeInterpreterConfig"); v.Exists() {
		cfg, w := codeinterp.DecodeConfig([]byte(v.Raw))
		p.CodeInterpreterConfig = cfg
		warnings = append(warnings, w...)
	}
	return p, warnings, nil
}

func first(root gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := root.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}
