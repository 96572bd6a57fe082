package types

import "github.com/tidwall/gjson"

// Citation is a url_citation annotation.
type Citation struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// GeneratedFile is a container_file_citation annotation: a file produced by
// the code interpreter.
type GeneratedFile struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
	StartIndex  int    `json:"start_index"`
	EndIndex    int    `json:"end_index"`
}

// CodeOutput is one output of a code execution (logs or an image).
type CodeOutput struct {
	Type string `json:"type"`
	Logs string `json:"logs,omitempty"`
	URL  string `json:"url,omitempty"`
}

// CodeExecution describes one code interpreter run.
type CodeExecution struct {
	ID          string       `json:"id,omitempty"`
	Code        string       `json:"code,omitempty"`
	Outputs     []CodeOutput `json:"outputs,omitempty"`
	ContainerID string       `json:"container_id,omitempty"`
	Status      string       `json:"status,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Usage is token accounting normalized across chat and responses shapes.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	TotalTokens     int `json:"total_tokens"`
	ReasoningTokens int `json:"reasoning_tokens,omitempty"`
}

// UsageFrom reads a usage object in either the chat (prompt_tokens) or the
// responses (input_tokens) shape. It returns nil when v is absent.
func UsageFrom(v gjson.Result) *Usage {
	if !v.Exists() || !v.IsObject() {
		return nil
	}
	u := &Usage{
		InputTokens:  int(firstInt(v, "input_tokens", "prompt_tokens")),
		OutputTokens: int(firstInt(v, "output_tokens", "completion_tokens")),
		TotalTokens:  int(v.Get("total_tokens").Int()),
		ReasoningTokens: int(firstInt(v,
			"output_tokens_details.reasoning_tokens",
			"completion_tokens_details.reasoning_tokens",
		)),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

func firstInt(v gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if r := v.Get(p); r.Exists() {
			return r.Int()
		}
	}
	return 0
}

// Handler names reported in Result.Handler.
const (
	HandlerChat      = "chat"
	HandlerResponses = "responses"
	HandlerAssistant = "assistant"
)

// Result is the normalized answer handed back to the UI layer.
type Result struct {
	Content             string          `json:"content"`
	Response            string          `json:"response,omitempty"`
	Reasoning           string          `json:"reasoning,omitempty"`
	Usage               *Usage          `json:"usage,omitempty"`
	Citations           []Citation      `json:"citations,omitempty"`
	CodeExecutions      []CodeExecution `json:"code_executions,omitempty"`
	GeneratedFiles      []GeneratedFile `json:"generated_files,omitempty"`
	ContainerID         string          `json:"container_id,omitempty"`
	ContinuationToken   string          `json:"continuation_token,omitempty"`
	ConversationID      string          `json:"conversation_id,omitempty"`
	History             []Turn          `json:"history,omitempty"`
	Model               string          `json:"model"`
	Handler             string          `json:"handler"`
	WebSearchUsed       bool            `json:"web_search_used,omitempty"`
	CodeInterpreterUsed bool            `json:"code_interpreter_used,omitempty"`
	Warning             string          `json:"warning,omitempty"`
}
