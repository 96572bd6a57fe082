package models

import "strings"

// WebSearchVariant names the wire protocol a model uses for web search.
type WebSearchVariant string

const (
	WebSearchNone      WebSearchVariant = "none"
	WebSearchChat      WebSearchVariant = "chat"
	WebSearchResponses WebSearchVariant = "responses"
)

// Source records which classification rule produced a Capabilities record.
type Source string

const (
	SourceTable   Source = "table"
	SourcePattern Source = "pattern"
	SourcePrefix  Source = "prefix"
	SourceNone    Source = "none"
)

// ChatPrefix is the vendor's generic chat model prefix.
const ChatPrefix = "gpt"

// Capabilities describes what a model identifier can do.
type Capabilities struct {
	ID                string           `json:"id"`
	Chat              bool             `json:"chat"`
	Reasoning         bool             `json:"reasoning"`
	Vision            bool             `json:"vision"`
	FunctionCalling   bool             `json:"function_calling"`
	WebSearch         WebSearchVariant `json:"web_search"`
	CodeInterpreter   bool             `json:"code_interpreter"`
	ImageGeneration   bool             `json:"image_generation"`
	Transcription     bool             `json:"transcription"`
	TTS               bool             `json:"tts"`
	AssistantEligible bool             `json:"assistant_eligible"`
	Source            Source           `json:"source"`
}

// SupportsWebSearch reports whether either web search variant applies.
func (c Capabilities) SupportsWebSearch() bool {
	return c.WebSearch == WebSearchChat || c.WebSearch == WebSearchResponses
}

// MediaOnly reports whether the model only serves image or audio endpoints.
func (c Capabilities) MediaOnly() bool {
	media := c.ImageGeneration || c.Transcription || c.TTS
	return media && !c.Chat && !c.Reasoning && !c.CodeInterpreter && !c.SupportsWebSearch()
}

type capability uint16

const (
	capChat capability = 1 << iota
	capReasoning
	capVision
	capFunctions
	capWebSearchChat
	capWebSearchResponses
	capCodeInterpreter
	capImage
	capTranscription
	capTTS
)

type tableEntry struct {
	id   string
	caps capability
}

// staticTable mirrors the provider's published model lists.
var staticTable = []tableEntry{
	{"gpt-4", capChat | capVision | capFunctions},
	{"gpt-4-turbo", capChat | capVision | capFunctions},
	{"gpt-4o", capChat | capVision | capFunctions | capWebSearchResponses | capCodeInterpreter},
	{"gpt-4.1", capChat | capVision | capFunctions | capWebSearchResponses | capCodeInterpreter},
	{"gpt-4o-mini", capChat | capVision | capFunctions | capWebSearchResponses | capCodeInterpreter},
	{"gpt-4.1-mini", capChat | capVision | capFunctions | capWebSearchResponses | capCodeInterpreter},
	{"gpt-4.1-nano", capChat | capCodeInterpreter},
	{"gpt-3.5-turbo", capChat | capFunctions},
	{"gpt-3.5-turbo-0125", capChat | capFunctions},

	{"gpt-4o-search-preview", capChat | capVision | capWebSearchChat},
	{"gpt-4o-mini-search-preview", capChat | capVision | capWebSearchChat},

	{"o1", capReasoning | capCodeInterpreter},
	{"o1-preview", capReasoning | capCodeInterpreter},
	{"o1-mini", capReasoning | capCodeInterpreter},
	{"o3", capReasoning | capCodeInterpreter},
	{"o3-mini", capReasoning | capCodeInterpreter},
	{"o4", capReasoning | capCodeInterpreter},
	{"o4-mini", capReasoning | capCodeInterpreter},
	{"o1-pro", capReasoning},
	{"o3-pro", capReasoning},

	{"gpt-image-1", capImage},
	{"dall-e-3", capImage},
	{"dall-e-2", capImage},

	{"gpt-4o-transcribe", capTranscription},
	{"gpt-4o-mini-transcribe", capTranscription},
	{"whisper-1", capTranscription},

	{"gpt-4o-mini-tts", capTTS},
	{"tts-1-hd", capTTS},
	{"tts-1", capTTS},
}

// Fallback patterns, consulted only for ids absent from staticTable.
var (
	reasoningPatterns       = []string{"o1", "o3", "o4"}
	codeInterpreterPatterns = []string{
		"gpt-4.1", "gpt-4o", "gpt-4o-mini", "gpt-4.1-mini", "gpt-4.1-nano",
		"o1", "o1-preview", "o1-mini", "o3", "o3-mini", "o4", "o4-mini",
	}
)

var table = buildTable(staticTable)

func buildTable(entries []tableEntry) map[string]capability {
	m := make(map[string]capability, len(entries))
	for _, e := range entries {
		m[e.id] = e.caps
	}
	return m
}

// Classify returns the capability record for modelID. It never fails:
// unknown ids yield an all-false record with Source "none".
func Classify(modelID string) Capabilities {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if caps, ok := table[id]; ok {
		c := fromMask(id, caps)
		c.Source = SourceTable
		return c
	}

	var caps capability
	if containsAny(id, reasoningPatterns) {
		caps |= capReasoning
	}
	if containsAny(id, codeInterpreterPatterns) {
		caps |= capCodeInterpreter
	}
	if caps != 0 {
		if strings.HasPrefix(id, ChatPrefix) {
			caps |= capChat
		}
		c := fromMask(id, caps)
		c.Source = SourcePattern
		return c
	}

	if id != "" && strings.HasPrefix(id, ChatPrefix) {
		c := fromMask(id, capChat)
		c.Source = SourcePrefix
		return c
	}
	return Capabilities{ID: id, WebSearch: WebSearchNone, Source: SourceNone}
}

// IsKnown reports whether modelID has an exact static table entry.
func IsKnown(modelID string) bool {
	_, ok := table[strings.ToLower(strings.TrimSpace(modelID))]
	return ok
}

func fromMask(id string, caps capability) Capabilities {
	c := Capabilities{
		ID:              id,
		Chat:            caps&capChat != 0,
		Reasoning:       caps&capReasoning != 0,
		Vision:          caps&capVision != 0,
		FunctionCalling: caps&capFunctions != 0,
		CodeInterpreter: caps&capCodeInterpreter != 0,
		ImageGeneration: caps&capImage != 0,
		Transcription:   caps&capTranscription != 0,
		TTS:             caps&capTTS != 0,
		WebSearch:       WebSearchNone,
	}
	switch {
	case caps&capWebSearchChat != 0:
		c.WebSearch = WebSearchChat
	case caps&capWebSearchResponses != 0:
		c.WebSearch = WebSearchResponses
	}
	c.AssistantEligible = c.FunctionCalling || c.CodeInterpreter
	return c
}

func containsAny(id string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(id, p) {
			return true
		}
	}
	return false
}
