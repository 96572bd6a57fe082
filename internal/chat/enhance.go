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
)

// Prompt enhancement kinds.
const (
	EnhanceGeneral   = "general"
	EnhanceTechnical = "technical"
	EnhanceCreative  = "creative"

	EnhanceModel = "gpt-4.1"
)

var enhanceTemplates = map[string]string{
	EnhanceGeneral: `You are an expert at improving prompts for better AI responses. Take the user's request and make it clearer, more specific, and more likely to get a helpful response. Keep the enhanced prompt concise but comprehensive.

User request: "%s"

Enhanced prompt:`,
	EnhanceTechnical: `You are an expert at creating technical prompts. Take the user's request and enhance it with technical details, context, and specific requirements that will help generate more accurate technical responses.

User request: "%s"

Enhanced technical prompt:`,
	EnhanceCreative: `You are an expert at creating creative prompts. Take the user's request and enhance it with creative elements, style guidelines, and inspirational details that will help generate more imaginative responses.

User request: "%s"

Enhanced creative prompt:`,
}

// EnhancePrompt asks an auxiliary model to rewrite prompt. Any failure
// returns the original prompt.
func (h *Handler) EnhancePrompt(ctx context.Context, prompt, kind string) string {
	text, err := h.Rewrite(ctx, instructionFor(prompt, kind), 200)
	if err != nil {
		h.log.Warn("chat.enhance.failed", zap.String("kind", kind), zap.Error(err))
		return prompt
	}
	return text
}

func instructionFor(prompt, kind string) string {
	tmpl, ok := enhanceTemplates[kind]
	if !ok {
		tmpl = enhanceTemplates[EnhanceGeneral]
	}
	return fmt.Sprintf(tmpl, prompt)
}

// Rewrite sends a single user message to the enhancement model and returns
// the trimmed reply.
func (h *Handler) Rewrite(ctx context.Context, instruction string, maxTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(EnhanceModel),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(instruction)},
		Temperature: openai.Float(DefaultTemperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}
	body, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	raw, err := h.client.PostBody(ctx, Endpoint, Path, body)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
	if text == "" {
		return "", fmt.Errorf("empty rewrite")
	}
	return text, nil
}
