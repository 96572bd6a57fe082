package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/n0madic/go-llmportal/internal/reasoning"
	"github.com/n0madic/go-llmportal/internal/types"
)

func TestFormatUserInputPlain(t *testing.T) {
	turn := FormatUserInput("hello", "", "", "", "")
	assert.Equal(t, types.RoleUser, turn.Role)
	assert.False(t, turn.IsMultipart())
	assert.Equal(t, "hello", turn.Content)
}

func TestFormatUserInputAttachments(t *testing.T) {
	turn := FormatUserInput("describe", "a,b\n1,2", "file-1", "chart.png", "data:image/png;base64,AAAA")
	require.Len(t, turn.Parts, 5)
	assert.Equal(t, "describe", turn.Parts[0].Text)
	assert.Equal(t, "File ID: file-1", turn.Parts[1].Text)
	assert.Equal(t, "a,b\n1,2", turn.Parts[2].Text)
	assert.Equal(t, "Image: chart.png", turn.Parts[3].Text)
	assert.Equal(t, types.PartImageURL, turn.Parts[4].Type)
	assert.Equal(t, "data:image/png;base64,AAAA", turn.Parts[4].ImageURL.URL)
}

func TestForResponsesContentTypes(t *testing.T) {
	turn := FormatUserInput("look", "", "", "", "https://example.com/a.png")
	item, ok := ForResponses(turn)
	require.True(t, ok)

	raw, err := json.Marshal(item)
	require.NoError(t, err)
	doc := gjson.ParseBytes(raw)
	assert.Equal(t, "user", doc.Get("role").String())
	assert.Equal(t, "input_text", doc.Get("content.0.type").String())
	assert.Equal(t, "look", doc.Get("content.0.text").String())
	assert.Equal(t, "input_image", doc.Get("content.1.type").String())
	assert.Equal(t, "https://example.com/a.png", doc.Get("content.1.image_url").String())
}

func TestForResponsesAssistantAndEmpty(t *testing.T) {
	item, ok := ForResponses(types.TextTurn(types.RoleAssistant, "earlier answer"))
	require.True(t, ok)
	raw, err := json.Marshal(item)
	require.NoError(t, err)
	assert.Equal(t, "output_text", gjson.GetBytes(raw, "content.0.type").String())
	assert.Equal(t, "earlier answer", gjson.GetBytes(raw, "content.0.text").String())

	_, ok = ForResponses(types.TextTurn(types.RoleUser, ""))
	assert.False(t, ok)
}

func TestResponsesInputOrder(t *testing.T) {
	history := []types.Turn{
		types.TextTurn(types.RoleUser, "q1"),
		types.TextTurn(types.RoleAssistant, "a1"),
	}
	input := ResponsesInput("be brief", history, types.TextTurn(types.RoleUser, "q2"))
	raw, err := json.Marshal(input)
	require.NoError(t, err)

	doc := gjson.ParseBytes(raw)
	require.Equal(t, int64(4), doc.Get("#").Int())
	assert.Equal(t, "system", doc.Get("0.role").String())
	assert.Equal(t, "q1", doc.Get("1.content.0.text").String())
	assert.Equal(t, "a1", doc.Get("2.content.0.text").String())
	assert.Equal(t, "q2", doc.Get("3.content.0.text").String())
}

func TestForChat(t *testing.T) {
	turns := []types.Turn{
		types.TextTurn(types.RoleUser, "hi"),
		types.TextTurn(types.RoleAssistant, "hello"),
		FormatUserInput("what is this", "", "", "", "https://example.com/x.png"),
	}
	msgs := ForChat("system prompt", turns)
	raw, err := json.Marshal(msgs)
	require.NoError(t, err)

	doc := gjson.ParseBytes(raw)
	require.Equal(t, int64(4), doc.Get("#").Int())
	assert.Equal(t, "system", doc.Get("0.role").String())
	assert.Equal(t, "hi", doc.Get("1.content").String())
	assert.Equal(t, "assistant", doc.Get("2.role").String())
	assert.Equal(t, "image_url", doc.Get("3.content.1.type").String())
	assert.Equal(t, "https://example.com/x.png", doc.Get("3.content.1.image_url.url").String())
}

func TestExtractResponseContent(t *testing.T) {
	items := []types.OutputItem{
		types.ReasoningItem{Summary: []string{"first", "second "}},
		types.WebSearchCallItem{ID: "ws_1"},
		types.MessageItem{Role: "assistant", Content: []types.MessageContent{
			{Type: "output_text", Text: " The answer"},
			{Type: "output_text", Text: " is 4. "},
		}},
	}
	r, resp := ExtractResponseContent(items)
	assert.Equal(t, "first\n\nsecond", r)
	assert.Equal(t, "The answer is 4.", resp)
	assert.Equal(t, "# Thinking:\nfirst\n\nsecond\n\n---\n# Response:\nThe answer is 4.", FormatReasoningResponse("", r, resp))
	assert.Equal(t, "<think>first\n\nsecond</think>The answer is 4.", FormatReasoningResponse(reasoning.ModeThinkTags, r, resp))
}

func TestRoundTripEcho(t *testing.T) {
	for _, text := range []string{"hello world", "multi\nline  text", "unicode: привет ✓"} {
		t.Run(text, func(t *testing.T) {
			item, ok := ForResponses(FormatUserInput(text, "", "", "", ""))
			require.True(t, ok)
			raw, err := json.Marshal(item)
			require.NoError(t, err)
			sent := gjson.GetBytes(raw, "content.0.text").String()

			// Synthetic echo: the upstream returns exactly what it was sent.
			body, err := sjson.SetBytes([]byte(`{"id":"resp_1","output":[{"type":"message","role":"assistant","content":[{"type":"output_text"}]}]}`),
				"output.0.content.0.text", sent)
			require.NoError(t, err)
			env, err := types.DecodeResponse(body)
			require.NoError(t, err)

			r, resp := ExtractResponseContent(env.Output)
			assert.Empty(t, r)
			assert.Equal(t, text, resp)
			assert.Equal(t, text, FormatReasoningResponse(reasoning.ModeHeaders, r, resp))
		})
	}
}
