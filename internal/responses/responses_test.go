package responses

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/reasoning"
	"github.com/n0madic/go-llmportal/internal/session"
	"github.com/n0madic/go-llmportal/internal/tools/codeinterp"
	"github.com/n0madic/go-llmportal/internal/tools/websearch"
	"github.com/n0madic/go-llmportal/internal/types"
)

type fakePoster struct {
	bodies  []gjson.Result
	replies []string
}

func (f *fakePoster) PostBody(_ context.Context, _, _ string, body []byte) ([]byte, error) {
	f.bodies = append(f.bodies, gjson.ParseBytes(body))
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return []byte(reply), nil
}

func newHandler(t *testing.T, replies ...string) (*Handler, *fakePoster, session.Store) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour, 100)
	t.Cleanup(func() { store.Close() })
	fp := &fakePoster{replies: replies}
	return New(fp, store, nil), fp, store
}

const (
	replyOne = `{"id":"resp_1","status":"completed","output":[
		{"type":"reasoning","summary":[{"type":"summary_text","text":"Adding numbers."}]},
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"4"}]}],
		"usage":{"input_tokens":10,"output_tokens":5,"output_tokens_details":{"reasoning_tokens":3}}}`
	replyTwo = `{"id":"resp_2","status":"completed","output":[
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"8"}]}]}`
)

func TestRespondContinuation(t *testing.T) {
	h, fp, store := newHandler(t, replyOne, replyTwo)
	ctx := context.Background()
	history := []types.Turn{types.TextTurn(types.RoleUser, "hi"), types.TextTurn(types.RoleAssistant, "hello")}

	res, err := h.Respond(ctx, Request{
		ConversationID: "conv-1",
		UserInput:      types.TextTurn(types.RoleUser, "2+2?"),
		Model:          "o3",
		SystemMessage:  "be exact",
		History:        history,
	})
	require.NoError(t, err)
	assert.Equal(t, "# Thinking:\nAdding numbers.\n\n---\n# Response:\n4", res.Content)
	assert.Equal(t, "4", res.Response)
	assert.Equal(t, "Adding numbers.", res.Reasoning)
	assert.Equal(t, "resp_1", res.ContinuationToken)
	assert.Equal(t, 3, res.Usage.ReasoningTokens)

	first := fp.bodies[0]
	assert.False(t, first.Get("previous_response_id").Exists())
	assert.True(t, first.Get("store").Bool())
	assert.Equal(t, int64(4), first.Get("input.#").Int())
	assert.Equal(t, "high", first.Get("reasoning.effort").String())
	assert.Equal(t, "auto", first.Get("reasoning.summary").String())

	_, err = h.Respond(ctx, Request{
		ConversationID: "conv-1",
		UserInput:      types.TextTurn(types.RoleUser, "double it"),
		Model:          "o3",
		SystemMessage:  "be exact",
		History:        history,
	})
	require.NoError(t, err)
	second := fp.bodies[1]
	assert.Equal(t, "resp_1", second.Get("previous_response_id").String())
	require.Equal(t, int64(1), second.Get("input.#").Int())
	assert.Equal(t, "double it", second.Get("input.0.content.0.text").String())
	assert.NotContains(t, second.Raw, "2+2?")

	entry, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "resp_2", entry.ContinuationToken)
	assert.Equal(t, 2, entry.TurnCount)

	state, err := h.State(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, State{TurnCount: 2, ContinuationToken: "resp_2", HasState: true}, state)
}

func TestRespondConversationsAreIsolated(t *testing.T) {
	h, fp, _ := newHandler(t, replyOne, replyTwo)
	ctx := context.Background()

	_, err := h.Respond(ctx, Request{ConversationID: "a", UserInput: types.TextTurn(types.RoleUser, "x"), Model: "o3"})
	require.NoError(t, err)
	_, err = h.Respond(ctx, Request{ConversationID: "b", UserInput: types.TextTurn(types.RoleUser, "y"), Model: "o3"})
	require.NoError(t, err)
	assert.False(t, fp.bodies[1].Get("previous_response_id").Exists())
}

func TestRespondExplicitTokenWins(t *testing.T) {
	h, fp, _ := newHandler(t, replyTwo)
	_, err := h.Respond(context.Background(), Request{
		UserInput:         types.TextTurn(types.RoleUser, "x"),
		Model:             "o4-mini",
		ContinuationToken: "resp_external",
	})
	require.NoError(t, err)
	assert.Equal(t, "resp_external", fp.bodies[0].Get("previous_response_id").String())
}

func TestRespondWebSearchDisabledNeverAttaches(t *testing.T) {
	h, fp, _ := newHandler(t, replyTwo)
	_, err := h.Respond(context.Background(), Request{
		UserInput:       types.TextTurn(types.RoleUser, "x"),
		Model:           "gpt-4.1",
		WebSearch:       websearch.Disabled,
		CodeInterpreter: codeinterp.Disabled,
	})
	require.NoError(t, err)
	assert.False(t, fp.bodies[0].Get("tools").Exists())
}

func TestRespondAttachesToolsByDefault(t *testing.T) {
	h, fp, _ := newHandler(t, replyTwo)
	_, err := h.Respond(context.Background(), Request{
		UserInput: types.TextTurn(types.RoleUser, "x"),
		Model:     "gpt-4.1",
	})
	require.NoError(t, err)
	tools := fp.bodies[0].Get("tools")
	require.Equal(t, int64(2), tools.Get("#").Int())
	assert.Equal(t, websearch.ToolType, tools.Get("0.type").String())
	assert.Equal(t, codeinterp.ToolType, tools.Get("1.type").String())
	assert.Equal(t, "auto", tools.Get("1.container.type").String())
	assert.False(t, fp.bodies[0].Get("reasoning").Exists())
}

func TestRespondReasoningOverridesAndClean(t *testing.T) {
	h, fp, _ := newHandler(t, replyOne)
	res, err := h.Respond(context.Background(), Request{
		UserInput:          types.TextTurn(types.RoleUser, "x"),
		Model:              "o3-mini",
		Reasoning:          &reasoning.Param{Effort: "low", Summary: "none"},
		CodeInterpreter:    codeinterp.Disabled,
		ForceCleanResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "4", res.Content)
	assert.Equal(t, "Adding numbers.", res.Reasoning)
	assert.Equal(t, "low", fp.bodies[0].Get("reasoning.effort").String())
	assert.False(t, fp.bodies[0].Get("reasoning.summary").Exists())
}

func TestRespondReasoningDisplay(t *testing.T) {
	h, _, _ := newHandler(t, replyOne, replyOne)
	ctx := context.Background()
	res, err := h.Respond(ctx, Request{
		UserInput: types.TextTurn(types.RoleUser, "x"),
		Model:     "o3",
		Reasoning: &reasoning.Param{Display: reasoning.ModeThinkTags},
	})
	require.NoError(t, err)
	assert.Equal(t, "<think>Adding numbers.</think>4", res.Content)

	res, err = h.Respond(ctx, Request{
		UserInput: types.TextTurn(types.RoleUser, "x"),
		Model:     "o3",
		Reasoning: &reasoning.Param{Display: reasoning.ModeHidden},
	})
	require.NoError(t, err)
	assert.Equal(t, "4", res.Content)
	assert.Equal(t, "Adding numbers.", res.Reasoning)
}

func TestRespondExtractsToolResults(t *testing.T) {
	reply := `{"id":"resp_9","status":"completed","output":[
		{"type":"web_search_call","id":"ws_1","status":"completed"},
		{"type":"code_interpreter_call","id":"ci_1","code":"print(1)","container_id":"cntr_1","status":"completed"},
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"done","annotations":[
			{"type":"url_citation","url":"https://a.test","title":"A","start_index":0,"end_index":4},
			{"type":"container_file_citation","file_id":"cfile_1","filename":"out.csv","container_id":"cntr_1","start_index":0,"end_index":4}]}]}]}`
	h, _, _ := newHandler(t, reply)
	res, err := h.Respond(context.Background(), Request{UserInput: types.TextTurn(types.RoleUser, "x"), Model: "gpt-4o"})
	require.NoError(t, err)
	assert.True(t, res.WebSearchUsed)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "https://a.test", res.Citations[0].URL)
	assert.True(t, res.CodeInterpreterUsed)
	require.Len(t, res.CodeExecutions, 1)
	assert.Equal(t, "cntr_1", res.ContainerID)
	require.Len(t, res.GeneratedFiles, 1)
	assert.Equal(t, "out.csv", res.GeneratedFiles[0].Filename)
}

func TestRespondCitationsWithoutSearchCall(t *testing.T) {
	reply := `{"id":"resp_c","status":"completed","output":[
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"per docs","annotations":[
			{"type":"url_citation","url":"https://docs.test","title":"Docs","start_index":4,"end_index":8}]}]}]}`
	h, _, _ := newHandler(t, reply)
	res, err := h.Respond(context.Background(), Request{
		UserInput:       types.TextTurn(types.RoleUser, "x"),
		Model:           "o3",
		WebSearch:       websearch.Disabled,
		CodeInterpreter: codeinterp.Disabled,
	})
	require.NoError(t, err)
	assert.False(t, res.WebSearchUsed)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "https://docs.test", res.Citations[0].URL)
}

func TestRespondFailedStatus(t *testing.T) {
	h, _, _ := newHandler(t, `{"id":"resp_x","status":"failed","error":{"message":"server overloaded"},"output":[]}`)
	_, err := h.Respond(context.Background(), Request{ConversationID: "c", UserInput: types.TextTurn(types.RoleUser, "x"), Model: "o3"})
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.KindUpstream))
	assert.Contains(t, err.Error(), "server overloaded")
}

func TestReset(t *testing.T) {
	h, _, store := newHandler(t, replyOne)
	ctx := context.Background()
	_, _ = store.Update(ctx, "c", func(e *session.Entry) {
		e.ContinuationToken = "resp_1"
		e.TurnCount = 3
		e.ThreadID = "thread_1"
	})

	require.NoError(t, h.Reset(ctx, "c"))
	state, err := h.State(ctx, "c")
	require.NoError(t, err)
	assert.False(t, state.HasState)

	entry, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "thread_1", entry.ThreadID)
}
