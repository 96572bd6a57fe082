package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/chat"
	"github.com/n0madic/go-llmportal/internal/models"
	"github.com/n0madic/go-llmportal/internal/reasoning"
	"github.com/n0madic/go-llmportal/internal/responses"
	"github.com/n0madic/go-llmportal/internal/session"
	"github.com/n0madic/go-llmportal/internal/tools/codeinterp"
	"github.com/n0madic/go-llmportal/internal/types"
)

type fakeChat struct{ reqs []chat.Request }

func (f *fakeChat) Complete(_ context.Context, req chat.Request) (*types.Result, error) {
	f.reqs = append(f.reqs, req)
	return &types.Result{Content: "chat:" + req.UserInput.Text(), Model: req.Model, Handler: types.HandlerChat}, nil
}

type fakeResponder struct{ reqs []responses.Request }

func (f *fakeResponder) Respond(_ context.Context, req responses.Request) (*types.Result, error) {
	f.reqs = append(f.reqs, req)
	return &types.Result{Content: "responses", Model: req.Model, ConversationID: req.ConversationID, Handler: types.HandlerResponses}, nil
}

func (f *fakeResponder) State(context.Context, string) (responses.State, error) {
	return responses.State{TurnCount: len(f.reqs), HasState: len(f.reqs) > 0}, nil
}

func (f *fakeResponder) Reset(context.Context, string) error {
	f.reqs = nil
	return nil
}

type enhancingChat struct{ fakeChat }

func (e *enhancingChat) EnhancePrompt(_ context.Context, prompt, kind string) string {
	return kind + ": " + prompt
}

type fakeHealth struct{ err error }

func (f fakeHealth) Health(context.Context) error { return f.err }

func newOrchestrator(t *testing.T) (*Orchestrator, *fakeChat, *fakeResponder, session.Store) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour, 10)
	t.Cleanup(func() { store.Close() })
	fc, fr := &fakeChat{}, &fakeResponder{}
	return New(Deps{Chat: fc, Responses: fr, Store: store, Upstream: fakeHealth{}}), fc, fr, store
}

func TestResolve(t *testing.T) {
	tests := []struct {
		model      string
		target     Target
		reason     string
		bestEffort bool
		kind       apierr.Kind
	}{
		{model: "o3-mini", target: TargetResponses, reason: "reasoning"},
		{model: "o1-pro", target: TargetResponses, reason: "reasoning"},
		{model: "gpt-4.1", target: TargetResponses, reason: "code_interpreter"},
		{model: "gpt-4.1-nano", target: TargetResponses, reason: "code_interpreter"},
		{model: "gpt-4o-search-preview", target: TargetChat, reason: "web_search_chat"},
		{model: "gpt-4", target: TargetChat, reason: "chat"},
		{model: "gpt-3.5-turbo", target: TargetChat, reason: "chat"},
		{model: "gpt-5-experimental", target: TargetChat, reason: "vendor_prefix", bestEffort: true},
		{model: "dall-e-3", kind: apierr.KindWrongHandler},
		{model: "whisper-1", kind: apierr.KindWrongHandler},
		{model: "tts-1-hd", kind: apierr.KindWrongHandler},
		{model: "claude-3", kind: apierr.KindUnsupportedModel},
		{model: "", kind: apierr.KindUnsupportedModel},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			r, err := Resolve(tt.model)
			if tt.kind != "" {
				require.Error(t, err)
				assert.True(t, apierr.IsKind(err, tt.kind), err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, r.Target)
			assert.Equal(t, tt.reason, r.Reason)
			assert.Equal(t, tt.bestEffort, r.BestEffort)
		})
	}
}

func TestResolveNormalizesAliases(t *testing.T) {
	r, err := Resolve("OpenAI/o3-mini-high")
	require.NoError(t, err)
	assert.Equal(t, "o3-mini", r.Model)
	assert.Equal(t, "high", r.Effort)
	assert.Equal(t, models.SourceTable, r.Capabilities.Source)
}

func TestDispatchResponsesAssignsConversation(t *testing.T) {
	o, fc, fr, _ := newOrchestrator(t)
	res, err := o.Dispatch(context.Background(), Payload{
		ModelID:               "o3",
		UserInput:             types.TextTurn(types.RoleUser, "hi"),
		CodeInterpreterConfig: codeinterp.Disabled,
	})
	require.NoError(t, err)
	assert.Empty(t, fc.reqs)
	require.Len(t, fr.reqs, 1)
	assert.NotEmpty(t, fr.reqs[0].ConversationID)
	assert.Equal(t, fr.reqs[0].ConversationID, res.ConversationID)
	assert.True(t, fr.reqs[0].CodeInterpreter.IsDisabled())
}

type bodyPoster struct{ bodies []gjson.Result }

func (b *bodyPoster) PostBody(_ context.Context, _, _ string, body []byte) ([]byte, error) {
	b.bodies = append(b.bodies, gjson.ParseBytes(body))
	return []byte(`{"id":"resp_1","status":"completed","output":[
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"ok"}]}]}`), nil
}

func TestDispatchEffortSuffix(t *testing.T) {
	store := session.NewMemoryStore(time.Hour, 10)
	t.Cleanup(func() { store.Close() })
	bp := &bodyPoster{}
	o := New(Deps{Chat: &fakeChat{}, Responses: responses.New(bp, store, nil), Store: store})
	ctx := context.Background()

	_, err := o.Dispatch(ctx, Payload{ModelID: "o3-mini-low", UserInput: types.TextTurn(types.RoleUser, "hi")})
	require.NoError(t, err)
	_, err = o.Dispatch(ctx, Payload{
		ModelID:   "o3-mini-low",
		UserInput: types.TextTurn(types.RoleUser, "hi"),
		Reasoning: &reasoning.Param{Effort: "medium"},
	})
	require.NoError(t, err)
	_, err = o.Dispatch(ctx, Payload{ModelID: "o3-mini", UserInput: types.TextTurn(types.RoleUser, "hi")})
	require.NoError(t, err)

	require.Len(t, bp.bodies, 3)
	assert.Equal(t, "o3-mini", bp.bodies[0].Get("model").String())
	assert.Equal(t, "low", bp.bodies[0].Get("reasoning.effort").String())
	assert.Equal(t, "medium", bp.bodies[1].Get("reasoning.effort").String())
	assert.Equal(t, reasoning.DefaultEffort, bp.bodies[2].Get("reasoning.effort").String())
}

func TestDispatchChatKeepsCallerHistory(t *testing.T) {
	o, fc, _, _ := newOrchestrator(t)
	history := []types.Turn{types.TextTurn(types.RoleUser, "earlier")}
	res, err := o.Dispatch(context.Background(), Payload{
		ModelID:             "gpt-4",
		UserInput:           types.TextTurn("", "now"),
		ConversationHistory: history,
		ConversationID:      "c1",
	})
	require.NoError(t, err)
	assert.Equal(t, "chat:now", res.Content)
	assert.Equal(t, "c1", res.ConversationID)
	assert.Empty(t, res.Warning)
	require.Len(t, fc.reqs, 1)
	assert.Equal(t, types.RoleUser, fc.reqs[0].UserInput.Role)
	assert.Len(t, *fc.reqs[0].History, 1)
	assert.Len(t, history, 1)
}

func TestDispatchBestEffortWarns(t *testing.T) {
	o, fc, _, _ := newOrchestrator(t)
	res, err := o.Dispatch(context.Background(), Payload{ModelID: "gpt-5-preview", UserInput: types.TextTurn(types.RoleUser, "x")})
	require.NoError(t, err)
	assert.Len(t, fc.reqs, 1)
	assert.Contains(t, res.Warning, "best-effort")
}

func TestDispatchRejects(t *testing.T) {
	o, fc, fr, _ := newOrchestrator(t)
	_, err := o.Dispatch(context.Background(), Payload{ModelID: "gpt-image-1", UserInput: types.TextTurn(types.RoleUser, "x")})
	assert.ErrorIs(t, err, apierr.WrongHandler)
	_, err = o.Dispatch(context.Background(), Payload{ModelID: "llama-3", UserInput: types.TextTurn(types.RoleUser, "x")})
	assert.ErrorIs(t, err, apierr.UnsupportedModel)
	_, err = o.Dispatch(context.Background(), Payload{ModelID: "gpt-4"})
	assert.True(t, apierr.IsKind(err, apierr.KindValidation))
	assert.Empty(t, fc.reqs)
	assert.Empty(t, fr.reqs)
}

func TestResetConversationAndStats(t *testing.T) {
	o, _, _, store := newOrchestrator(t)
	ctx := context.Background()
	_, err := store.Update(ctx, "c1", func(e *session.Entry) {
		e.ContinuationToken = "resp_1"
		e.ThreadID = "thread_1"
	})
	require.NoError(t, err)

	stats, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 3, stats.Models[models.GroupImage])
	assert.Equal(t, len(models.KnownIDs()), stats.Total)

	require.NoError(t, o.ResetConversation(ctx, "c1", ResetAll))
	_, err = store.Get(ctx, "c1")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Error(t, o.ResetConversation(ctx, "", ResetAll))
	assert.True(t, apierr.IsKind(o.ResetConversation(ctx, "c1", "everything"), apierr.KindValidation))
	assert.True(t, apierr.IsKind(o.ResetConversation(ctx, "c1", ResetAssistant), apierr.KindValidation))
	assert.NoError(t, o.Health(ctx))
}

func TestDecodePayload(t *testing.T) {
	raw := []byte(`{
		"modelID": "gpt-4.1",
		"userInput": "hello",
		"conversationHistory": [{"role":"user","content":"a"},{"role":"assistant","content":[{"type":"text","text":"b"}]}],
		"temperature": 0.2,
		"tokens": 512,
		"webSearchConfig": {"searchContextSize": "high", "maxUses": "three"},
		"codeInterpreterConfig": false,
		"reasoning": {"effort": "low", "display": "hidden"}
	}`)
	p, warnings, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", p.ModelID)
	assert.Equal(t, "hello", p.UserInput.Text())
	assert.Equal(t, types.RoleUser, p.UserInput.Role)
	require.Len(t, p.ConversationHistory, 2)
	assert.Equal(t, "b", p.ConversationHistory[1].Text())
	require.NotNil(t, p.Temperature)
	assert.Equal(t, 0.2, *p.Temperature)
	assert.Equal(t, 512, p.MaxTokens)
	require.NotNil(t, p.WebSearchConfig)
	assert.Equal(t, "high", p.WebSearchConfig.SearchContextSize)
	assert.Len(t, warnings, 1)
	assert.True(t, p.CodeInterpreterConfig.IsDisabled())
	assert.Equal(t, "low", p.Reasoning.Effort)
	assert.Equal(t, reasoning.ModeHidden, p.Reasoning.DisplayMode())

	_, _, err = DecodePayload([]byte(`[1,2]`))
	assert.Error(t, err)
	_, _, err = DecodePayload([]byte(`{`))
	assert.Error(t, err)
}

func TestDecodePayloadTurnObject(t *testing.T) {
	p, warnings, err := DecodePayload([]byte(`{"modelId":"o3","userInput":{"content":[{"type":"text","text":"see"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AA"}}]}}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, types.RoleUser, p.UserInput.Role)
	assert.True(t, p.UserInput.IsMultipart())
	assert.Nil(t, p.WebSearchConfig)
}

func TestResetConversationScopes(t *testing.T) {
	o, _, fr, _ := newOrchestrator(t)
	ctx := context.Background()
	_, err := o.Dispatch(ctx, Payload{ModelID: "o3", ConversationID: "c1", UserInput: types.TextTurn(types.RoleUser, "hi")})
	require.NoError(t, err)

	st, err := o.ConversationState(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", st.ConversationID)
	assert.True(t, st.Responses.HasState)
	assert.Nil(t, st.Assistant)

	require.NoError(t, o.ResetConversation(ctx, "c1", ResetResponses))
	assert.Empty(t, fr.reqs)
	st, err = o.ConversationState(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, st.Responses.HasState)

	_, err = o.ConversationState(ctx, " ")
	assert.True(t, apierr.IsKind(err, apierr.KindValidation))
}

func TestEnhancePrompt(t *testing.T) {
	o, _, _, _ := newOrchestrator(t)
	_, err := o.EnhancePrompt(context.Background(), "cat", "creative")
	assert.True(t, apierr.IsKind(err, apierr.KindServerError))

	store := session.NewMemoryStore(time.Hour, 10)
	t.Cleanup(func() { store.Close() })
	o = New(Deps{Chat: &enhancingChat{}, Responses: &fakeResponder{}, Store: store})
	out, err := o.EnhancePrompt(context.Background(), "cat", "creative")
	require.NoError(t, err)
	assert.Equal(t, "creative: cat", out)

	_, err = o.EnhancePrompt(context.Background(), "  ", "general")
	assert.True(t, apierr.IsKind(err, apierr.KindValidation))
}
