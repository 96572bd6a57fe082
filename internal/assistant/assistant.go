// Package assistant runs the assistant/thread/run workflow with bounded
// polling. The assistant and thread ids of each conversation live in the
// session store.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/config"
	"github.com/n0madic/go-llmportal/internal/logger"
	"github.com/n0madic/go-llmportal/internal/session"
	"github.com/n0madic/go-llmportal/internal/types"
	"github.com/n0madic/go-llmportal/internal/upstream"
)

const (
	Endpoint = "assistant"

	DefaultName         = "Assistant"
	DefaultPollInterval = time.Second
	DefaultMaxWait      = 5 * time.Minute
)

// API is the subset of the go-openai client used by the workflow.
type API interface {
	CreateAssistant(ctx context.Context, request goopenai.AssistantRequest) (goopenai.Assistant, error)
	RetrieveAssistant(ctx context.Context, assistantID string) (goopenai.Assistant, error)
	CreateThread(ctx context.Context, request goopenai.ThreadRequest) (goopenai.Thread, error)
	RetrieveThread(ctx context.Context, threadID string) (goopenai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request goopenai.MessageRequest) (goopenai.Message, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (goopenai.MessagesList, error)
	CreateRun(ctx context.Context, threadID string, request goopenai.RunRequest) (goopenai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (goopenai.Run, error)
	CreateFile(ctx context.Context, request goopenai.FileRequest) (goopenai.File, error)
}

// Handler drives assistant runs.
type Handler struct {
	api   API
	store session.Store
	cfg   config.AssistantConfig
	log   *logger.Logger
}

// New returns an assistant handler. Zero PollInterval and MaxWait take
// their defaults; MaxPolls 0 leaves the poll count unbounded.
func New(api API, store session.Store, cfg config.AssistantConfig, log *logger.Logger) *Handler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	return &Handler{api: api, store: store, cfg: cfg, log: logger.OrNop(log).Named("assistant")}
}

// Request is one assistant turn.
type Request struct {
	Model         string
	SystemMessage string
	Message       string
}

// State reports the assistant and thread bound to a conversation.
type State struct {
	HasAssistant bool   `json:"hasAssistant"`
	HasThread    bool   `json:"hasThread"`
	AssistantID  string `json:"assistantId,omitempty"`
	ThreadID     string `json:"threadId,omitempty"`
}

// Message is a thread message flattened to text.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	RunID     string `json:"run_id,omitempty"`
}

// File is an uploaded file.
type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int    `json:"bytes"`
	Purpose  string `json:"purpose"`
}

// Send posts msg to the conversation's thread, runs the assistant and
// returns the newest assistant reply.
func (h *Handler) Send(ctx context.Context, conversationID string, req Request) (*types.Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apierr.New(apierr.KindValidation, Endpoint, "message is required")
	}
	assistantID, threadID, err := h.ensure(ctx, conversationID, req)
	if err != nil {
		return nil, err
	}
	log := h.log.With(zap.String("conversation_id", conversationID), zap.String("thread_id", threadID))

	if _, err := h.api.CreateMessage(ctx, threadID, goopenai.MessageRequest{
		Role:    string(goopenai.ThreadMessageRoleUser),
		Content: req.Message,
	}); err != nil {
		return nil, upstream.Classify(Endpoint, err)
	}
	run, err := h.api.CreateRun(ctx, threadID, goopenai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return nil, upstream.Classify(Endpoint, err)
	}
	log.Debug("assistant.run.created", zap.String("run_id", run.ID))

	run, err = h.wait(ctx, threadID, run)
	if err != nil {
		return nil, err
	}

	content, err := h.latestReply(ctx, threadID, run.ID)
	if err != nil {
		return nil, err
	}
	return &types.Result{
		Content:        content,
		Response:       content,
		ConversationID: conversationID,
		Model:          req.Model,
		Handler:        types.HandlerAssistant,
	}, nil
}

// ensure resolves the assistant and thread for the conversation: stored
// ids first, then configured ids, then freshly created ones.
func (h *Handler) ensure(ctx context.Context, conversationID string, req Request) (string, string, error) {
	var entry session.Entry
	if conversationID != "" {
		e, err := h.store.Get(ctx, conversationID)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			return "", "", fmt.Errorf("load session: %w", err)
		}
		entry = e
	}
	assistantID, threadID := entry.AssistantID, entry.ThreadID

	if assistantID == "" {
		if h.cfg.AssistantID != "" {
			a, err := h.api.RetrieveAssistant(ctx, h.cfg.AssistantID)
			if err != nil {
				return "", "", upstream.Classify(Endpoint, err)
			}
			assistantID = a.ID
			h.log.Info("assistant.reused", zap.String("assistant_id", assistantID))
		} else {
			if strings.TrimSpace(req.Model) == "" {
				return "", "", apierr.New(apierr.KindValidation, Endpoint, "model is required to create an assistant")
			}
			name := DefaultName
			ar := goopenai.AssistantRequest{
				Model: req.Model,
				Name:  &name,
				Tools: []goopenai.AssistantTool{
					{Type: goopenai.AssistantToolTypeFileSearch},
					{Type: goopenai.AssistantToolTypeCodeInterpreter},
				},
			}
			if req.SystemMessage != "" {
				instructions := req.SystemMessage
				ar.Instructions = &instructions
			}
			a, err := h.api.CreateAssistant(ctx, ar)
			if err != nil {
				return "", "", upstream.Classify(Endpoint, err)
			}
			assistantID = a.ID
			h.log.Info("assistant.created", zap.String("assistant_id", assistantID), zap.String("model", req.Model))
		}
	}

	if threadID == "" {
		if h.cfg.ThreadID != "" {
			t, err := h.api.RetrieveThread(ctx, h.cfg.ThreadID)
			if err != nil {
				return "", "", upstream.Classify(Endpoint, err)
			}
			threadID = t.ID
		} else {
			t, err := h.api.CreateThread(ctx, goopenai.ThreadRequest{})
			if err != nil {
				return "", "", upstream.Classify(Endpoint, err)
			}
			threadID = t.ID
			h.log.Info("assistant.thread.created", zap.String("thread_id", threadID))
		}
	}

	if conversationID != "" && (assistantID != entry.AssistantID || threadID != entry.ThreadID) {
		if _, err := h.store.Update(ctx, conversationID, func(e *session.Entry) {
			e.AssistantID = assistantID
			e.ThreadID = threadID
		}); err != nil {
			h.log.Warn("assistant.session.save_failed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return assistantID, threadID, nil
}

func (h *Handler) latestReply(ctx context.Context, threadID, runID string) (string, error) {
	order := "desc"
	list, err := h.api.ListMessage(ctx, threadID, nil, &order, nil, nil, &runID)
	if err != nil {
		return "", upstream.Classify(Endpoint, err)
	}
	msgs := list.Messages
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt > msgs[j].CreatedAt })
	for _, m := range msgs {
		if m.Role != string(goopenai.ThreadMessageRoleAssistant) {
			continue
		}
		return messageText(m), nil
	}
	return "", apierr.New(apierr.KindUpstream, Endpoint, "no assistant messages found in the thread")
}

// Messages lists the conversation's thread oldest first.
func (h *Handler) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	threadID := ""
	entry, err := h.store.Get(ctx, conversationID)
	switch {
	case err == nil:
		threadID = entry.ThreadID
	case !errors.Is(err, session.ErrNotFound):
		return nil, fmt.Errorf("load session: %w", err)
	}
	if threadID == "" {
		return nil, apierr.New(apierr.KindValidation, Endpoint, "no thread for conversation %q", conversationID)
	}

	order := "asc"
	list, err := h.api.ListMessage(ctx, threadID, nil, &order, nil, nil, nil)
	if err != nil {
		return nil, upstream.Classify(Endpoint, err)
	}
	msgs := list.Messages
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt < msgs[j].CreatedAt })
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		msg := Message{ID: m.ID, Role: m.Role, Content: messageText(m), CreatedAt: int64(m.CreatedAt)}
		if m.RunID != nil {
			msg.RunID = *m.RunID
		}
		out = append(out, msg)
	}
	return out, nil
}

// AttachFile uploads path with purpose "assistants".
func (h *Handler) AttachFile(ctx context.Context, path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, apierr.New(apierr.KindValidation, Endpoint, "file path is required")
	}
	f, err := h.api.CreateFile(ctx, goopenai.FileRequest{
		FilePath: path,
		Purpose:  string(goopenai.PurposeAssistants),
	})
	if err != nil {
		return nil, upstream.Classify(Endpoint, err)
	}
	h.log.Info("assistant.file.uploaded", zap.String("file_id", f.ID), zap.String("filename", f.FileName))
	return &File{ID: f.ID, Filename: f.FileName, Bytes: f.Bytes, Purpose: f.Purpose}, nil
}

// ResetState forgets the assistant and thread of the conversation.
func (h *Handler) ResetState(ctx context.Context, conversationID string) error {
	_, err := h.store.Update(ctx, conversationID, func(e *session.Entry) {
		e.AssistantID = ""
		e.ThreadID = ""
	})
	return err
}

// State reports the ids bound to the conversation.
func (h *Handler) State(ctx context.Context, conversationID string) (State, error) {
	entry, err := h.store.Get(ctx, conversationID)
	if errors.Is(err, session.ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}
	return State{
		HasAssistant: entry.AssistantID != "",
		HasThread:    entry.ThreadID != "",
		AssistantID:  entry.AssistantID,
		ThreadID:     entry.ThreadID,
	}, nil
}

func messageText(m goopenai.Message) string {
	parts := make([]string, 0, len(m.Content))
	for _, c := range m.Content {
		if c.Text != nil {
			parts = append(parts, c.Text.Value)
		}
	}
	return strings.Join(parts, "\n")
}
