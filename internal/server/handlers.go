package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/assistant"
	"github.com/n0madic/go-llmportal/internal/audio"
	"github.com/n0madic/go-llmportal/internal/codec"
	"github.com/n0madic/go-llmportal/internal/image"
	"github.com/n0madic/go-llmportal/internal/models"
	"github.com/n0madic/go-llmportal/internal/orchestrator"
	"github.com/n0madic/go-llmportal/internal/session"
)

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	var data []models.RemoteModel
	if s.registry != nil {
		data = s.registry.Models(r.Context())
	} else {
		data = models.StaticFallback()
	}
	codec.WriteJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

type capabilitiesResponse struct {
	Model        string              `json:"model"`
	Known        bool                `json:"known"`
	Capabilities models.Capabilities `json:"capabilities"`
	Route        *orchestrator.Route `json:"route,omitempty"`
	RouteError   string              `json:"routeError,omitempty"`
	Image        *image.Capabilities `json:"image,omitempty"`
	Audio        *audio.Capabilities `json:"audio,omitempty"`
	Remote       *models.RemoteModel `json:"remote,omitempty"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	id := models.NormalizeModelName(mux.Vars(r)["id"])
	resp := capabilitiesResponse{Model: id, Known: models.IsKnown(id), Capabilities: models.Classify(id)}

	if route, err := orchestrator.Resolve(id); err != nil {
		resp.RouteError = err.Error()
	} else {
		resp.Route = &route
	}
	if c := resp.Capabilities; c.ImageGeneration {
		ic := image.CapabilitiesFor(id)
		resp.Image = &ic
	}
	if c := resp.Capabilities; c.Transcription || c.TTS {
		ac := audio.CapabilitiesFor(id)
		resp.Audio = &ac
	}
	if s.registry != nil {
		if m, ok := s.registry.Lookup(id); ok {
			resp.Remote = &m
		}
	}
	codec.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	p, warnings, err := orchestrator.DecodePayload(body)
	if err != nil {
		codec.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, warn := range warnings {
		s.log.Warn("dispatch.payload.warning", zap.String("warning", warn))
	}

	unlock, err := s.lockConversation(r.Context(), p.ConversationID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer unlock()

	res, err := s.orch.Dispatch(r.Context(), p)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, res)
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	image.Options
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	h := s.orch.Image()
	if h == nil {
		codec.WriteError(w, http.StatusNotImplemented, "image generation is not configured")
		return
	}
	var req imageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start := strings.ToLower(strings.TrimSpace(req.PreferredModel))
	if !image.Supports(start) {
		start = image.ModelGPTImage
	}
	if problems := image.ValidateOptions(start, req.Options); len(problems) > 0 {
		s.writeFailure(w, r, apierr.New(apierr.KindValidation, image.Endpoint, "%s", strings.Join(problems, "; ")))
		return
	}

	res, err := h.Generate(r.Context(), req.Prompt, req.Options)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	h := s.orch.Audio()
	if h == nil {
		codec.WriteError(w, http.StatusNotImplemented, "audio is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		codec.WriteError(w, http.StatusBadRequest, "expected a multipart form with a file field: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		codec.WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	req := audio.TranscribeRequest{
		Reader:         file,
		Filename:       header.Filename,
		PreferredModel: r.FormValue("model"),
	}
	if v := strings.TrimSpace(r.FormValue("usePrompting")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			codec.WriteError(w, http.StatusBadRequest, "usePrompting must be a boolean")
			return
		}
		req.UsePrompting = &b
	}

	res, err := h.Transcribe(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	h := s.orch.Audio()
	if h == nil {
		codec.WriteError(w, http.StatusNotImplemented, "audio is not configured")
		return
	}
	var req audio.SpeechRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Speak(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Audio)))
	w.Header().Set("X-Model-Used", res.Model)
	w.Header().Set("X-Voice", res.Voice)
	if res.UsedFallback {
		w.Header().Set("X-Fallback-Reason", res.FallbackReason)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Audio); err != nil {
		s.log.Debug("speech.write.failed", zap.Error(err))
	}
}

type assistantRequest struct {
	ConversationID string `json:"conversationId"`
	Model          string `json:"model"`
	SystemMessage  string `json:"systemMessage"`
	Message        string `json:"message"`
}

func (s *Server) handleAssistantSend(w http.ResponseWriter, r *http.Request) {
	h := s.orch.Assistant()
	if h == nil {
		codec.WriteError(w, http.StatusNotImplemented, "assistant is not configured")
		return
	}
	var req assistantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeFailure(w, r, apierr.New(apierr.KindValidation, assistant.Endpoint, "message is required"))
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = session.NewID()
	}

	unlock, err := s.lockConversation(r.Context(), req.ConversationID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer unlock()

	res, err := h.Send(r.Context(), req.ConversationID, assistant.Request{
		Model:         req.Model,
		SystemMessage: req.SystemMessage,
		Message:       req.Message,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleAssistantMessages(w http.ResponseWriter, r *http.Request) {
	h := s.orch.Assistant()
	if h == nil {
		codec.WriteError(w, http.StatusNotImplemented, "assistant is not configured")
		return
	}
	conversationID := mux.Vars(r)["conversation"]
	msgs, err := h.Messages(r.Context(), conversationID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, map[string]any{"conversationId": conversationID, "data": msgs})
}

func (s *Server) handleResetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["conversation"]
	unlock, err := s.lockConversation(r.Context(), conversationID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer unlock()

	scope := r.URL.Query().Get("scope")
	if err := s.orch.ResetConversation(r.Context(), conversationID, scope); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, map[string]any{"conversationId": conversationID, "reset": true, "scope": scope})
}

func (s *Server) handleConversationState(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.ConversationState(r.Context(), mux.Vars(r)["conversation"])
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, st)
}

type enhanceRequest struct {
	Prompt string `json:"prompt"`
	Kind   string `json:"kind"`
}

func (s *Server) handleEnhancePrompt(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := s.orch.EnhancePrompt(r.Context(), req.Prompt, req.Kind)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, map[string]any{
		"prompt":   req.Prompt,
		"enhanced": out,
		"changed":  out != req.Prompt,
	})
}

// handleAssistantFile stages the upload under its own name in a temp dir
// so the upstream sees the caller's filename.
func (s *Server) handleAssistantFile(w http.ResponseWriter, r *http.Request) {
	h := s.orch.Assistant()
	if h == nil {
		codec.WriteError(w, http.StatusNotImplemented, "assistant is not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		codec.WriteError(w, http.StatusBadRequest, "expected a multipart form with a file field: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		codec.WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "llmportal-upload-")
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Join(dir, name)
	if err := writeFile(path, file); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	f, err := h.AttachFile(r.Context(), path)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, f)
}

func writeFile(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

type statsResponse struct {
	orchestrator.Stats
	ActiveConversations int `json:"activeConversations"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.Stats(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	codec.WriteJSON(w, http.StatusOK, statsResponse{Stats: st, ActiveConversations: s.locker.Held()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := readBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			codec.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
			return false
		}
		codec.WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
