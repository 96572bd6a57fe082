package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/apierr"
	"github.com/n0madic/go-llmportal/internal/codec"
	"github.com/n0madic/go-llmportal/internal/config"
	"github.com/n0madic/go-llmportal/internal/logger"
	"github.com/n0madic/go-llmportal/internal/models"
	"github.com/n0madic/go-llmportal/internal/orchestrator"
	"github.com/n0madic/go-llmportal/internal/session"
)

const (
	// maxBodyBytes limits the size of JSON request bodies.
	maxBodyBytes = 10 << 20
	// maxUploadBytes limits multipart audio uploads.
	maxUploadBytes = 25 << 20
)

// Options are the collaborators a Server is built from.
type Options struct {
	Config       *config.ServerConfig
	Orchestrator *orchestrator.Orchestrator
	Registry     *models.Registry
	Store        session.Store
	Locker       *session.Locker
	Logger       *logger.Logger
}

// Server is the HTTP front of the portal.
type Server struct {
	cfg        *config.ServerConfig
	orch       *orchestrator.Orchestrator
	registry   *models.Registry
	store      session.Store
	locker     *session.Locker
	log        *logger.Logger
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	cancelBg   context.CancelFunc
}

// New creates a server with all routes registered.
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Default().Server
	}
	locker := opts.Locker
	if locker == nil {
		locker = session.NewLocker()
	}
	s := &Server{
		cfg:      cfg,
		orch:     opts.Orchestrator,
		registry: opts.Registry,
		store:    opts.Store,
		locker:   locker,
		log:      logger.OrNop(opts.Logger).Named("server"),
		router:   mux.NewRouter(),
	}
	s.routes()
	s.handler = s.corsMiddleware(s.authMiddleware(s.verboseMiddleware(s.debugMiddleware(s.router))))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{id}/capabilities", s.handleCapabilities).Methods(http.MethodGet)
	api.HandleFunc("/dispatch", s.handleDispatch).Methods(http.MethodPost)
	api.HandleFunc("/images", s.handleImages).Methods(http.MethodPost)
	api.HandleFunc("/audio/transcriptions", s.handleTranscription).Methods(http.MethodPost)
	api.HandleFunc("/audio/speech", s.handleSpeech).Methods(http.MethodPost)
	api.HandleFunc("/assistant/messages", s.handleAssistantSend).Methods(http.MethodPost)
	api.HandleFunc("/assistant/{conversation}/messages", s.handleAssistantMessages).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{conversation}", s.handleResetConversation).Methods(http.MethodDelete)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	api.HandleFunc("/assistant/files", s.handleAssistantFile).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{conversation}", s.handleConversationState).Methods(http.MethodGet)
	api.HandleFunc("/prompts/enhance", s.handleEnhancePrompt).Methods(http.MethodPost)

	// A subrouter without its own handlers reports a method mismatch as
	// not found.
	for _, r := range []*mux.Router{s.router, api} {
		r.NotFoundHandler = http.HandlerFunc(notFound)
		r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	codec.WriteError(w, http.StatusNotFound, "no route for "+r.Method+" "+r.URL.Path)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	codec.WriteError(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed on "+r.URL.Path)
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Prefetch warms the model registry in the background until ctx or
// Shutdown cancels it.
func (s *Server) Prefetch(ctx context.Context) {
	if s.registry == nil {
		return
	}
	bgCtx, cancel := context.WithCancel(ctx)
	s.cancelBg = cancel
	go func() {
		mods := s.registry.Models(bgCtx)
		if bgCtx.Err() != nil {
			s.log.Debug("models.prefetch.cancelled")
			return
		}
		s.log.Debug("models.prefetch.done", zap.Int("count", len(mods)))
	}()
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	s.log.Info("server.listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and closes the session store.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBg != nil {
		s.cancelBg()
	}
	err := s.httpServer.Shutdown(ctx)
	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// --- Helpers ---

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		codec.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}

// lockConversation serialises turns of one conversation. An empty id needs
// no lock.
func (s *Server) lockConversation(ctx context.Context, conversationID string) (func(), error) {
	if conversationID == "" {
		return func() {}, nil
	}
	unlock, err := s.locker.Lock(ctx, conversationID)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindTimeout, "conversation", err)
	}
	return unlock, nil
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Warn("request.failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	codec.WriteAPIError(w, err)
}
