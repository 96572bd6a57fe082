package server

import (
	"crypto/subtle"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/codec"
)

var debugDumpMu sync.Mutex

// debugOut is a variable so tests can capture dumps.
var debugOut io.Writer = os.Stderr

const serverAccessTokenError = "Invalid or missing server access token"

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqHeaders := r.Header.Get("Access-Control-Request-Headers")
		if reqHeaders == "" {
			reqHeaders = "Authorization, Content-Type, Accept"
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	expectedToken := strings.TrimSpace(s.cfg.AccessToken)
	if expectedToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !requiresAccessToken(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := parseBearerAuthToken(strings.TrimSpace(r.Header.Get("Authorization")))
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			s.log.Warn("request.unauthorized", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			codec.WriteJSON(w, http.StatusUnauthorized, codec.ErrorBody{Error: codec.ErrorDetail{
				Message: serverAccessTokenError,
				Type:    "authentication",
			}})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseBearerAuthToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

// requiresAccessToken leaves the health probes open.
func requiresAccessToken(path string) bool {
	return strings.HasPrefix(path, "/v1/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (s *Server) verboseMiddleware(next http.Handler) http.Handler {
	if !s.cfg.Verbose {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) debugMiddleware(next http.Handler) http.Handler {
	if !s.cfg.Debug {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Multipart uploads are audio; only their headers are useful.
		withBody := !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/")
		dump, err := httputil.DumpRequest(r, withBody)
		if err != nil {
			s.log.Error("request.dump.failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		} else {
			s.log.Info("request.dump", zap.String("method", r.Method), zap.String("path", r.URL.Path))
			writeDebugDumpBlock("INBOUND REQUEST", dump)
		}
		next.ServeHTTP(w, r)
	})
}

func writeDebugDumpBlock(title string, data []byte) {
	debugDumpMu.Lock()
	defer debugDumpMu.Unlock()

	var b strings.Builder
	b.WriteString("===== " + strings.TrimSpace(title) + " BEGIN =====\n")
	if len(data) > 0 {
		b.Write(data)
		if data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
	}
	b.WriteString("===== " + strings.TrimSpace(title) + " END =====\n")
	_, _ = io.WriteString(debugOut, b.String())
}
