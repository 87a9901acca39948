// Package httpapi exposes the retrieval store and the chat pipeline over
// HTTP.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ragserve/internal/domain"
	"ragserve/internal/logx"
	"ragserve/internal/port"
	"ragserve/internal/usecase"
	"ragserve/web"
)

// Options configures a Server.
type Options struct {
	// StoreErr carries the store open-time failure; when set the retrieval
	// endpoints answer 500 until restart.
	StoreErr string
	// WebRoot serves the UI from disk when set, else the embedded assets.
	WebRoot string
	// MaxBodyBytes caps request bodies (uploads included).
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	UploadsDir   string
	EmbedDim     int
	GenDefaults  domain.GenerateConfig
}

// Server holds the long-lived collaborators. The model mutex serializes
// prefill+generate; it is never held while a store call runs.
type Server struct {
	store    port.DocStore
	model    port.Model
	retr     *usecase.Retriever
	prep     *usecase.ChatPreparer
	ingester *usecase.Ingester
	opts     Options

	modelMu sync.Mutex
}

func NewServer(store port.DocStore, model port.Model, retr *usecase.Retriever, prep *usecase.ChatPreparer, ingester *usecase.Ingester, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 256 << 20
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 120 * time.Second
	}
	return &Server{
		store:    store,
		model:    model,
		retr:     retr,
		prep:     prep,
		ingester: ingester,
		opts:     opts,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /rag/info", s.handleRagInfo)
	mux.HandleFunc("GET /rag/docs", s.handleRagDocs)
	mux.HandleFunc("GET /rag/doc/{id}", s.handleRagDocPage)
	mux.HandleFunc("DELETE /rag/doc/{id}", s.handleRagDocDelete)
	mux.HandleFunc("POST /rag/upload", s.handleRagUpload)
	mux.HandleFunc("GET /mcp/tools/list", s.handleMCPToolsList)
	mux.HandleFunc("POST /mcp/tools/call", s.handleMCPToolsCall)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)

	if s.opts.WebRoot != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.opts.WebRoot)))
	} else {
		mux.Handle("/", web.Handler())
	}

	return s.recoverGuard(s.limitBody(mux))
}

// ListenAndServe runs the server on port until it fails.
func (s *Server) ListenAndServe(port int) error {
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", port),
		Handler:     s.Handler(),
		ReadTimeout: s.opts.ReadTimeout,
	}
	logx.Info("http.listen", "addr", srv.Addr)
	return srv.ListenAndServe()
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverGuard keeps handler panics from killing the process.
func (s *Server) recoverGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logx.Error("http.panic", "path", r.URL.Path, "err", fmt.Sprint(rec))
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"error": "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ready reports whether the store opened; the retrieval endpoints refuse to
// run without it.
func (s *Server) ready() bool { return s.store != nil && s.opts.StoreErr == "" }

func (s *Server) notReadyErr() error {
	return domain.Errf(domain.KindNotReady, "store not initialized: %s", s.opts.StoreErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error("http.write", "err", err.Error())
	}
}

// writeError maps the error kind to a status and emits a JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindInvalidRequest, domain.KindEncoding:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	}
	logx.Warn("http.error", "path", r.URL.Path, "status", status, "err", err.Error())
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
