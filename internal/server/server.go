package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"research-rag/internal/config"
	"research-rag/internal/helper"
	"research-rag/internal/models"
)

const requestIDHeader = "X-Request-ID"

// Asker answers questions against the served index.
type Asker interface {
	Query(ctx context.Context, question string) (*models.PromptResponse, error)
}

// Library stores uploaded documents and rebuilds the index from them.
type Library interface {
	Upload(ctx context.Context, name string, r io.Reader) (*models.DocumentInfo, *models.IndexBuild, error)
	ListDocuments(ctx context.Context) ([]models.DocumentInfo, error)
}

type Server struct {
	cfg      config.ServerConfig
	asker    Asker
	library  Library
	metrics  *Metrics
	validate *validator.Validate
	router   *mux.Router
}

func New(asker Asker, library Library, cfg config.ServerConfig) *Server {
	s := &Server{
		cfg:      cfg,
		asker:    asker,
		library:  library,
		metrics:  NewMetrics(),
		validate: newValidator(),
	}
	s.router = s.createRouter()
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func (s *Server) createRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.metrics.instrument)

	router.HandleFunc("/", s.rootHandler).Methods("GET")
	router.HandleFunc("/health", s.healthHandler).Methods("GET")
	router.HandleFunc("/docs", s.docsHandler).Methods("GET")
	router.HandleFunc("/upload", s.uploadHandler).Methods("POST")
	router.HandleFunc("/ask", s.askHandler).Methods("POST")
	router.HandleFunc("/documents", s.documentsHandler).Methods("GET")
	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	// router.Use only wraps matched routes
	router.NotFoundHandler = s.metrics.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	}))
	router.MethodNotAllowedHandler = s.metrics.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	}))
	return router
}

// Handler returns the router wrapped in request-scoped logging.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	})(h)
	h = requestID(h)
	h = hlog.NewHandler(log.Logger)(h)
	return h
}

// requestID propagates or assigns X-Request-ID and adds it to the request
// logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			var err error
			if id, err = helper.GenerateUUID(); err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("Error generating request id")
			}
		}
		if id != "" {
			w.Header().Set(requestIDHeader, id)
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("req_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createServer(ln net.Listener) *http.Server {
	return &http.Server{
		Addr:         ln.Addr().String(),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := s.createServer(ln)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("HTTP server stopped")
	return nil
}
