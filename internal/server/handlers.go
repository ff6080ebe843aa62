package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"research-rag/internal/models"
)

const (
	maxAskBodyBytes = 1 << 20
	multipartMemory = 8 << 20
)

type rootResponse struct {
	Message string `json:"message"`
	Docs    string `json:"docs"`
	Health  string `json:"health"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type askRequest struct {
	Query string `json:"query" validate:"required,notblank"`
}

type askResponse struct {
	Query   string          `json:"query"`
	Answer  string          `json:"answer"`
	Sources []models.Source `json:"sources"`
}

type documentsResponse struct {
	Documents []models.DocumentInfo `json:"documents"`
}

type routeInfo struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

type docsResponse struct {
	Routes []routeInfo `json:"routes"`
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{
		Message: "Welcome to the Research RAG API",
		Docs:    "/docs",
		Health:  "/health",
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy"})
}

func (s *Server) docsHandler(w http.ResponseWriter, r *http.Request) {
	var routes []routeInfo
	err := s.router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := route.GetMethods()
		routes = append(routes, routeInfo{Path: path, Methods: methods})
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })
	writeJSON(w, http.StatusOK, docsResponse{Routes: routes})
}

func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxUploadBytes > 0 {
		if r.ContentLength > s.cfg.MaxUploadBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes),
			})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		s.writeError(w, r, models.InvalidInputf("parse multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, models.InvalidInputf("form field \"file\" is required"))
		return
	}
	defer file.Close()

	info, build, err := s.library.Upload(r.Context(), header.Filename, file)
	if info != nil {
		s.metrics.ObserveBuild(build, err)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().
		Str("file", info.Filename).
		Str("version", build.Version).
		Int("chunks", build.Chunks).
		Msg("Upload indexed")

	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("File %s uploaded and indexed: %d documents, %d chunks", info.Filename, build.Documents, build.Chunks),
	})
}

func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { s.metrics.askDuration.Observe(time.Since(start).Seconds()) }()

	var req askRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, models.InvalidInputf("decode request body: %v", err))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			err = models.InvalidInputf("field %q failed %q", strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		s.writeError(w, r, err)
		return
	}

	resp, err := s.asker.Query(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sources := resp.Sources
	if sources == nil {
		sources = []models.Source{}
	}
	writeJSON(w, http.StatusOK, askResponse{
		Query:   resp.Query,
		Answer:  resp.Answer,
		Sources: sources,
	})
}

func (s *Server) documentsHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := s.library.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []models.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var rte *models.RemoteTransportError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &rte):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	event := hlog.FromRequest(r).Warn()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Error()
	}
	event.Err(err).Int("status", status).Msg("Request failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
