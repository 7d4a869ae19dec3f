// Package server exposes the HTTP API. Authentication happens upstream; the
// gateway injects the caller's identity via the X-User-Id header.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"docmind/internal/app"
	"docmind/internal/rag"
	"docmind/internal/util"
)

const identityHeader = "X-User-Id"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	RAG            *rag.Service
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the document service.
type Server struct {
	app            *app.App
	rag            *rag.Service
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		rag:            cfg.RAG,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("docmind", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/documents", s.withUser(s.handleDocuments))
	s.mux.Handle("/documents/", s.withUser(s.handleDocumentByID))
	s.mux.Handle("/jobs/", s.withUser(s.handleJobByID))
	s.mux.Handle("/search", s.withUser(s.handleSearch))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(identityHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r, userID)
	case http.MethodGet:
		s.handleList(w, userID)
	default:
		methodNotAllowed(w)
	}
}

// /documents/{id} and /documents/{id}/{action}
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGet(w, id, userID)
		case http.MethodDelete:
			s.handleDelete(w, r, id, userID)
		default:
			methodNotAllowed(w)
		}
		return
	}
	switch parts[1] {
	case "process":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleProcess(w, r, id, userID)
	case "chat":
		s.handleChat(w, r, id, userID)
	case "similar":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleSimilar(w, r, id, userID)
	case "questions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleQuestions(w, r, id, userID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID string) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	}
	fileType := r.FormValue("fileType")
	if fileType == "" {
		if idx := strings.LastIndex(header.Filename, "."); idx >= 0 {
			fileType = header.Filename[idx+1:]
		}
	}
	doc, err := s.app.CreateDocument(r.Context(), userID, header.Filename, fileType, data)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleList(w http.ResponseWriter, userID string) {
	docs, err := s.app.ListDocuments(userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, id, userID string) {
	doc, err := s.app.GetDocument(id, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id, userID string) {
	if err := s.app.DeleteDocument(r.Context(), id, userID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request, id, userID string) {
	job, err := s.app.EnqueueProcessing(r.Context(), id, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// /jobs/{id}
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request, userID string) {
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		job, err := s.app.GetJobStatus(r.Context(), id, userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		if err := s.app.CancelJob(r.Context(), id, userID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	default:
		methodNotAllowed(w)
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req searchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	results, err := s.rag.SemanticSearch(r.Context(), userID, req.Query, req.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

type chatRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, id, userID string) {
	// Ownership check up front; chat sub-resources share it.
	if _, err := s.app.GetDocument(id, userID); err != nil {
		writeDomainError(w, err)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req chatRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := s.rag.ChatWithDocument(r.Context(), id, userID, req.Question)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		msgs, err := s.rag.ConversationHistory(id, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": msgs,
			"count":    len(msgs),
		})
	case http.MethodDelete:
		if err := s.rag.ClearConversationHistory(id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request, id, userID string) {
	if _, err := s.app.GetDocument(id, userID); err != nil {
		writeDomainError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := s.rag.FindSimilarDocuments(r.Context(), userID, id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request, id, userID string) {
	if _, err := s.app.GetDocument(id, userID); err != nil {
		writeDomainError(w, err)
		return
	}
	questions, err := s.rag.SuggestedQuestions(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
