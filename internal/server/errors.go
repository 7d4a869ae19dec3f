package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"docmind/pkg/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      codeForStatus(status),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

// writeDomainError maps a tagged error kind to a transport status. This is
// the only place transport semantics touch error kinds.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusForKind(kind), errorResponse{
		Error:     err.Error(),
		Code:      strings.ToUpper(string(kind)),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrKindValidation:
		return http.StatusBadRequest
	case domain.ErrKindNotFound:
		return http.StatusNotFound
	case domain.ErrKindUnsupportedType:
		return http.StatusUnsupportedMediaType
	case domain.ErrKindExtraction:
		return http.StatusUnprocessableEntity
	case domain.ErrKindNoRelevantContent:
		return http.StatusUnprocessableEntity
	case domain.ErrKindConflict:
		return http.StatusConflict
	case domain.ErrKindRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrKindEmbedding, domain.ErrKindQueue:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
