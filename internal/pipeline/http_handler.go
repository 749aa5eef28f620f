package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rpattn/trackdim/internal/domain"
)

// Handler exposes the pipeline trigger as an HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with a POST endpoint.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var trigger Trigger
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read body: %v", err), http.StatusBadRequest)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &trigger); err != nil {
			http.Error(w, fmt.Sprintf("invalid trigger payload: %v", err), http.StatusBadRequest)
			return
		}
	}

	result, err := h.service.Run(r.Context(), trigger)
	if err != nil {
		writeJSON(w, statusForError(err), struct {
			RunResult
			Error string `json:"error"`
		}{result, err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrSourceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrPartialBatch):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
