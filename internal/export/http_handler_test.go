package export

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/trackdim/internal/domain"
)

func TestHandlerExportsCSV(t *testing.T) {
	current, _ := sampleVersions()
	svc := NewService(&stubHistory{current: []domain.TrackVersion{current}}, t.TempDir())
	handler := NewHTTPHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/export?format=csv", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.Rows != 1 || result.Path == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestHandlerRejectsUnknownFormat(t *testing.T) {
	svc := NewService(&stubHistory{}, t.TempDir())
	handler := NewHTTPHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/export?format=pdf", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlerRejectsPost(t *testing.T) {
	svc := NewService(&stubHistory{}, t.TempDir())
	handler := NewHTTPHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/export", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
