package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayvin/radiology-assistant/internal/model"
)

func TestGenerate(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/report", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":              true,
			"recommendations": "Recommend CT follow-up within 24 hours.",
		})
	}))
	defer srv.Close()

	text, err := NewClient(srv.URL).Generate(context.Background(), "CR",
		[]model.Finding{{Label: "Mass", Confidence: 0.7}}, model.UrgencyUrgent)
	require.NoError(t, err)
	assert.Equal(t, "Recommend CT follow-up within 24 hours.", text)
	assert.Equal(t, "urgent", gotReq["urgency"])
	assert.Equal(t, "CR", gotReq["modality"])
}

func TestGenerateCollaboratorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "llm quota exceeded"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Generate(context.Background(), "CR", nil, model.UrgencyRoutine)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm quota exceeded")
}

func TestGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Generate(context.Background(), "CR", nil, model.UrgencyRoutine)
	assert.Error(t, err)
}
