package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayvin/radiology-assistant/internal/model"
)

func TestAnalyzeRoutesByModality(t *testing.T) {
	var gotPath string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":    true,
			"model": "densenet121-res224-all",
			"predictions": []model.Finding{
				{Label: "Pneumonia", Confidence: 0.8},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)

	res, err := c.Analyze(context.Background(), "s1", "CR", []string{"/a.dcm"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/infer/xray", gotPath)
	assert.Equal(t, "densenet121-res224-all", res.Model)
	assert.Equal(t, []model.Finding{{Label: "Pneumonia", Confidence: 0.8}}, res.Predictions)
	assert.Equal(t, float64(5), gotReq["top_k"])

	_, err = c.Analyze(context.Background(), "s2", "CT", []string{"/a.dcm", "/b.dcm"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/infer/volume", gotPath)

	_, err = c.Analyze(context.Background(), "s3", "MR", []string{"/a.dcm"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/infer/volume", gotPath)
}

func TestAnalyzeCollaboratorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "model not loaded"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Analyze(context.Background(), "s1", "CR", []string{"/a.dcm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestAnalyzeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Analyze(context.Background(), "s1", "CR", []string{"/a.dcm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestAnalyzeHonorsContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL).Analyze(ctx, "s1", "CR", []string{"/a.dcm"})
	assert.Error(t, err)
}
