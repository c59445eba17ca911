// Package inference is the HTTP client for the external image inference
// collaborator.  The collaborator hosts the actual vision models; this side
// only ships file references and receives scored predictions.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rayvin/radiology-assistant/internal/model"
)

// Client calls the inference service.  The caller bounds each request with
// a context deadline; the embedded HTTP client timeout is only a backstop.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

type inferRequest struct {
	StudyID  string   `json:"study_id"`
	Modality string   `json:"modality"`
	Files    []string `json:"files"`
	TopK     int      `json:"top_k"`
}

type inferResponse struct {
	OK          bool            `json:"ok"`
	Model       string          `json:"model"`
	Predictions []model.Finding `json:"predictions"`
	Error       string          `json:"error,omitempty"`
}

// Result carries the collaborator's scored predictions plus the model name
// it used, for provenance on the stored analysis.
type Result struct {
	Predictions []model.Finding
	Model       string
}

// Analyze sends a study to the inference collaborator.  CR/DX studies hit
// the 2D radiograph endpoint, CT/MR the 3D volume endpoint; the modality
// decides the route.  Failures (timeout, transport, collaborator error)
// surface as plain errors for the orchestrator to translate into a failed
// study state.
func (c *Client) Analyze(ctx context.Context, studyID, modality string, files []string) (Result, error) {
	path := "/v1/infer/xray"
	if modality == "CT" || modality == "MR" {
		path = "/v1/infer/volume"
	}

	body, err := json.Marshal(inferRequest{
		StudyID:  studyID,
		Modality: modality,
		Files:    files,
		TopK:     5,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("inference service returned %d", resp.StatusCode)
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode inference response: %w", err)
	}
	if !out.OK {
		return Result{}, fmt.Errorf("inference error: %s", out.Error)
	}
	return Result{Predictions: out.Predictions, Model: out.Model}, nil
}
