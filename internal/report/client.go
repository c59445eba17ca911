// Package report is the HTTP client for the external report generation
// collaborator, which turns structured findings into free-text clinical
// recommendations.  A failure here never blocks delivery of the structured
// result; the orchestrator completes the study with empty recommendations
// and a degraded flag instead.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rayvin/radiology-assistant/internal/model"
)

// Client calls the report service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type reportRequest struct {
	Modality string          `json:"modality"`
	Findings []model.Finding `json:"findings"`
	Urgency  string          `json:"urgency"`
}

type reportResponse struct {
	OK              bool   `json:"ok"`
	Recommendations string `json:"recommendations"`
	Error           string `json:"error,omitempty"`
}

// Generate requests free-text recommendations for the given findings and
// triage level.
func (c *Client) Generate(ctx context.Context, modality string, findings []model.Finding, urgency model.Urgency) (string, error) {
	body, err := json.Marshal(reportRequest{
		Modality: modality,
		Findings: findings,
		Urgency:  string(urgency),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/report", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("report request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("report service returned %d", resp.StatusCode)
	}

	var out reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode report response: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("report error: %s", out.Error)
	}
	return out.Recommendations, nil
}
