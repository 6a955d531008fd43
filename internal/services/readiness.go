package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"migration-platform/backend/pkg/models"
)

// HTTPReadinessScorer is an HTTP implementation of the ReadinessScorer
// interface, talking to the assessment-readiness sidecar.
type HTTPReadinessScorer struct {
	url    string
	client *http.Client
}

// NewHTTPReadinessScorer creates a new HTTPReadinessScorer.
func NewHTTPReadinessScorer(url string) *HTTPReadinessScorer {
	return &HTTPReadinessScorer{url: url, client: http.DefaultClient}
}

// Compute posts the flow's accumulated state data to the scoring sidecar
// and returns the decoded score.
func (c *HTTPReadinessScorer) Compute(ctx context.Context, stateData models.StateData) (models.ReadinessScore, error) {
	var score models.ReadinessScore

	requestBody, err := json.Marshal(map[string]any{"state_data": stateData})
	if err != nil {
		return score, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/readiness", bytes.NewBuffer(requestBody))
	if err != nil {
		return score, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return score, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return score, fmt.Errorf("failed to compute readiness: status code %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
		return score, fmt.Errorf("failed to decode response body: %w", err)
	}

	return score, nil
}
