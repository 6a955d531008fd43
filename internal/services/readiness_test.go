package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-platform/backend/pkg/models"
)

func TestHTTPReadinessScorer(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(models.ReadinessScore{
			Overall:             92.5,
			DataQuality:         90,
			MappingCompleteness: 95,
			AssetCoverage:       88,
			DependencyAnalysis:  97,
			AssessmentReady:     true,
		})
	}))
	defer srv.Close()

	scorer := NewHTTPReadinessScorer(srv.URL)
	score, err := scorer.Compute(context.Background(), models.StateData{
		"data_import": map[string]any{"records_processed": float64(120)},
	})
	require.NoError(t, err)

	assert.Equal(t, "/readiness", gotPath)
	assert.Contains(t, gotBody, "state_data")
	assert.Equal(t, 92.5, score.Overall)
	assert.True(t, score.AssessmentReady)
}

func TestHTTPReadinessScorerNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	scorer := NewHTTPReadinessScorer(srv.URL)
	_, err := scorer.Compute(context.Background(), models.StateData{})
	assert.Error(t, err)
}
