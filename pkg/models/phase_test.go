package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    PhaseName
		wantErr bool
	}{
		{name: "canonical", raw: "data_import", want: PhaseDataImport},
		{name: "canonical field mapping", raw: "field_mapping", want: PhaseFieldMapping},
		{name: "legacy attribute_mapping alias", raw: "attribute_mapping", want: PhaseFieldMapping},
		{name: "legacy inventory alias", raw: "inventory", want: PhaseAssetInventory},
		{name: "legacy dependencies is not a phase", raw: "dependencies", wantErr: true},
		{name: "legacy tech_debt is not a phase", raw: "tech_debt", wantErr: true},
		{name: "unknown", raw: "quantum_analysis", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePhase(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPhase)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPhaseRegistry(t *testing.T) {
	phases := Phases()
	require.Len(t, phases, 5)

	var total float64
	for i, def := range phases {
		assert.Equal(t, i+1, def.Ordinal)
		assert.NotEmpty(t, def.CompletionFlag)
		total += def.Weight
	}
	assert.Equal(t, 100.0, total)
}

func TestComputeProgress(t *testing.T) {
	t.Run("empty snapshot is zero", func(t *testing.T) {
		assert.Equal(t, 0.0, ComputeProgress(CompletionSnapshot{}))
	})

	t.Run("partial completion sums weights", func(t *testing.T) {
		snap := CompletionSnapshot{
			PhaseDataImport:     true,
			PhaseDataValidation: true,
		}
		assert.Equal(t, 40.0, ComputeProgress(snap))
	})

	t.Run("all complete is exactly 100", func(t *testing.T) {
		snap := CompletionSnapshot{}
		for _, def := range Phases() {
			snap[def.Name] = true
		}
		assert.Equal(t, 100.0, ComputeProgress(snap))
	})

	t.Run("deterministic", func(t *testing.T) {
		snap := CompletionSnapshot{
			PhaseFieldMapping:   true,
			PhaseDataCleansing:  true,
			PhaseAssetInventory: true,
		}
		first := ComputeProgress(snap)
		for i := 0; i < 50; i++ {
			assert.Equal(t, first, ComputeProgress(snap))
		}
	})

	t.Run("always within bounds", func(t *testing.T) {
		// Exhaustive over all 32 flag combinations.
		phases := Phases()
		for mask := 0; mask < 1<<len(phases); mask++ {
			snap := CompletionSnapshot{}
			for i, def := range phases {
				snap[def.Name] = mask&(1<<i) != 0
			}
			p := ComputeProgress(snap)
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 100.0)
		}
	})
}

func TestAllPhasesComplete(t *testing.T) {
	snap := CompletionSnapshot{}
	for _, def := range Phases() {
		assert.False(t, AllPhasesComplete(snap))
		snap[def.Name] = true
	}
	assert.True(t, AllPhasesComplete(snap))
}
