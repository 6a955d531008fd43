package models

import (
	"fmt"
	"math"
)

// PhaseName identifies one phase of the discovery workflow. The set of
// phases is closed; anything outside the registry (or its legacy aliases)
// is rejected before any state is touched.
type PhaseName string

const (
	PhaseDataImport     PhaseName = "data_import"
	PhaseDataValidation PhaseName = "data_validation"
	PhaseFieldMapping   PhaseName = "field_mapping"
	PhaseDataCleansing  PhaseName = "data_cleansing"
	PhaseAssetInventory PhaseName = "asset_inventory"
)

// PhaseDefinition is one entry of the static phase registry.
type PhaseDefinition struct {
	Name           PhaseName
	Weight         float64
	Ordinal        int
	CompletionFlag string
}

// phaseRegistry is the single source of truth for phase names, weights and
// completion-flag columns. Weights sum to 100 but the progress algorithm
// does not depend on that (it caps at 100 instead).
var phaseRegistry = []PhaseDefinition{
	{Name: PhaseDataImport, Weight: 20.0, Ordinal: 1, CompletionFlag: "data_import_completed"},
	{Name: PhaseDataValidation, Weight: 20.0, Ordinal: 2, CompletionFlag: "data_validation_completed"},
	{Name: PhaseFieldMapping, Weight: 20.0, Ordinal: 3, CompletionFlag: "field_mapping_completed"},
	{Name: PhaseDataCleansing, Weight: 20.0, Ordinal: 4, CompletionFlag: "data_cleansing_completed"},
	{Name: PhaseAssetInventory, Weight: 20.0, Ordinal: 5, CompletionFlag: "asset_inventory_completed"},
}

// legacyAliases maps phase names used by older clients onto the canonical
// registry. Names with no canonical counterpart (dependencies, tech_debt)
// are only accepted on the master-flow enrichment path, as free-form
// transition labels.
var legacyAliases = map[string]PhaseName{
	"attribute_mapping": PhaseFieldMapping,
	"inventory":         PhaseAssetInventory,
}

// Phases returns the registry entries in ordinal order. The returned slice
// is a copy; callers may not mutate the registry.
func Phases() []PhaseDefinition {
	out := make([]PhaseDefinition, len(phaseRegistry))
	copy(out, phaseRegistry)
	return out
}

// PhaseByName looks up a registry entry by canonical name.
func PhaseByName(name PhaseName) (PhaseDefinition, bool) {
	for _, def := range phaseRegistry {
		if def.Name == name {
			return def, true
		}
	}
	return PhaseDefinition{}, false
}

// ParsePhase resolves a caller-supplied phase string to a canonical phase,
// accepting legacy aliases. Unknown names return ErrInvalidPhase.
func ParsePhase(raw string) (PhaseName, error) {
	if alias, ok := legacyAliases[raw]; ok {
		return alias, nil
	}
	if _, ok := PhaseByName(PhaseName(raw)); ok {
		return PhaseName(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhase, raw)
}

// CompletionSnapshot is a read-only view of per-phase completion used by
// the progress calculator. Callers merging an in-flight update must set the
// just-completed phase before computing progress; the calculator only reads
// what it is given.
type CompletionSnapshot map[PhaseName]bool

// ComputeProgress sums the weights of completed phases, rounded to one
// decimal and capped at 100. Pure function: no side effects, deterministic.
func ComputeProgress(snap CompletionSnapshot) float64 {
	var progress float64
	for _, def := range phaseRegistry {
		if snap[def.Name] {
			progress += def.Weight
		}
	}
	progress = math.Round(progress*10) / 10
	return math.Min(100.0, progress)
}

// AllPhasesComplete reports whether every registered phase is done.
func AllPhasesComplete(snap CompletionSnapshot) bool {
	for _, def := range phaseRegistry {
		if !snap[def.Name] {
			return false
		}
	}
	return true
}
