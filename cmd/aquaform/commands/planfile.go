package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aquaform/aquaform/pkg/engine"
)

// writePlanFile saves plan as indented JSON for a later apply --plan.
func writePlanFile(path string, plan *engine.Plan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// readPlanFile loads a plan saved by writePlanFile.
func readPlanFile(path string) (*engine.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	var plan engine.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file %s: %w", path, err)
	}
	if plan.ID == "" {
		return nil, fmt.Errorf("plan file %s has no plan id", path)
	}
	return &plan, nil
}
