// Package scope loads and validates the authorization envelope a run is
// bound to: the scope JSON file and the AUTH_OK environment gate.
package scope

import (
	"fmt"
	"os"

	"github.com/antigravity-dev/reconx/internal/reconutil"

	"github.com/antigravity-dev/reconx/internal/model"
)

// CheckAuthGate returns an error unless AUTH_OK=1 is set in the
// environment, the only authentication the core demands.
func CheckAuthGate() error {
	if os.Getenv("AUTH_OK") != "1" {
		return fmt.Errorf("AUTH_OK=1 is required in the environment to run reconx")
	}
	return nil
}

// Load reads and validates a scope file. Any missing/empty/invalid field
// aborts with a descriptive error.
func Load(path string) (model.Scope, error) {
	var s model.Scope
	if err := reconutil.LoadJSON(path, &s); err != nil {
		return model.Scope{}, fmt.Errorf("scope: read %s: %w", path, err)
	}
	if len(s.Targets) == 0 {
		return model.Scope{}, fmt.Errorf("scope: targets must be non-empty")
	}
	if len(s.AllowedTools) == 0 {
		return model.Scope{}, fmt.Errorf("scope: allowed_tools must be non-empty")
	}
	if s.TimeBudgetMinutes <= 0 {
		return model.Scope{}, fmt.Errorf("scope: time_budget_minutes must be a positive integer")
	}
	return s, nil
}
