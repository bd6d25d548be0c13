package ingest

import (
	"fmt"

	"github.com/google/uuid"

	"realitymarket/pkg/types"
)

const (
	maxSummaryLen   = 2000
	maxSourceIDLen  = 256
	maxSourceURLLen = 2048
)

// validateEvent implements §4.1 step 2: schema conformance and range
// checks. It does not touch the store — idempotency and symbol
// existence are separate steps. deltaCap is the configured
// DELTA_CAP (§6), never hard-coded here, so a reconfigured cap takes
// effect without a code change.
func validateEvent(e types.Event, deltaCap float64) error {
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("event_id must be a UUID: %w", err)
	}
	if len(e.Stocks) == 0 {
		return fmt.Errorf("stocks must be non-empty")
	}
	for _, s := range e.Stocks {
		if s == "" {
			return fmt.Errorf("stocks entries must be non-empty")
		}
	}
	if e.QuickScore < -1 || e.QuickScore > 1 {
		return fmt.Errorf("quick_score must be in [-1, 1], got %v", e.QuickScore)
	}
	if e.ImpactPoints < -deltaCap || e.ImpactPoints > deltaCap {
		return fmt.Errorf("impact_points must be in [-%v, %v], got %v", deltaCap, deltaCap, e.ImpactPoints)
	}
	if len(e.Summary) > maxSummaryLen {
		return fmt.Errorf("summary exceeds %d chars", maxSummaryLen)
	}
	if len(e.Sources) == 0 {
		return fmt.Errorf("sources must be non-empty")
	}
	for _, s := range e.Sources {
		if s.ID == "" || len(s.ID) > maxSourceIDLen {
			return fmt.Errorf("source id invalid")
		}
		if len(s.URL) > maxSourceURLLen {
			return fmt.Errorf("source url exceeds %d chars", maxSourceURLLen)
		}
		if s.Trust < 0 || s.Trust > 1 {
			return fmt.Errorf("source trust must be in [0, 1], got %v", s.Trust)
		}
	}
	if e.NumIndependentSources < 1 {
		return fmt.Errorf("num_independent_sources must be >= 1")
	}
	switch e.LLMMode {
	case types.LLMTiny, types.LLMSkipped, types.LLMFailed:
	default:
		return fmt.Errorf("llm_mode %q not recognized", e.LLMMode)
	}
	return nil
}
