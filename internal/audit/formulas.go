package audit

import "math"

// CapSingleSourceInfluence bounds the impact actually applied when an
// admin approves a quarantined event, on top of the suspicion check
// that flagged it in the first place (§9.1 supplemented feature,
// grounded on the original implementation's `cap_single_source_influence`).
//
// fromSource and fromAll are the rolling-window aggregates the
// suspicion rule itself uses (§4.6 rule 2): the signed sum of
// impact_points attributed to sourceID, and the sum of |impact_points|
// from every source, excluding the event under decision.
func CapSingleSourceInfluence(proposedImpact, fromSource, fromAll, maxInfluence float64) float64 {
	if fromAll == 0 {
		return proposedImpact
	}

	maxAllowed := fromAll*maxInfluence - math.Abs(fromSource)
	if maxAllowed < 0 {
		maxAllowed = 0
	}

	if math.Abs(proposedImpact) <= maxAllowed {
		return proposedImpact
	}
	if proposedImpact > 0 {
		return maxAllowed
	}
	return -maxAllowed
}
