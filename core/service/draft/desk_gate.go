package draft

// DefaultAutoSendThreshold is the confidence at or above which a generated
// reply goes out without human review.
const DefaultAutoSendThreshold = 85

// Decision is the auto-send verdict.
type Decision struct {
	AutoSend bool
}

// Decide is the auto-send gate: pure threshold policy, no side effects.
// A non-positive threshold falls back to the default.
func Decide(confidence, threshold int) Decision {
	if threshold <= 0 {
		threshold = DefaultAutoSendThreshold
	}
	return Decision{AutoSend: confidence >= threshold}
}
