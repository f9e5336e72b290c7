package models

// OutcomeKind tags a retrieval outcome
type OutcomeKind string

const (
	// OutcomeFound means at least one chunk scored at or above the relevance threshold
	OutcomeFound OutcomeKind = "found"
	// OutcomeEmpty means there is no relevant context for the question
	OutcomeEmpty OutcomeKind = "empty"
)

// EmptyReason explains why an outcome is empty
type EmptyReason string

const (
	EmptyReasonIndexEmpty      EmptyReason = "index_empty"
	EmptyReasonNoResults       EmptyReason = "no_results"
	EmptyReasonBelowThreshold  EmptyReason = "below_threshold"
	EmptyReasonRetrievalFailed EmptyReason = "retrieval_failed"
)

// RetrievalOutcome is either Found(results) or Empty(reason).
// An empty outcome is an expected state, not an error.
type RetrievalOutcome struct {
	Kind     OutcomeKind     `json:"kind"`
	Result   RetrievalResult `json:"result"`
	Reason   EmptyReason     `json:"reason,omitempty"`
	TopScore float32         `json:"top_score"`
}

// Found builds a found outcome
func Found(result RetrievalResult) RetrievalOutcome {
	return RetrievalOutcome{
		Kind:     OutcomeFound,
		Result:   result,
		TopScore: result.TopScore(),
	}
}

// Empty builds an empty outcome. The result is kept for diagnostics only.
func Empty(reason EmptyReason, result RetrievalResult) RetrievalOutcome {
	return RetrievalOutcome{
		Kind:     OutcomeEmpty,
		Result:   result,
		Reason:   reason,
		TopScore: result.TopScore(),
	}
}

// IsFound reports whether the outcome carries relevant context
func (o RetrievalOutcome) IsFound() bool {
	return o.Kind == OutcomeFound && len(o.Result.Items) > 0
}
