package orchestrator

import (
	"github.com/ternarybob/finrag/internal/models"
)

// State is a step of the request state machine
type State string

const (
	StateReceived     State = "received"
	StateTranscribing State = "transcribing"
	StateRetrieving   State = "retrieving"
	StateSynthesizing State = "synthesizing"
	StateSpeakingOut  State = "speaking_out"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions follow
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Observer is notified of every transition of a request, in order, on the request goroutine
type Observer interface {
	OnTransition(requestID string, transition models.Transition)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(requestID string, transition models.Transition)

// OnTransition calls f
func (f ObserverFunc) OnTransition(requestID string, transition models.Transition) {
	f(requestID, transition)
}

// allowed lists the legal transitions; failed is reachable from every non-terminal state
var allowed = map[State][]State{
	StateReceived:     {StateTranscribing, StateRetrieving, StateFailed},
	StateTranscribing: {StateRetrieving, StateFailed},
	StateRetrieving:   {StateSynthesizing, StateFailed},
	StateSynthesizing: {StateSpeakingOut, StateCompleted, StateFailed},
	StateSpeakingOut:  {StateCompleted, StateFailed},
}

// CanTransition reports whether from → to is a legal transition
func CanTransition(from, to State) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}
