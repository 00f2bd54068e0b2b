// Package lifecycle implements the run state machine that governs every
// console command: run identification, gate validation, dry-run vs live
// branching, checkpointing, and resume/replay eligibility.
package lifecycle

import (
	"crypto/rand"
	"fmt"
	"time"
)

// State is a canonical run lifecycle state.
type State string

const (
	StateInit       State = "INIT"
	StateValidating State = "VALIDATING"
	StatePlanning   State = "PLANNING"
	StateExecuting  State = "EXECUTING"
	StateFailed     State = "FAILED"
	StateResumable  State = "RESUMABLE"
	StateCompleted  State = "COMPLETED"
	StateArchived   State = "ARCHIVED"
)

// transitionTable defines every legal edge. INIT is the initial state;
// ARCHIVED is the only terminal state.
var transitionTable = map[State][]State{
	StateInit:       {StateValidating},
	StateValidating: {StatePlanning, StateExecuting, StateFailed},
	StatePlanning:   {StateCompleted, StateFailed},
	StateExecuting:  {StateCompleted, StateFailed},
	StateFailed:     {StateResumable, StateArchived},
	StateResumable:  {StateValidating},
	StateCompleted:  {StateArchived},
	StateArchived:   {},
}

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool { return s == StateArchived }

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, dst := range transitionTable[from] {
		if dst == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is a programming-contract violation: a transition
// was attempted off the table. It must never be caught and retried.
type InvalidTransitionError struct {
	RunID string
	From  State
	To    State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for run %s", e.From, e.To, e.RunID)
}

// Run is one user-initiated action instance, persisted as the latest run
// record. Mutated exclusively by the Controller; immutable once ARCHIVED.
// Secret values never appear here — the state store enforces that.
type Run struct {
	ID                string
	Command           string
	StartedAt         time.Time
	DryRun            bool
	State             State
	LastStepCompleted string
	FailureStep       string
	FailureReason     string
	ArtefactRefs      map[string]string
}

// Clone returns a deep copy, so callers can compare before/after states.
func (r *Run) Clone() *Run {
	c := *r
	if r.ArtefactRefs != nil {
		c.ArtefactRefs = make(map[string]string, len(r.ArtefactRefs))
		for k, v := range r.ArtefactRefs {
			c.ArtefactRefs[k] = v
		}
	}
	return &c
}

// NewRunID creates a run ID in format YYYYMMDDTHHmmss-xxxxxxxx. The leading
// timestamp keeps IDs sortable by creation time.
func NewRunID(now time.Time) string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("%s-%x", now.Format("20060102T150405"), suffix)
}
