package queue

import (
	"fmt"
	"time"
)

type Action string

const (
	ActionCreate   Action = "create"
	ActionCall     Action = "call"
	ActionArrived  Action = "arrived"
	ActionSkip     Action = "skip"
	ActionRecall   Action = "recall"
	ActionComplete Action = "complete"
)

const (
	SkipBoost   = 50
	RecallBoost = 100
)

type rule struct {
	allowed func(t *Ticket) bool
	apply   func(t *Ticket, now time.Time)
	expects string
}

// rules is the full lifecycle table. Creation is handled by Issue.
var rules = map[Action]rule{
	ActionCall: {
		allowed: func(t *Ticket) bool { return t.Status == StatusWaiting },
		apply: func(t *Ticket, now time.Time) {
			t.Status = StatusCalled
			t.CalledTime = &now
		},
		expects: "waiting",
	},
	ActionArrived: {
		allowed: func(t *Ticket) bool { return t.Status == StatusCalled },
		apply: func(t *Ticket, now time.Time) {
			t.Status = StatusInProgress
		},
		expects: "called",
	},
	ActionSkip: {
		allowed: func(t *Ticket) bool { return t.Status != StatusCompleted },
		apply: func(t *Ticket, now time.Time) {
			t.Status = StatusWaiting
			t.IsSkipped = true
			t.PriorityScore += SkipBoost
			t.SkippedTime = &now
		},
		expects: "not completed",
	},
	ActionRecall: {
		allowed: func(t *Ticket) bool { return t.Status == StatusWaiting && t.IsSkipped },
		apply: func(t *Ticket, now time.Time) {
			t.Status = StatusWaiting
			t.IsSkipped = false
			t.PriorityScore += RecallBoost
		},
		expects: "waiting and skipped",
	},
	ActionComplete: {
		allowed: func(t *Ticket) bool { return t.Status == StatusCalled || t.Status == StatusInProgress },
		apply: func(t *Ticket, now time.Time) {
			t.Status = StatusCompleted
			t.CompletedTime = &now
		},
		expects: "called or in_progress",
	},
}

// Apply mutates t for action a and returns the status it had before. On
// rejection t is left untouched and the error wraps ErrInvalidTransition.
func Apply(t *Ticket, a Action, now time.Time) (Status, error) {
	r, ok := rules[a]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, a)
	}
	old := t.Status
	if !r.allowed(t) {
		return old, fmt.Errorf("%w: cannot %s ticket %s (status %s, skipped %t); requires %s",
			ErrInvalidTransition, a, t.Number, t.Status, t.IsSkipped, r.expects)
	}
	r.apply(t, now)
	return old, nil
}
