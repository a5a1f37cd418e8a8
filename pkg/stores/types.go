package stores

import "time"

// AttemptRecord is one login attempt. Outcome, FinalState and FinishedAt
// are empty while the attempt is running or if the process died mid-login.
type AttemptRecord struct {
	ID          string        `json:"id"`
	Profile     string        `json:"profile,omitempty"`
	Host        string        `json:"host"`
	Path        string        `json:"path,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Outcome     string        `json:"outcome,omitempty"`
	FinalState  string        `json:"final_state,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	OTCAttempts int           `json:"otc_attempts"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// TransitionRecord is one state machine edge of an attempt.
type TransitionRecord struct {
	ID        int64     `json:"id"`
	AttemptID string    `json:"attempt_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// AttemptFilter narrows ListAttempts.
type AttemptFilter struct {
	Host    string
	Profile string
	Outcome string
	Limit   int
	Offset  int
}
