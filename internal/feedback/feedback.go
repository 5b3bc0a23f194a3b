// Package feedback turns user reactions to issues into confidence
// adjustments and new rules. It never runs on the synchronous check path;
// checks only read the snapshots it publishes.
package feedback

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
)

// Action is what the user did with an issue.
type Action string

const (
	ActionAccepted Action = "accepted"
	ActionRejected Action = "rejected"
	ActionModified Action = "modified"
	ActionIgnored  Action = "ignored"
)

// IsValid checks if the action is known.
func (a Action) IsValid() bool {
	switch a {
	case ActionAccepted, ActionRejected, ActionModified, ActionIgnored:
		return true
	default:
		return false
	}
}

// ParseAction parses an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return a, nil
}

// Errors returned by the feedback service.
var (
	ErrInvalidAction     = errors.New("invalid feedback action")
	ErrMissingIssue      = errors.New("feedback has no issue")
	ErrCycleRunning      = errors.New("learning cycle already running")
	ErrMissingCorrection = errors.New("modified feedback needs a replacement")
)

// SubmissionContext is the raw interaction context. It carries identifying
// data and is never persisted as is.
type SubmissionContext struct {
	// Text is the checked text the issue refers to.
	Text string `json:"text"`

	// Replacement is what the user wrote instead, for modified issues.
	Replacement string `json:"replacement,omitempty"`

	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Submission is one user reaction to one issue.
type Submission struct {
	Issue   types.Issue       `json:"issue"`
	Action  Action            `json:"action"`
	Context SubmissionContext `json:"context"`
}

// Validate checks a submission before it is anonymized.
func (s Submission) Validate() error {
	if !s.Action.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, s.Action)
	}
	if s.Issue.SourceEngine == "" || s.Issue.Length <= 0 {
		return ErrMissingIssue
	}
	if s.Action == ActionModified && strings.TrimSpace(s.Context.Replacement) == "" {
		return ErrMissingCorrection
	}
	return nil
}

// Record is the anonymized, persisted form of a submission.
type Record struct {
	// Seq orders records in the log. It is assigned on append.
	Seq int64 `json:"seq"`

	ID          string         `json:"id"`
	PatternKey  string         `json:"pattern_key"`
	Engine      string         `json:"engine"`
	RuleID      string         `json:"rule_id,omitempty"`
	Category    types.Category `json:"category"`
	Action      Action         `json:"action"`
	Confidence  float64        `json:"confidence"`
	Suggestions []string       `json:"suggestions,omitempty"`

	// Fragment is the flagged text, at most FragmentRunes long.
	Fragment string `json:"fragment"`

	// Replacement is the user's correction, at most FragmentRunes long.
	Replacement string `json:"replacement,omitempty"`

	// TextHash is a salted hash of the full checked text.
	TextHash string `json:"text_hash"`

	// RecordedAt is truncated to the hour.
	RecordedAt time.Time `json:"recorded_at"`
}

// PatternKey identifies the kind of issue feedback applies to: the rule
// when the engine names one, otherwise the category and message.
func PatternKey(issue types.Issue) string {
	if issue.RuleID != "" {
		return issue.SourceEngine + "|" + issue.RuleID
	}
	return issue.SourceEngine + "|" + string(issue.Category) + "|" + strings.ToLower(issue.Message)
}
