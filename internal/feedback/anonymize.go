package feedback

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FragmentRunes bounds the flagged text kept in a record.
const FragmentRunes = 64

// Anonymizer strips identity from submissions.
type Anonymizer struct {
	salt []byte
	now  func() time.Time
}

// NewAnonymizer creates an anonymizer. An empty salt gets a random one, so
// text hashes are only comparable within one process.
func NewAnonymizer(salt string) *Anonymizer {
	if salt == "" {
		salt = uuid.NewString()
	}
	return &Anonymizer{salt: []byte(salt), now: time.Now}
}

// Anonymize converts a validated submission to a record. User and session
// identifiers are dropped.
func (a *Anonymizer) Anonymize(s Submission) *Record {
	at := s.Context.Timestamp
	if at.IsZero() {
		at = a.now()
	}

	issue := s.Issue
	rec := &Record{
		ID:          uuid.NewString(),
		PatternKey:  PatternKey(issue),
		Engine:      issue.SourceEngine,
		RuleID:      issue.RuleID,
		Category:    issue.Category,
		Action:      s.Action,
		Confidence:  issue.Confidence,
		Suggestions: append([]string(nil), issue.Suggestions...),
		Fragment:    truncate(span(s.Context.Text, issue.Offset, issue.Length), FragmentRunes),
		TextHash:    a.Hash(s.Context.Text),
		RecordedAt:  at.UTC().Truncate(time.Hour),
	}
	if s.Action == ActionModified {
		rec.Replacement = truncate(strings.TrimSpace(s.Context.Replacement), FragmentRunes)
	}
	return rec
}

// Hash returns the salted SHA-256 of text.
func (a *Anonymizer) Hash(text string) string {
	h := sha256.New()
	h.Write(a.salt)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func span(text string, offset, length int) string {
	runes := []rune(text)
	if offset < 0 || offset >= len(runes) {
		return ""
	}
	return string(runes[offset:min(len(runes), offset+length)])
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
