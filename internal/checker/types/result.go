package types

import "time"

// Statistics describes how a CheckResult was produced.
type Statistics struct {
	ProcessingTime       time.Duration     `json:"-" msgpack:"processing_time"`
	ProcessingTimeMs     int64             `json:"processing_time_ms" msgpack:"processing_time_ms"`
	PerEngineIssueCounts map[string]int    `json:"per_engine_issue_counts" msgpack:"per_engine_issue_counts"`
	TextLength           int               `json:"text_length" msgpack:"text_length"`
	CacheHit             bool              `json:"cache_hit" msgpack:"cache_hit"`
	EnginesInvoked       int               `json:"engines_invoked" msgpack:"engines_invoked"`
	EngineErrors         map[string]string `json:"engine_errors,omitempty" msgpack:"engine_errors"`
}

// CheckResult is the outcome of one check. It is treated as immutable once
// returned; use Clone before handing it to another owner.
type CheckResult struct {
	Issues     []Issue    `json:"issues" msgpack:"issues"`
	Statistics Statistics `json:"statistics" msgpack:"statistics"`
}

// EmptyResult returns a successful result with no issues.
func EmptyResult(textLength int) *CheckResult {
	return &CheckResult{
		Issues: []Issue{},
		Statistics: Statistics{
			PerEngineIssueCounts: map[string]int{},
			TextLength:           textLength,
		},
	}
}

// Clone returns a deep copy of the result.
func (r *CheckResult) Clone() *CheckResult {
	if r == nil {
		return nil
	}
	c := &CheckResult{
		Issues:     make([]Issue, len(r.Issues)),
		Statistics: r.Statistics,
	}
	for i, issue := range r.Issues {
		c.Issues[i] = issue.Clone()
	}
	if r.Statistics.PerEngineIssueCounts != nil {
		c.Statistics.PerEngineIssueCounts = make(map[string]int, len(r.Statistics.PerEngineIssueCounts))
		for k, v := range r.Statistics.PerEngineIssueCounts {
			c.Statistics.PerEngineIssueCounts[k] = v
		}
	}
	if r.Statistics.EngineErrors != nil {
		c.Statistics.EngineErrors = make(map[string]string, len(r.Statistics.EngineErrors))
		for k, v := range r.Statistics.EngineErrors {
			c.Statistics.EngineErrors[k] = v
		}
	}
	return c
}

// SetProcessingTime records d in both duration and millisecond form.
func (s *Statistics) SetProcessingTime(d time.Duration) {
	s.ProcessingTime = d
	s.ProcessingTimeMs = d.Milliseconds()
}
