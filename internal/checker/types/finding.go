package types

// Finding is a raw, engine-specific result before normalization.
//
// The set of variants is closed: the normalizer handles exactly the types
// declared in this file.
type Finding interface {
	finding()
}

// OffsetFinding uses rune offset/length, close to the canonical Issue shape.
type OffsetFinding struct {
	Offset       int
	Length       int
	Message      string
	ShortMessage string
	Suggestions  []string
	Category     Category
	Severity     Severity
	Confidence   float64
	Priority     float64
	RuleID       string
}

// Replacement is a suggested replacement produced by the analysis module.
type Replacement struct {
	Value string `json:"value" yaml:"value"`
}

// RangeFinding uses a rune [Start, End) range with replacement objects.
// It is the shape produced by the analysis module.
type RangeFinding struct {
	Start        int
	End          int
	Kind         string
	RuleID       string
	Description  string
	Replacements []Replacement
	Score        float64
}

// TokenFinding flags a single word by position.
type TokenFinding struct {
	Token      string
	Position   int
	Candidates []string
	Reason     string
}

// QuoteFinding identifies its span by quoting the offending text.
// Occurrence selects which match of Quote is meant (0 = first).
type QuoteFinding struct {
	Quote       string
	Occurrence  int
	Explanation string
	Replacement string
	Category    Category
	Confidence  float64
}

func (OffsetFinding) finding() {}
func (RangeFinding) finding()  {}
func (TokenFinding) finding()  {}
func (QuoteFinding) finding()  {}
