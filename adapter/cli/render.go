package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/felixgeelhaar/prosecheck/internal/checker/health"
	"github.com/felixgeelhaar/prosecheck/internal/checker/service"
	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
	"github.com/felixgeelhaar/prosecheck/internal/feedback"
)

type renderer struct {
	out io.Writer

	errorC      *color.Color
	warningC    *color.Color
	suggestionC *color.Color
	infoC       *color.Color
	dimC        *color.Color
	boldC       *color.Color
	okC         *color.Color
}

// newRenderer colors output only when out is a terminal.
func newRenderer(out io.Writer) *renderer {
	enabled := isTerminal(out) && !color.NoColor
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return &renderer{
		out:         out,
		errorC:      mk(color.FgRed, color.Bold),
		warningC:    mk(color.FgYellow),
		suggestionC: mk(color.FgCyan),
		infoC:       mk(color.FgBlue),
		dimC:        mk(color.Faint),
		boldC:       mk(color.Bold),
		okC:         mk(color.FgGreen),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *renderer) severity(s types.Severity) *color.Color {
	switch s {
	case types.SeverityError:
		return r.errorC
	case types.SeverityWarning:
		return r.warningC
	case types.SeveritySuggestion:
		return r.suggestionC
	default:
		return r.infoC
	}
}

// Result prints every issue under the line it points at, with a caret
// marker aligned by display width.
func (r *renderer) Result(text string, res *types.CheckResult) {
	runes := []rune(text)
	for i, issue := range res.Issues {
		lineNo, col, line := locate(runes, issue.Offset)
		fmt.Fprintf(r.out, "%s %s %s %s %s\n",
			r.dimC.Sprintf("%3d %d:%d", i+1, lineNo, col+1),
			r.severity(issue.Severity).Sprint(runewidth.FillRight(string(issue.Severity), 10)),
			runewidth.FillRight(string(issue.Category), 11),
			issue.Message,
			r.dimC.Sprintf("[%s]", issue.SourceEngine),
		)
		fmt.Fprintf(r.out, "      %s\n", line)
		fmt.Fprintf(r.out, "      %s\n", r.severity(issue.Severity).Sprint(caret(line, col, issue.Length)))
		if len(issue.Suggestions) > 0 {
			fmt.Fprintf(r.out, "      %s %s\n", r.dimC.Sprint("->"), r.okC.Sprint(strings.Join(issue.Suggestions, ", ")))
		}
	}
	r.summary(res)
}

func (r *renderer) summary(res *types.CheckResult) {
	stats := res.Statistics
	if len(res.Issues) == 0 {
		fmt.Fprintln(r.out, r.okC.Sprint("No issues found."))
	} else {
		fmt.Fprintf(r.out, "%s %s\n",
			r.boldC.Sprintf("%d %s", len(res.Issues), plural(len(res.Issues), "issue", "issues")),
			r.dimC.Sprintf("(%s)", perCategory(res.Issues)))
	}
	source := "computed"
	if stats.CacheHit {
		source = "cached"
	}
	fmt.Fprintln(r.out, r.dimC.Sprintf("%d characters, %s in %dms", stats.TextLength, source, stats.ProcessingTimeMs))
	for _, name := range sortedKeys(stats.EngineErrors) {
		fmt.Fprintf(r.out, "%s %s: %s\n", r.warningC.Sprint("engine failed"), name, stats.EngineErrors[name])
	}
}

// locate returns the 1-based line number, the rune column and the text of
// the line containing offset. Tabs display as single spaces.
func locate(runes []rune, offset int) (int, int, string) {
	offset = max(0, min(offset, len(runes)))
	start, lineNo := 0, 1
	for i := 0; i < offset; i++ {
		if runes[i] == '\n' {
			start = i + 1
			lineNo++
		}
	}
	end := start
	for end < len(runes) && runes[end] != '\n' {
		end++
	}
	line := strings.ReplaceAll(string(runes[start:end]), "\t", " ")
	return lineNo, offset - start, line
}

// caret returns a marker line under length runes of line starting at col.
func caret(line string, col, length int) string {
	runes := []rune(line)
	col = min(col, len(runes))
	end := min(col+max(length, 1), len(runes))
	pad := runewidth.StringWidth(string(runes[:col]))
	width := max(runewidth.StringWidth(string(runes[col:end])), 1)
	return strings.Repeat(" ", pad) + strings.Repeat("^", width)
}

func perCategory(issues []types.Issue) string {
	counts := map[string]int{}
	for _, issue := range issues {
		counts[string(issue.Category)]++
	}
	parts := make([]string, 0, len(counts))
	for _, name := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s: %d", name, counts[name]))
	}
	return strings.Join(parts, ", ")
}

func (r *renderer) overall(o health.Overall) string {
	switch o {
	case health.OverallHealthy:
		return r.okC.Sprint(o)
	case health.OverallDegraded:
		return r.warningC.Sprint(o)
	default:
		return r.errorC.Sprint(o)
	}
}

func (r *renderer) engineStatus(s health.Status) string {
	padded := runewidth.FillRight(string(s), 9)
	switch s {
	case health.StatusHealthy:
		return r.okC.Sprint(padded)
	case health.StatusDegraded:
		return r.warningC.Sprint(padded)
	default:
		return r.errorC.Sprint(padded)
	}
}

// Health prints a health report as a table.
func (r *renderer) Health(report health.Report) {
	fmt.Fprintf(r.out, "%s %s\n\n", r.boldC.Sprint("Overall:"), r.overall(report.Overall))
	fmt.Fprintln(r.out, r.dimC.Sprintf("%s %s %8s %8s  %s",
		runewidth.FillRight("ENGINE", 12), runewidth.FillRight("STATUS", 9), "STREAK", "FAILED", "LAST ERROR"))
	for _, e := range report.Engines {
		fmt.Fprintf(r.out, "%s %s %8d %7.0f%%  %s\n",
			runewidth.FillRight(runewidth.Truncate(e.EngineName, 12, "…"), 12),
			r.engineStatus(e.Status),
			e.ConsecutiveFailures,
			e.FailureRate()*100,
			runewidth.Truncate(e.LastError, 48, "…"),
		)
	}
	if len(report.Recommendations) > 0 {
		fmt.Fprintln(r.out)
		for _, rec := range report.Recommendations {
			fmt.Fprintf(r.out, "%s %s\n", r.warningC.Sprint("!"), rec)
		}
	}
}

// Status prints the system status.
func (r *renderer) Status(s service.SystemStatus) {
	fmt.Fprintf(r.out, "%s %s\n", r.boldC.Sprint("Version:"), s.Version)
	fmt.Fprintf(r.out, "%s %s\n", r.boldC.Sprint("Uptime: "), s.Uptime.Truncate(time.Second))
	fmt.Fprintf(r.out, "%s %s\n", r.boldC.Sprint("Overall:"), r.overall(s.Overall))
	if m := s.Module; m != nil {
		fmt.Fprintf(r.out, "%s %s", r.boldC.Sprint("Module: "), m.State)
		if m.Module != nil {
			fmt.Fprintf(r.out, " (%s %s via %s, %d rules)", m.Module.Name, m.Module.Version, m.Strategy, m.Module.RuleCount)
		}
		if m.LastError != "" {
			fmt.Fprintf(r.out, " %s", r.errorC.Sprint(m.LastError))
		}
		fmt.Fprintln(r.out)
	}
	fmt.Fprintf(r.out, "%s ttl %s, %d entries, hit rate %.0f%%\n\n",
		r.boldC.Sprint("Cache:  "), s.CacheTTL, s.Cache.FastSize, s.Cache.HitRate*100)

	for _, e := range s.Engines {
		cats := make([]string, len(e.Categories))
		for i, c := range e.Categories {
			cats[i] = string(c)
		}
		fmt.Fprintf(r.out, "%2d %s %s %s %s\n",
			e.Ordinal,
			runewidth.FillRight(e.Name, 12),
			r.engineStatus(e.Health),
			runewidth.FillRight(e.Lifecycle, 8),
			r.dimC.Sprint(strings.Join(cats, ",")),
		)
	}
}

// Stats prints check counters, cache statistics and engine timings.
func (r *renderer) Stats(s service.Stats) {
	c := s.Checks
	fmt.Fprintf(r.out, "%s %d total, %d cached, %d rejected, %d timed out, %d uncacheable\n",
		r.boldC.Sprint("Checks:"), c.Total, c.CacheHits, c.Rejected, c.Timeouts, c.Uncacheable)
	k := s.Cache
	fmt.Fprintf(r.out, "%s %d hits (%d fast, %d slow), %d misses, %d writes, %d promotions, %d evictions\n",
		r.boldC.Sprint("Cache: "), k.Hits, k.FastHits, k.SlowHits, k.Misses, k.Writes, k.Promotions, k.Evictions)

	if len(s.Metrics.Engines) == 0 {
		return
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.dimC.Sprintf("%s %8s %8s %10s %10s",
		runewidth.FillRight("ENGINE", 16), "CALLS", "FAILED", "AVG", "MAX"))
	for _, name := range sortedKeys(s.Metrics.Engines) {
		m := s.Metrics.Engines[name]
		fmt.Fprintf(r.out, "%s %8d %8d %10s %10s\n",
			runewidth.FillRight(name, 16), m.TotalCalls, m.FailedCalls,
			m.AverageDuration.Round(time.Microsecond), m.MaxDuration.Round(time.Microsecond))
	}
}

// Rules prints learned rules.
func (r *renderer) Rules(status feedback.LearnerStatus) {
	fmt.Fprintf(r.out, "%s %d pending, %d patterns, last seq %d\n",
		r.boldC.Sprint("Learner:"), status.Pending, status.Patterns, status.LastSeq)
	if len(status.Rules) == 0 {
		fmt.Fprintln(r.out, r.dimC.Sprint("No learned rules yet."))
		return
	}
	for _, rule := range status.Rules {
		target := rule.Pattern
		if rule.Kind == feedback.RuleReplace {
			target = fmt.Sprintf("%s -> %s", rule.Pattern, rule.Replacement)
		}
		fmt.Fprintf(r.out, "%s %s %3d%% %s\n",
			runewidth.FillRight(string(rule.Kind), 9),
			runewidth.FillRight(string(rule.Status), 12),
			rule.Percent(),
			target,
		)
	}
}

// Cycle prints a learning cycle report.
func (r *renderer) Cycle(report feedback.CycleReport) {
	fmt.Fprintf(r.out, "Processed %d %s, %d new %s, %d rollout %s in %s\n",
		report.Processed, plural(report.Processed, "record", "records"),
		len(report.NewRules), plural(len(report.NewRules), "rule", "rules"),
		len(report.Decisions), plural(len(report.Decisions), "change", "changes"),
		report.Duration.Round(time.Millisecond))
	for _, rule := range report.NewRules {
		fmt.Fprintf(r.out, "  %s %s %s\n", r.okC.Sprint("+"), rule.Kind, rule.Pattern)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
