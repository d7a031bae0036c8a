package classifier

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Class is the outcome of classifying one step
type Class string

const (
	Critical    Class = "critical"
	NonCritical Class = "non-critical"
)

// Source names the tier of the rule table a decision came from
type Source string

const (
	SourceExplicitCritical    Source = "explicit-critical"
	SourceExplicitNonCritical Source = "explicit-non-critical"
	SourcePatternCritical     Source = "pattern-critical"
	SourcePatternNonCritical  Source = "pattern-non-critical"
	SourceWorkflowContext     Source = "workflow-context"
	SourceDefault             Source = "default"
	SourceFailSafe            Source = "fail-safe"
)

// Matcher decides whether a rule applies to a step name
type Matcher interface {
	Match(name string) bool
	String() string
}

type nameSet map[string]struct{}

func (s nameSet) Match(name string) bool {
	_, ok := s[name]
	return ok
}

func (s nameSet) String() string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return "one of [" + strings.Join(names, ", ") + "]"
}

type pattern struct {
	expr string
	re   *regexp.Regexp
}

func (p pattern) Match(name string) bool { return p.re.MatchString(name) }
func (p pattern) String() string         { return p.expr }

// compilePattern compiles expr case-insensitively
func compilePattern(expr string) (pattern, error) {
	if strings.TrimSpace(expr) == "" {
		return pattern{}, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return pattern{}, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return pattern{expr: expr, re: re}, nil
}

// Rule is one row of the ordered rule table
type Rule struct {
	Name    string
	Matcher Matcher
	Class   Class
	Source  Source
}

// Decision records which rule classified a step
type Decision struct {
	Class  Class
	Source Source
	Rule   string
}

// decide walks the table in order; the first matching rule wins. When
// nothing matches, workflow context biases toward critical, otherwise the
// step is assumed safe to parallelize.
func decide(rules []Rule, name string, workflow bool) Decision {
	for _, r := range rules {
		if r.Matcher.Match(name) {
			return Decision{Class: r.Class, Source: r.Source, Rule: r.Name}
		}
	}
	if workflow {
		return Decision{Class: Critical, Source: SourceWorkflowContext, Rule: "workflow context"}
	}
	return Decision{Class: NonCritical, Source: SourceDefault, Rule: "default"}
}

var (
	defaultCriticalSteps = []string{
		"IDESendMessageStep",
		"CursorSendMessageStep",
		"VSCodeSendMessageStep",
		"WindsurfSendMessageStep",
		"WorkflowExecutionStep",
		"TaskExecutionStep",
		"CreateTaskStep",
		"CreateBranchStep",
	}

	defaultNonCriticalSteps = []string{
		"GetChatHistoryStep",
		"GetProjectStatusStep",
		"FetchGitStatusStep",
		"GetFileContentStep",
		"FetchTerminalOutputStep",
	}

	defaultCriticalPatterns = []string{
		`.*IDE.*Step$`,
		`.*Workflow.*Step$`,
		`.*Task.*Step$`,
		`.*Analysis.*Step$`,
		`.*Refactoring.*Step$`,
		`.*Testing.*Step$`,
		`.*Deployment.*Step$`,
		`.*Create.*Step$`,
		`.*Execute.*Step$`,
	}

	defaultNonCriticalPatterns = []string{
		`.*Get.*Step$`,
		`.*Fetch.*Step$`,
		`.*Retrieve.*Step$`,
		`.*Load.*Step$`,
		`.*Read.*Step$`,
		`.*Query.*Step$`,
	}
)
