// Package classifier partitions a plan's steps into the ones that must run
// in declared order (critical) and the ones that may run concurrently.
//
// Decisions come from an ordered rule table: explicit critical names,
// explicit non-critical names, critical patterns, non-critical patterns,
// then workflow context, then the non-critical default. The tables can be
// extended at runtime and reset to the built-in catalog.
package classifier

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/pkg/errors"
	"github.com/ehsaniara/flowq/pkg/logger"
)

// Stats reports the size of each rule tier
type Stats struct {
	ExplicitCritical    int `json:"explicitCritical"`
	ExplicitNonCritical int `json:"explicitNonCritical"`
	CriticalPatterns    int `json:"criticalPatterns"`
	NonCriticalPatterns int `json:"nonCriticalPatterns"`
}

// Classifier is safe for concurrent use
type Classifier struct {
	mu                  sync.RWMutex
	criticalSteps       nameSet
	nonCriticalSteps    nameSet
	criticalPatterns    []pattern
	nonCriticalPatterns []pattern
	logger              *logger.Logger
}

func New() *Classifier {
	c := &Classifier{
		logger: logger.WithField("component", "classifier"),
	}
	c.ResetToDefaults()
	return c
}

// ResetToDefaults drops every registered rule and restores the built-in catalog.
func (c *Classifier) ResetToDefaults() {
	critical := make(nameSet, len(defaultCriticalSteps))
	for _, n := range defaultCriticalSteps {
		critical[n] = struct{}{}
	}
	nonCritical := make(nameSet, len(defaultNonCriticalSteps))
	for _, n := range defaultNonCriticalSteps {
		nonCritical[n] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.criticalSteps = critical
	c.nonCriticalSteps = nonCritical
	c.criticalPatterns = mustCompileAll(defaultCriticalPatterns)
	c.nonCriticalPatterns = mustCompileAll(defaultNonCriticalPatterns)
}

func mustCompileAll(exprs []string) []pattern {
	out := make([]pattern, 0, len(exprs))
	for _, e := range exprs {
		p, err := compilePattern(e)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}

func (c *Classifier) RegisterCriticalStep(name string) error {
	return c.registerStep(name, func() nameSet { return c.criticalSteps })
}

func (c *Classifier) RegisterNonCriticalStep(name string) error {
	return c.registerStep(name, func() nameSet { return c.nonCriticalSteps })
}

func (c *Classifier) registerStep(name string, set func() nameSet) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.NewValidationError("name", "step name must not be empty")
	}
	c.mu.Lock()
	set()[name] = struct{}{}
	c.mu.Unlock()
	c.logger.Debug("registered explicit step", "name", name)
	return nil
}

// RegisterCriticalPattern adds a case-insensitive regular expression to the critical tier.
func (c *Classifier) RegisterCriticalPattern(expr string) error {
	p, err := compilePattern(expr)
	if err != nil {
		return errors.NewValidationError("pattern", err.Error())
	}
	c.mu.Lock()
	c.criticalPatterns = append(c.criticalPatterns, p)
	c.mu.Unlock()
	c.logger.Debug("registered critical pattern", "pattern", expr)
	return nil
}

func (c *Classifier) RegisterNonCriticalPattern(expr string) error {
	p, err := compilePattern(expr)
	if err != nil {
		return errors.NewValidationError("pattern", err.Error())
	}
	c.mu.Lock()
	c.nonCriticalPatterns = append(c.nonCriticalPatterns, p)
	c.mu.Unlock()
	c.logger.Debug("registered non-critical pattern", "pattern", expr)
	return nil
}

func (c *Classifier) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		ExplicitCritical:    len(c.criticalSteps),
		ExplicitNonCritical: len(c.nonCriticalSteps),
		CriticalPatterns:    len(c.criticalPatterns),
		NonCriticalPatterns: len(c.nonCriticalPatterns),
	}
}

// Rules returns a snapshot of the ordered rule table.
func (c *Classifier) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	critical := make(nameSet, len(c.criticalSteps))
	for n := range c.criticalSteps {
		critical[n] = struct{}{}
	}
	nonCritical := make(nameSet, len(c.nonCriticalSteps))
	for n := range c.nonCriticalSteps {
		nonCritical[n] = struct{}{}
	}

	rules := make([]Rule, 0, 2+len(c.criticalPatterns)+len(c.nonCriticalPatterns))
	rules = append(rules,
		Rule{Name: "explicit critical steps", Matcher: critical, Class: Critical, Source: SourceExplicitCritical},
		Rule{Name: "explicit non-critical steps", Matcher: nonCritical, Class: NonCritical, Source: SourceExplicitNonCritical},
	)
	for _, p := range c.criticalPatterns {
		rules = append(rules, Rule{Name: p.expr, Matcher: p, Class: Critical, Source: SourcePatternCritical})
	}
	for _, p := range c.nonCriticalPatterns {
		rules = append(rules, Rule{Name: p.expr, Matcher: p, Class: NonCritical, Source: SourcePatternNonCritical})
	}
	return rules
}

// ClassifyStep classifies a single step and reports the rule that decided it.
func (c *Classifier) ClassifyStep(name string, ctx domain.ExecutionContext) (Decision, error) {
	if strings.TrimSpace(name) == "" {
		return Decision{Class: Critical, Source: SourceFailSafe, Rule: "fail-safe"},
			errors.NewClassificationError(name, fmt.Errorf("empty step name"))
	}
	return decide(c.Rules(), name, ctx.IsWorkflow()), nil
}

// Classify never fails. An internal fault on any step makes the whole
// batch critical, since running dangerous work in parallel is worse than
// running safe work in order.
func (c *Classifier) Classify(names []string, ctx domain.ExecutionContext) (result domain.ClassificationResult) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.NewClassificationError("", fmt.Errorf("panic: %v", r))
			c.logger.Error("classification panicked, falling back to sequential", "error", err)
			result = failSafe(names)
		}
	}()

	rules := c.Rules()
	workflow := ctx.IsWorkflow()

	critical := make([]string, 0, len(names))
	nonCritical := make([]string, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			err := errors.NewClassificationError(name, fmt.Errorf("empty step name"))
			c.logger.Warn("classification fault, falling back to sequential", "error", err, "steps", len(names))
			return failSafe(names)
		}

		d := decide(rules, name, workflow)
		if d.Class == Critical {
			critical = append(critical, name)
		} else {
			nonCritical = append(nonCritical, name)
		}
	}

	result = domain.NewClassificationResult(critical, nonCritical)
	c.logger.Debug("classified steps",
		"total", result.Total,
		"critical", len(critical),
		"ratio", fmt.Sprintf("%.2f", result.ParallelizationRatio))
	return result
}

func failSafe(names []string) domain.ClassificationResult {
	result := domain.NewClassificationResult(append([]string{}, names...), nil)
	result.FailSafe = true
	return result
}
