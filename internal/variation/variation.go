package variation

import (
	"math/rand"
	"regexp"
	"strings"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

// Engine renders per-recipient message variants from a template plus
// randomized substitution rules. It is stateless apart from its random
// source, which is injectable for deterministic tests.
type Engine struct {
	intn func(n int) int
}

func NewEngine() *Engine {
	return &Engine{intn: rand.Intn}
}

// NewEngineWithRand builds an engine drawing from intn(n) in [0, n).
func NewEngineWithRand(intn func(n int) int) *Engine {
	return &Engine{intn: intn}
}

type compiledRule struct {
	find         *regexp.Regexp
	alternatives []string
}

// Render produces count variants of template. For each output slot every
// rule is applied in turn: a random index is drawn in [0, len(alternatives)]
// and, when it lands in bounds, all matches of the rule's find pattern are
// replaced with the chosen alternative. The one-past-the-end draw leaves
// the slot untouched for that rule, so a rule with n alternatives skips
// replacement with probability 1/(n+1).
func (e *Engine) Render(template string, rules []model.VariationRule, count int) []string {
	if count < 0 {
		count = 0
	}

	out := make([]string, count)

	compiled := compile(rules)
	if len(compiled) == 0 {
		for i := range out {
			out[i] = template
		}
		return out
	}

	for i := range out {
		text := template
		for _, rule := range compiled {
			idx := e.intn(len(rule.alternatives) + 1)
			if idx >= len(rule.alternatives) {
				continue
			}
			text = rule.find.ReplaceAllString(text, rule.alternatives[idx])
		}
		out[i] = text
	}
	return out
}

// compile drops rules with an empty find or alternatives string, and rules
// whose find pattern is not a valid regular expression.
func compile(rules []model.VariationRule) []compiledRule {
	var out []compiledRule
	for _, r := range rules {
		if r.Find == "" || r.Alternatives == "" {
			continue
		}
		re, err := regexp.Compile(r.Find)
		if err != nil {
			continue
		}
		out = append(out, compiledRule{
			find:         re,
			alternatives: strings.Split(r.Alternatives, "|"),
		})
	}
	return out
}

// WithName substitutes the {{name}} placeholder. Applied at send time,
// after variant rendering.
func WithName(text, name string) string {
	return strings.ReplaceAll(text, "{{name}}", name)
}
