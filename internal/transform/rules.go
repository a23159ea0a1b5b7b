// Package transform rewrites message text token by token. Tokens matched by a
// preserve rule are copied through unchanged; everything else becomes the
// placeholder.
package transform

import (
	"fmt"
	"regexp"
)

// DefaultPlaceholder replaces every non-preserved token.
const DefaultPlaceholder = "Nana"

// Rule is the uncompiled form of a single match class, as read from config.
type Rule struct {
	Name     string `yaml:"name" json:"name"`
	Pattern  string `yaml:"pattern" json:"pattern"`
	Preserve bool   `yaml:"preserve" json:"preserve"`
}

type compiledRule struct {
	name     string
	re       *regexp.Regexp
	preserve bool
}

// RuleSet is an ordered, compiled list of rules. It is immutable once built
// and safe for concurrent use.
type RuleSet struct {
	placeholder string
	rules       []compiledRule
}

// DefaultRules returns the canonical rule-set, highest priority first.
func DefaultRules() []Rule {
	return []Rule{
		// <:name:id> and the animated <a:name:id> form.
		{Name: "discord_emoji", Pattern: `<a?:[A-Za-z0-9_~]+:[0-9]+>`, Preserve: true},
		{Name: "shortcode", Pattern: `:[A-Za-z0-9_+\-]+:`, Preserve: true},
		{Name: "punctuation", Pattern: `[.,!?]`, Preserve: true},
		{Name: "word", Pattern: `[^\s.,!?]+`, Preserve: false},
	}
}

// Default compiles DefaultRules with DefaultPlaceholder.
func Default() *RuleSet {
	rs, err := Compile(DefaultRules(), DefaultPlaceholder)
	if err != nil {
		panic(fmt.Sprintf("transform: default rules: %v", err))
	}
	return rs
}

// Compile anchors and compiles each rule. An empty placeholder falls back to
// DefaultPlaceholder.
func Compile(rules []Rule, placeholder string) (*RuleSet, error) {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	rs := &RuleSet{placeholder: placeholder, rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule %d (%s): empty pattern", i, r.Name)
		}
		re, err := regexp.Compile(`\A(?:` + r.Pattern + `)`)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule_%d", i)
		}
		rs.rules = append(rs.rules, compiledRule{name: name, re: re, preserve: r.Preserve})
	}
	return rs, nil
}

// Placeholder returns the replacement token.
func (rs *RuleSet) Placeholder() string { return rs.placeholder }

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Names returns rule names in priority order.
func (rs *RuleSet) Names() []string {
	names := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		names[i] = r.name
	}
	return names
}
