package transform

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk rule-set format:
//
//	placeholder: Nana
//	rules:
//	  - name: discord_emoji
//	    pattern: '<a?:[A-Za-z0-9_~]+:[0-9]+>'
//	    preserve: true
type File struct {
	Placeholder string `yaml:"placeholder"`
	Rules       []Rule `yaml:"rules"`
}

// LoadRuleFile reads and compiles a YAML rule file. An empty path yields the
// default rule-set.
func LoadRuleFile(path string, logger *slog.Logger) (*RuleSet, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s: no rules defined", path)
	}

	rs, err := Compile(f.Rules, f.Placeholder)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}

	logger.Info("loaded transform rules", "path", path, "rules", rs.Len(), "placeholder", rs.Placeholder())
	return rs, nil
}

// MarshalDefault renders the default rule-set in the File format, for
// `nanabot transform --dump-rules`.
func MarshalDefault() ([]byte, error) {
	return yaml.Marshal(File{Placeholder: DefaultPlaceholder, Rules: DefaultRules()})
}
