package redact

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/upb/tracex/services"
)

// RulesFile is the on-disk shape of a redaction rules file.
//
//	rules:
//	  - name: phone
//	    pattern: '\d{3}-\d{3}-\d{4}'
//	    replacement: '[PHONE REDACTED]'
//	enable: [credit_card]
//	disable: [ssn]
type RulesFile struct {
	Rules   []RuleDef `yaml:"rules"`
	Enable  []string  `yaml:"enable"`
	Disable []string  `yaml:"disable"`
}

// RuleDef defines a custom rule from config.
type RuleDef struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// LoadRules reads path and returns the effective rule list: the defaults minus
// any disabled names, then enabled built-in rules, then the file's rules. A
// file rule that shares an earlier rule's name replaces it in place.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.WrapConfiguration("read redaction rules", err)
	}
	return ParseRules(data)
}

// ParseRules compiles a rules document.
func ParseRules(data []byte) ([]Rule, error) {
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, services.WrapConfiguration("parse redaction rules", err)
	}
	return file.Compile()
}

// Compile validates and compiles the file against the default rules.
func (f RulesFile) Compile() ([]Rule, error) {
	disabled := make(map[string]bool, len(f.Disable))
	for _, name := range f.Disable {
		disabled[name] = true
	}

	var rules []Rule
	index := make(map[string]int)
	for _, rule := range DefaultRules() {
		if disabled[rule.Name] {
			continue
		}
		index[rule.Name] = len(rules)
		rules = append(rules, rule)
	}
	for _, name := range f.Enable {
		rule, err := CatalogRule(name)
		if err != nil {
			return nil, err
		}
		if _, ok := index[name]; ok || disabled[name] {
			continue
		}
		index[name] = len(rules)
		rules = append(rules, rule)
	}

	seen := make(map[string]bool, len(f.Rules))
	for i, def := range f.Rules {
		if def.Name == "" {
			return nil, services.WrapConfiguration("invalid redaction rule", fmt.Errorf("rules[%d]: name is required", i))
		}
		if seen[def.Name] {
			return nil, services.WrapConfiguration("invalid redaction rule", fmt.Errorf("rules[%d]: duplicate name %q", i, def.Name))
		}
		seen[def.Name] = true

		rule, err := NewRule(def.Name, def.Pattern, def.Replacement)
		if err != nil {
			return nil, err
		}
		if disabled[rule.Name] {
			continue
		}
		if pos, ok := index[rule.Name]; ok {
			rules[pos] = rule
			continue
		}
		index[rule.Name] = len(rules)
		rules = append(rules, rule)
	}
	return rules, nil
}
