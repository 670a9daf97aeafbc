package redact

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/upb/tracex/services"
)

// Optional rules a rules file can switch on with `enable`. None of them run
// unless enabled.
var catalog = map[string]Rule{
	"phone": {
		Name:        "phone",
		Pattern:     regexp.MustCompile(`\b(\+?1[-.]?)?\(?[0-9]{3}\)?[-.]?[0-9]{3}[-.]?[0-9]{4}\b`),
		Replacement: "[PHONE REDACTED]",
	},
	"credit_card": {
		Name: "credit_card",
		// Visa, MasterCard, American Express, Discover
		Pattern:     regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`),
		Replacement: "[CARD REDACTED]",
	},
	"ipv4": {
		Name:        "ipv4",
		Pattern:     regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
		Replacement: "[IP REDACTED]",
	},
	"ipv6": {
		Name:        "ipv6",
		Pattern:     regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`),
		Replacement: "[IP REDACTED]",
	},
}

// CatalogNames lists the optional rules, sorted
func CatalogNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CatalogRule returns the optional rule with the given name
func CatalogRule(name string) (Rule, error) {
	rule, ok := catalog[name]
	if !ok {
		return Rule{}, services.WrapConfiguration("invalid redaction rule",
			fmt.Errorf("unknown built-in rule %q, available: %v", name, CatalogNames()))
	}
	return rule, nil
}
