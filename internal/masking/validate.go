package masking

import (
	"fmt"
	"strings"

	"github.com/antchfx/xpath"
)

// ValidateConfig checks that every rule is usable before an engine is
// built from it.
func ValidateConfig(cfg Config) error {
	for i, mapping := range cfg.NamespaceMappings {
		if strings.TrimSpace(mapping.Pattern) == "" {
			return fmt.Errorf("namespace_mappings[%d]: pattern is required", i)
		}
	}

	for i, rule := range cfg.Rules {
		if strings.TrimSpace(rule.Type) == "" {
			return fmt.Errorf("rules[%d]: type is required", i)
		}
		for j, attr := range rule.Attributes {
			if err := validateAttribute(attr); err != nil {
				return fmt.Errorf("rules[%d] (%s) attributes[%d]: %w", i, rule.Type, j, err)
			}
		}
	}

	return nil
}

func validateAttribute(attr Attribute) error {
	switch attr.Kind() {
	case AttributeXPath:
		// Prefixes are resolved per request, so compile with the alias bound.
		if _, err := xpath.CompileWithNS(attr.XPath, map[string]string{namespaceAlias: "urn:validate"}); err != nil {
			return fmt.Errorf("invalid xpath %q: %w", attr.XPath, err)
		}
	case AttributeJSONPath:
		if _, err := parseJSONPath(attr.JSONPath); err != nil {
			return fmt.Errorf("invalid jsonpath: %w", err)
		}
	case AttributeOffset:
		if *attr.Start < 0 || *attr.Start >= *attr.End {
			return fmt.Errorf("invalid offset range [%d, %d)", *attr.Start, *attr.End)
		}
	default:
		return fmt.Errorf("attribute must set exactly one of xpath, jsonpath or start/end")
	}
	return nil
}
