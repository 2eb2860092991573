package masking

import (
	"sort"
	"strings"
)

// RuleIndex maps a lowercase type key to its ordered masking attributes.
// It is built once and never mutated, so concurrent reads need no locking.
type RuleIndex struct {
	rules map[string][]Attribute
}

// NewRuleIndex concatenates the attributes of every rule sharing a type
// key, in configuration order. Rules without a type or attributes are
// ignored.
func NewRuleIndex(rules []Rule) *RuleIndex {
	index := make(map[string][]Attribute)

	for _, rule := range rules {
		if strings.TrimSpace(rule.Type) == "" || len(rule.Attributes) == 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(rule.Type))
		index[key] = append(index[key], rule.Attributes...)
	}

	return &RuleIndex{rules: index}
}

// Lookup returns the attributes for key. A miss returns nil.
func (ri *RuleIndex) Lookup(key string) []Attribute {
	return ri.rules[strings.ToLower(key)]
}

// Len returns the number of distinct type keys.
func (ri *RuleIndex) Len() int {
	return len(ri.rules)
}

// Keys returns the indexed type keys in sorted order.
func (ri *RuleIndex) Keys() []string {
	keys := make([]string, 0, len(ri.rules))
	for key := range ri.rules {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
