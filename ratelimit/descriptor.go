/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"fmt"
	"net/url"
)

// Query parameter names of the decide wire contract.
const (
	DescriptorKeyParam  = "k"
	DescriptorRuleParam = "r"
)

// Descriptor canonically encodes a (key, rules) pair. The encoded form serves
// both as the response cache key and as the request sent to the key's actor.
// Rules are encoded in caller-supplied order; the same logical key must be
// queried with the same rule order to hit the cache.
type Descriptor struct {
	Key   string
	Rules []Rule
}

// NewDescriptor builds a descriptor for the given key and rules.
func NewDescriptor(key string, rules []Rule) Descriptor {
	return Descriptor{Key: key, Rules: rules}
}

// String returns the canonical query-string encoding:
// "k=<escaped-key>&r=<limit>:<interval>&r=..." with rule order preserved.
func (d Descriptor) String() string {
	values := make(url.Values, 2)
	values.Set(DescriptorKeyParam, d.Key)
	ruleStrs := make([]string, 0, len(d.Rules))
	for _, r := range d.Rules {
		ruleStrs = append(ruleStrs, r.String())
	}
	values[DescriptorRuleParam] = ruleStrs
	return values.Encode()
}

// ParseDescriptor parses the canonical query-string encoding produced by String.
func ParseDescriptor(s string) (Descriptor, error) {
	values, err := url.ParseQuery(s)
	if err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}
	if !values.Has(DescriptorKeyParam) {
		return Descriptor{}, fmt.Errorf("parse descriptor: missing %q param", DescriptorKeyParam)
	}
	rules, err := ParseRules(values[DescriptorRuleParam])
	if err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor: %w", err)
	}
	return Descriptor{Key: values.Get(DescriptorKeyParam), Rules: rules}, nil
}

// ParseRules parses a list of rules in canonical text form preserving order.
func ParseRules(ruleStrs []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(ruleStrs))
	for _, rs := range ruleStrs {
		r, err := ParseRule(rs)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	return rules, nil
}
