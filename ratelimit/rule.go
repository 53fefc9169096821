/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule bounds the number of admissions per rolling window.
// Interval is expressed in whole seconds; sub-second windows are not supported.
type Rule struct {
	Limit    int
	Interval int
}

// ParseRule parses a rule from its canonical "<limit>:<interval>" text form.
func ParseRule(s string) (Rule, error) {
	var r Rule
	if err := r.unmarshal(s); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// MustParseRule is a version of ParseRule that panics if an error occurs.
func MustParseRule(s string) Rule {
	r, err := ParseRule(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate checks that both rule members are positive.
func (r Rule) Validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("rule limit must be positive, got %d", r.Limit)
	}
	if r.Interval <= 0 {
		return fmt.Errorf("rule interval must be positive, got %d", r.Interval)
	}
	return nil
}

// String returns the canonical "<limit>:<interval>" text form.
// Implements fmt.Stringer interface.
func (r Rule) String() string {
	if r.Limit == 0 && r.Interval == 0 {
		return ""
	}
	return strconv.Itoa(r.Limit) + ":" + strconv.Itoa(r.Interval)
}

// UnmarshalText implements the encoding.TextUnmarshaler interface
// which is used by mapstructure.TextUnmarshallerHookFunc.
func (r *Rule) UnmarshalText(text []byte) error {
	return r.unmarshal(string(text))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	return r.unmarshal(text)
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	return r.unmarshal(text)
}

// MarshalText implements the encoding.TextMarshaler interface.
func (r Rule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// MarshalJSON implements the json.Marshaler interface.
func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// MarshalYAML implements the yaml.Marshaler interface.
func (r Rule) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

func (r *Rule) unmarshal(s string) error {
	incorrectFormatErr := fmt.Errorf(
		"incorrect format for rule %q, should be <limit>:<interval-seconds>, for example 100:60", s)
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return incorrectFormatErr
	}
	limit, err := strconv.Atoi(parts[0])
	if err != nil {
		return incorrectFormatErr
	}
	interval, err := strconv.Atoi(parts[1])
	if err != nil {
		return incorrectFormatErr
	}
	*r = Rule{Limit: limit, Interval: interval}
	return r.Validate()
}

// ValidateRules checks a caller-supplied rule list.
// An empty list is a caller contract violation as well: with no rules there is nothing to decide.
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}
	for i := range rules {
		if err := rules[i].Validate(); err != nil {
			return fmt.Errorf("rule #%d: %w", i, err)
		}
	}
	return nil
}
