package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ConditionKind tags the persisted condition variant.
type ConditionKind string

const (
	ConditionKeywordMatch  ConditionKind = "keyword_match"
	ConditionCategoryMatch ConditionKind = "category_match"
)

// Subject is the part of a task a condition is evaluated against.
type Subject struct {
	Text     string
	Category string
}

// Condition is the closed set of rule predicates: KeywordMatch or CategoryMatch.
type Condition interface {
	Kind() ConditionKind
	Matches(subject Subject) bool
	validate() error
}

// KeywordMatch matches when any keyword is a case-insensitive substring of the task text.
type KeywordMatch struct {
	Keywords []string `json:"keywords"`
}

// Kind implements Condition.
func (KeywordMatch) Kind() ConditionKind { return ConditionKeywordMatch }

// Matches implements Condition.
func (k KeywordMatch) Matches(subject Subject) bool {
	text := strings.ToLower(subject.Text)
	for _, kw := range k.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func (k KeywordMatch) validate() error {
	for _, kw := range k.Keywords {
		if strings.TrimSpace(kw) != "" {
			return nil
		}
	}
	return fmt.Errorf("%w: keyword_match needs at least one keyword", ErrInvalidRule)
}

// CategoryMatch matches the task category exactly, or the category named inside the task text.
type CategoryMatch struct {
	Category string `json:"category"`
}

// Kind implements Condition.
func (CategoryMatch) Kind() ConditionKind { return ConditionCategoryMatch }

// Matches implements Condition.
func (c CategoryMatch) Matches(subject Subject) bool {
	category := strings.ToLower(strings.TrimSpace(c.Category))
	if category == "" {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(subject.Category), category) {
		return true
	}
	return strings.Contains(strings.ToLower(subject.Text), category)
}

func (c CategoryMatch) validate() error {
	if strings.TrimSpace(c.Category) == "" {
		return fmt.Errorf("%w: category_match needs a category", ErrInvalidRule)
	}
	return nil
}

// RuleTypeFor derives the rule type from the condition variant.
func RuleTypeFor(c Condition) RuleType {
	switch c.(type) {
	case KeywordMatch:
		return RuleTypeKeyword
	case CategoryMatch:
		return RuleTypeCategory
	default:
		return ""
	}
}

// ValidateCondition checks a condition is a known, well-formed variant.
func ValidateCondition(c Condition) error {
	if c == nil {
		return fmt.Errorf("%w: condition is required", ErrInvalidRule)
	}
	return c.validate()
}

type conditionEnvelope struct {
	Type     ConditionKind `json:"type"`
	Keywords []string      `json:"keywords,omitempty"`
	Category string        `json:"category,omitempty"`
}

// MarshalCondition encodes a condition with its type tag.
func MarshalCondition(c Condition) ([]byte, error) {
	switch v := c.(type) {
	case KeywordMatch:
		return json.Marshal(conditionEnvelope{Type: ConditionKeywordMatch, Keywords: v.Keywords})
	case CategoryMatch:
		return json.Marshal(conditionEnvelope{Type: ConditionCategoryMatch, Category: v.Category})
	default:
		return nil, fmt.Errorf("%w: unknown condition %T", ErrInvalidRule, c)
	}
}

// UnmarshalCondition decodes a tagged condition. Unknown tags are rejected.
func UnmarshalCondition(data []byte) (Condition, error) {
	var env conditionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: condition: %v", ErrInvalidRule, err)
	}
	var c Condition
	switch env.Type {
	case ConditionKeywordMatch:
		c = KeywordMatch{Keywords: normalizeKeywords(env.Keywords)}
	case ConditionCategoryMatch:
		c = CategoryMatch{Category: strings.TrimSpace(env.Category)}
	default:
		return nil, fmt.Errorf("%w: unknown condition type %q", ErrInvalidRule, env.Type)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, kw := range in {
		if trimmed := strings.TrimSpace(kw); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
