package domain

import (
	"encoding/json"
	"sort"

	"gopkg.in/yaml.v3"
)

// Rule is one entry of a business-rule category.
type Rule struct {
	RuleID       string        `json:"ruleId" yaml:"ruleId"`
	Condition    *Condition    `json:"condition,omitempty" yaml:"condition,omitempty"`
	Requirements *Requirements `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Restrictions *Restrictions `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`

	// States limits a state rule to the listed property states.
	States []string `json:"states,omitempty" yaml:"states,omitempty"`

	ErrorMessage string `json:"errorMessage" yaml:"errorMessage"`
}

// Condition is a predicate over loan facts. Every present key must hold.
type Condition struct {
	LoanPurpose     LoanPurpose   `json:"loanPurpose,omitempty" yaml:"loanPurpose,omitempty"`
	LoanAmount      *NumericRange `json:"loanAmount,omitempty" yaml:"loanAmount,omitempty"`
	DSCR            *NumericRange `json:"dscr,omitempty" yaml:"dscr,omitempty"`
	FICO            *NumericRange `json:"fico,omitempty" yaml:"fico,omitempty"`
	LTV             *NumericRange `json:"ltv,omitempty" yaml:"ltv,omitempty"`
	PrepayStructure string        `json:"prepayStructure,omitempty" yaml:"prepayStructure,omitempty"`
	Product         string        `json:"product,omitempty" yaml:"product,omitempty"`
	InterestOnly    *bool         `json:"interestOnly,omitempty" yaml:"interestOnly,omitempty"`

	// Expression is a CEL boolean expression over loan facts.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// Unknown lists document keys that no predicate understands.
	Unknown []string `json:"-" yaml:"-"`
}

// NumericRange bounds a numeric fact. Absent bounds are not checked.
type NumericRange struct {
	LT  *float64 `json:"lt,omitempty" yaml:"lt,omitempty"`
	GT  *float64 `json:"gt,omitempty" yaml:"gt,omitempty"`
	GTE *float64 `json:"gte,omitempty" yaml:"gte,omitempty"`
	LTE *float64 `json:"lte,omitempty" yaml:"lte,omitempty"`
}

// Contains reports whether v satisfies every present bound.
func (r *NumericRange) Contains(v float64) bool {
	if r == nil {
		return true
	}
	if r.LT != nil && !(v < *r.LT) {
		return false
	}
	if r.GT != nil && !(v > *r.GT) {
		return false
	}
	if r.GTE != nil && !(v >= *r.GTE) {
		return false
	}
	if r.LTE != nil && !(v <= *r.LTE) {
		return false
	}
	return true
}

// Requirements are thresholds that must hold once a rule's condition matches.
type Requirements struct {
	MinFico            *float64 `json:"minFico,omitempty" yaml:"minFico,omitempty"`
	MaxLTV             *float64 `json:"maxLTV,omitempty" yaml:"maxLTV,omitempty"`
	MinDSCR            *float64 `json:"minDscr,omitempty" yaml:"minDscr,omitempty"`
	MinRate            *float64 `json:"minRate,omitempty" yaml:"minRate,omitempty"`
	Product            string   `json:"product,omitempty" yaml:"product,omitempty"`
	Products           []string `json:"products,omitempty" yaml:"products,omitempty"`
	ZeroPrepayRequired bool     `json:"zeroPrepayRequired,omitempty" yaml:"zeroPrepayRequired,omitempty"`
}

// Restrictions limit what a matching loan may choose.
type Restrictions struct {
	// PrepayStructures is the allowed set.
	PrepayStructures          []string `json:"prepayStructures,omitempty" yaml:"prepayStructures,omitempty"`
	ForbiddenPrepayStructures []string `json:"forbiddenPrepayStructures,omitempty" yaml:"forbiddenPrepayStructures,omitempty"`
	// InterestOnly set to false forbids interest-only.
	InterestOnly *bool `json:"interestOnly,omitempty" yaml:"interestOnly,omitempty"`
}

var conditionKeys = map[string]bool{
	"loanPurpose":     true,
	"loanAmount":      true,
	"dscr":            true,
	"fico":            true,
	"ltv":             true,
	"prepayStructure": true,
	"product":         true,
	"interestOnly":    true,
	"expression":      true,
}

type conditionAlias Condition

// UnmarshalJSON decodes a condition and records unrecognized keys.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var alias conditionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if !conditionKeys[k] {
			alias.Unknown = append(alias.Unknown, k)
		}
	}
	sort.Strings(alias.Unknown)

	*c = Condition(alias)
	return nil
}

// UnmarshalYAML decodes a condition and records unrecognized keys.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var alias conditionAlias
	if err := node.Decode(&alias); err != nil {
		return err
	}

	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			if k := node.Content[i].Value; !conditionKeys[k] {
				alias.Unknown = append(alias.Unknown, k)
			}
		}
	}
	sort.Strings(alias.Unknown)

	*c = Condition(alias)
	return nil
}
