package engine

// validate.go runs declarative rules against the mapped view of a batch.
// Rules never reach into raw data; they see only mapped, transformed values.
// Error-severity findings block commit for their row; warnings never block
// anything.

import (
	"fmt"
	"regexp"

	"github.com/sitebooks/importer/internal/schema"
)

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ImportError is one row/field-scoped validation or commit finding.
// RowNumber is 1-based over the batch raw data; 0 means batch-scoped.
type ImportError struct {
	RowNumber int      `json:"rowNumber"`
	Field     string   `json:"field,omitempty"`
	Value     string   `json:"value,omitempty"`
	Message   string   `json:"error"`
	Severity  Severity `json:"severity"`
}

// RuleType selects the built-in check a Rule applies.
type RuleType string

const (
	RuleRequired RuleType = "required"
	RuleNumeric  RuleType = "numeric"
	RuleDate     RuleType = "date"
	RuleRegex    RuleType = "regex"
	RuleCustom   RuleType = "custom"
)

// Rule is one declarative check against a target field. The engine hard-codes
// no business rules; callers derive rules from the collection schema, a saved
// profile, or supply their own.
type Rule struct {
	Field    string   `json:"field" yaml:"field"`
	Type     RuleType `json:"type" yaml:"type"`
	Pattern  string   `json:"pattern,omitempty" yaml:"pattern,omitempty"` // regex rules only
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
	Severity Severity `json:"severity,omitempty" yaml:"severity,omitempty"` // defaults to error

	// Check is the predicate for custom rules. Not serializable.
	Check func(Value) bool `json:"-" yaml:"-"`
}

// ValidationSummary aggregates a validation run. Valid is true iff no
// error-severity findings exist; warnings never affect it.
type ValidationSummary struct {
	Valid        bool `json:"valid"`
	ErrorCount   int  `json:"errorCount"`
	WarningCount int  `json:"warningCount"`
}

// ValidateRows applies every rule to every mapped row. Returned errors are
// ordered by row, then rule order, so repeated runs are identical.
func ValidateRows(rows []MappedRow, rules []Rule) (ValidationSummary, []ImportError, error) {
	compiled := make([]*regexp.Regexp, len(rules))
	for i, r := range rules {
		if r.Type == RuleRegex {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return ValidationSummary{}, nil, fmt.Errorf("rule %d: invalid pattern %q: %w", i, r.Pattern, err)
			}
			compiled[i] = re
		}
		if r.Type == RuleCustom && r.Check == nil {
			return ValidationSummary{}, nil, fmt.Errorf("rule %d: custom rule for %q has no check", i, r.Field)
		}
	}

	var findings []ImportError
	for _, row := range rows {
		// Mapping-stage warnings ride along with the row
		findings = append(findings, row.Warnings...)

		for i, rule := range rules {
			v := row.Fields[rule.Field]
			if msg := checkRule(rule, compiled[i], v); msg != "" {
				sev := rule.Severity
				if sev == "" {
					sev = SeverityError
				}
				findings = append(findings, ImportError{
					RowNumber: row.RowNumber,
					Field:     rule.Field,
					Value:     v.Display(),
					Message:   msg,
					Severity:  sev,
				})
			}
		}
	}

	summary := ValidationSummary{Valid: true}
	for _, f := range findings {
		if f.Severity == SeverityError {
			summary.ErrorCount++
			summary.Valid = false
		} else {
			summary.WarningCount++
		}
	}
	return summary, findings, nil
}

// checkRule returns a failure message, or "" when the value passes.
func checkRule(rule Rule, re *regexp.Regexp, v Value) string {
	fail := func(def string) string {
		if rule.Message != "" {
			return rule.Message
		}
		return def
	}

	switch rule.Type {
	case RuleRequired:
		if v.IsEmpty() {
			return fail("required field is empty")
		}
	case RuleNumeric:
		if v.IsEmpty() || v.Kind == KindNumber {
			return ""
		}
		if v.Kind != KindString {
			return fail("value is not numeric")
		}
		if _, ok := ParseNumber(v.Str); !ok {
			return fail("invalid number format")
		}
	case RuleDate:
		if v.IsEmpty() || v.Kind == KindDate {
			return ""
		}
		if v.Kind != KindString {
			return fail("value is not a date")
		}
		if _, ok := ParseDate(v.Str); !ok {
			return fail("invalid date format (use YYYY-MM-DD or similar)")
		}
	case RuleRegex:
		if v.IsEmpty() {
			return ""
		}
		if !re.MatchString(v.Display()) {
			return fail(fmt.Sprintf("value does not match pattern %s", rule.Pattern))
		}
	case RuleCustom:
		if !rule.Check(v) {
			return fail("failed custom validation")
		}
	}
	return ""
}

// RulesForCollection derives the default rule set from a collection schema:
// required fields get required rules, number and date fields get type rules.
func RulesForCollection(c schema.Collection) []Rule {
	var rules []Rule
	for _, f := range c.Fields {
		if f.Required {
			rules = append(rules, Rule{Field: f.Name, Type: RuleRequired})
		}
		switch f.Type {
		case schema.FieldNumber:
			rules = append(rules, Rule{Field: f.Name, Type: RuleNumeric})
		case schema.FieldDate:
			rules = append(rules, Rule{Field: f.Name, Type: RuleDate})
		}
	}
	return rules
}
