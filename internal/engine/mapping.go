package engine

// mapping.go applies saved field mappings and value transforms to raw rows,
// producing the mapped view every later stage (validation, preview, commit)
// operates on. Raw rows are never modified.

import (
	"fmt"
	"strings"
)

// Transform is a per-field normalization applied while mapping.
type Transform string

const (
	TransformNone      Transform = "none"
	TransformLowercase Transform = "lowercase"
	TransformUppercase Transform = "uppercase"
	TransformTrim      Transform = "trim"
	TransformDate      Transform = "date"
	TransformNumber    Transform = "number"
)

// Valid reports whether the transform is one of the defined values.
func (t Transform) Valid() bool {
	switch t {
	case TransformNone, TransformLowercase, TransformUppercase, TransformTrim, TransformDate, TransformNumber, "":
		return true
	}
	return false
}

// FieldMapping routes one source field to a target field. An empty
// TargetField means the source column is explicitly skipped. Confidence is
// informational only and never blocks anything.
type FieldMapping struct {
	SourceField string    `json:"sourceField" yaml:"sourceField"`
	TargetField string    `json:"targetField" yaml:"targetField"`
	Transform   Transform `json:"transform,omitempty" yaml:"transform,omitempty"`
	Confidence  float64   `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// NormalizeMappings validates a mapping set and collapses duplicate source
// fields (last write wins, reported as a warning). The returned warnings use
// row number 0 since they concern the batch, not a row.
func NormalizeMappings(mappings []FieldMapping) ([]FieldMapping, []ImportError, error) {
	var warnings []ImportError

	bySource := make(map[string]int)
	out := make([]FieldMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.SourceField == "" {
			return nil, nil, fmt.Errorf("mapping with empty sourceField")
		}
		if !m.Transform.Valid() {
			return nil, nil, fmt.Errorf("unknown transform %q for source field %q", m.Transform, m.SourceField)
		}
		if m.Transform == "" {
			m.Transform = TransformNone
		}
		if idx, seen := bySource[m.SourceField]; seen {
			warnings = append(warnings, ImportError{
				Field:    m.SourceField,
				Message:  fmt.Sprintf("source field %q mapped more than once; keeping the last mapping (→ %q)", m.SourceField, m.TargetField),
				Severity: SeverityWarning,
			})
			out[idx] = m
			continue
		}
		bySource[m.SourceField] = len(out)
		out = append(out, m)
	}

	// Many-to-one target collisions are allowed (the user may feed one
	// target from two columns deliberately) but flagged: application order
	// is mapping order, last write wins.
	byTarget := make(map[string][]string)
	var targets []string
	for _, m := range out {
		if m.TargetField == "" {
			continue
		}
		if _, seen := byTarget[m.TargetField]; !seen {
			targets = append(targets, m.TargetField)
		}
		byTarget[m.TargetField] = append(byTarget[m.TargetField], m.SourceField)
	}
	for _, target := range targets {
		sources := byTarget[target]
		if len(sources) > 1 {
			warnings = append(warnings, ImportError{
				Field:    target,
				Message:  fmt.Sprintf("target field %q fed by multiple source fields (%s); last one wins", target, strings.Join(sources, ", ")),
				Severity: SeverityWarning,
			})
		}
	}

	return out, warnings, nil
}

// ApplyMappings projects every raw row through the mapping set. Unmapped
// source fields are dropped. Transform failures keep the original string
// value so validation can report them against the raw text.
func ApplyMappings(rows []Row, mappings []FieldMapping) []MappedRow {
	out := make([]MappedRow, len(rows))
	for i, raw := range rows {
		mapped := MappedRow{
			RowNumber: i + 1,
			Fields:    make(map[string]Value, len(mappings)),
		}
		for _, m := range mappings {
			if m.TargetField == "" {
				continue
			}
			v, ok := raw[m.SourceField]
			if !ok {
				continue
			}
			mapped.Fields[m.TargetField] = ApplyTransform(m.Transform, v)
		}
		out[i] = mapped
	}
	return out
}

// ApplyTransform applies one transform to one value. Case and trim
// transforms only touch strings; date and number coerce strings into typed
// values, leaving the original in place when parsing fails.
func ApplyTransform(t Transform, v Value) Value {
	if v.IsNull() {
		return v
	}
	switch t {
	case TransformLowercase:
		if v.Kind == KindString {
			return String(strings.ToLower(v.Str))
		}
	case TransformUppercase:
		if v.Kind == KindString {
			return String(strings.ToUpper(v.Str))
		}
	case TransformTrim:
		if v.Kind == KindString {
			return String(strings.TrimSpace(v.Str))
		}
	case TransformDate:
		if v.Kind == KindDate {
			return v
		}
		if v.Kind == KindString {
			if d, ok := ParseDate(v.Str); ok {
				return DateOf(d)
			}
		}
	case TransformNumber:
		if v.Kind == KindNumber {
			return v
		}
		if v.Kind == KindString {
			if n, ok := ParseNumber(v.Str); ok {
				return Number(n)
			}
		}
	}
	return v
}
