package engine

// value.go defines the typed cell value used throughout the engine.
//
// Source rows arrive as untyped text (or loosely typed JSON). Rather than
// passing interface{} around, every cell is held as a Value with an explicit
// Kind so the validator, transformer and differ can switch exhaustively.
//
// The coercion helpers handle the messy reality of accounting exports:
//   - Multiple date formats (US, EU, ISO, compact)
//   - Currency symbols, thousand separators, accounting-negative "(123.45)"
//   - Various boolean spellings (yes/no, true/false, t/f, 1/0)

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the primitive type held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindDate
	KindBool
)

// Value is a tagged union of the primitive cell types.
// The zero value is null.
type Value struct {
	Kind Kind
	Str  string
	Num  float64
	Date time.Time
	Bool bool
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a string Value. Empty strings stay strings, not null;
// required-field checks decide how to treat them.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Date returns a date Value truncated to day precision.
func DateOf(t time.Time) Value {
	return Value{Kind: KindDate, Date: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// Boolean returns a boolean Value.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsEmpty reports whether the value is null or an empty/blank string.
func (v Value) IsEmpty() bool {
	return v.Kind == KindNull || (v.Kind == KindString && strings.TrimSpace(v.Str) == "")
}

// Display renders the value as a string for storage, diffing and error
// messages. Numbers drop trailing zeros; dates use ISO format.
func (v Value) Display() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindDate:
		return v.Date.Format("2006-01-02")
	case KindBool:
		return strconv.FormatBool(v.Bool)
	}
	return ""
}

// Equal reports whether two values are equal. Values of different kinds are
// compared through coercion (e.g. a number against the stored string "100")
// so a re-import of previously committed data diffs clean.
func (v Value) Equal(o Value) bool {
	if v.Kind == o.Kind {
		switch v.Kind {
		case KindNull:
			return true
		case KindString:
			return v.Str == o.Str
		case KindNumber:
			return v.Num == o.Num
		case KindDate:
			return v.Date.Equal(o.Date)
		case KindBool:
			return v.Bool == o.Bool
		}
	}
	if v.IsNull() || o.IsNull() {
		return v.IsEmpty() && o.IsEmpty()
	}
	// Coerce the string side toward the typed side.
	if v.Kind == KindString {
		return o.EqualString(v.Str)
	}
	if o.Kind == KindString {
		return v.EqualString(o.Str)
	}
	return false
}

// EqualString compares a value against a raw string representation.
// Used when diffing mapped values against records the store returns as text.
func (v Value) EqualString(s string) bool {
	switch v.Kind {
	case KindNull:
		return strings.TrimSpace(s) == ""
	case KindString:
		return v.Str == s
	case KindNumber:
		if n, ok := ParseNumber(s); ok {
			return v.Num == n
		}
	case KindDate:
		if d, ok := ParseDate(s); ok {
			return v.Date.Equal(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
		}
	case KindBool:
		if b, ok := ParseBool(s); ok {
			return v.Bool == b
		}
	}
	return v.Display() == s
}

// numericPattern validates a string is numeric after cleanup.
// Matches integers, decimals and scientific notation.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot controls how 2-digit years are interpreted: parsed years
// more than this many years in the future roll back a century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// ParseNumber parses a numeric string as exported by accounting packages.
// Handles currency symbols, thousands separators and the accounting-negative
// form "(123.45)". Returns false for empty or unparsable input.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if negative {
		s = "-" + s
	}

	if !numericPattern.MatchString(s) {
		return 0, false
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseDate parses a date string in any of the common export layouts,
// handling 2-digit years with a pivot.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	// 4-digit year layouts first, they are unambiguous
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivot := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivot {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// ParseBool parses the boolean spellings seen in vendor exports.
func ParseBool(s string) (bool, bool) {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}
