package engine

// match.go proposes a field mapping from source headers to target fields.
//
// Scoring per (header, target) pair: exact normalized match 1.0, synonym
// table 0.85, substring containment 0.7-0.9, Jaccard token overlap scaled
// to 0-0.6. Assignment is greedy highest-score-first with one-to-one
// enforcement: once a target is claimed, lower-scoring headers for the same
// target stay unmapped. Ties break by edit distance, then header order.
// Users review the proposal before saving, so greedy is good enough; see
// DESIGN.md for the bipartite-assignment tradeoff.

import (
	"sort"
	"strings"
	"unicode"
)

// matchFloor is the minimum score for a mapping to be proposed at all.
const matchFloor = 0.3

// fieldAliases maps normalized source spellings to normalized target names.
// Grown from the vendor exports seen in the field; construction accounting
// packages are remarkably consistent in their abbreviations.
var fieldAliases = map[string]string{
	"amt":         "amount",
	"inv":         "invoicenumber",
	"invno":       "invoicenumber",
	"invnum":      "invoicenumber",
	"invoiceno":   "invoicenumber",
	"invoice":     "invoicenumber",
	"refno":       "invoicenumber",
	"vendno":      "vendorcode",
	"vendorno":    "vendorcode",
	"vendorid":    "vendorcode",
	"vendor":      "vendorcode",
	"custno":      "customercode",
	"customerid":  "customercode",
	"customer":    "customercode",
	"empid":       "employeeid",
	"empno":       "employeeid",
	"employee":    "employeeid",
	"ssn":         "taxid",
	"ein":         "taxid",
	"fedid":       "taxid",
	"taxid":       "taxid",
	"date":        "invoicedate",
	"invdate":     "invoicedate",
	"txndate":     "transactiondate",
	"transdate":   "transactiondate",
	"job":         "jobcode",
	"jobno":       "jobcode",
	"jobnumber":   "jobcode",
	"project":     "jobcode",
	"costcd":      "costcode",
	"cc":          "costcode",
	"acct":        "accountnumber",
	"acctno":      "accountnumber",
	"account":     "accountnumber",
	"glacct":      "glaccount",
	"desc":        "description",
	"memo":        "description",
	"fname":       "firstname",
	"lname":       "lastname",
	"rate":        "hourlyrate",
	"payrate":     "hourlyrate",
	"tel":         "phone",
	"telephone":   "phone",
	"postalcode":  "zip",
	"zipcode":     "zip",
	"addr":        "address",
	"address1":    "address",
	"companyname": "name",
	"company":     "name",
	"duedate":     "duedate",
	"terms":       "terms",
	"ret":         "retainage",
	"retention":   "retainage",
}

// AutoMatch proposes one FieldMapping per source header. samples carries a
// few raw values per header for transform inference and may be nil.
// Unmatched headers come back with an empty TargetField and confidence 0 so
// the caller can show them as explicitly skipped.
func AutoMatch(headers []string, targetFields []string, samples map[string][]string) []FieldMapping {
	type scored struct {
		headerIdx int
		target    string
		score     float64
		editDist  int
	}

	var candidates []scored
	for i, h := range headers {
		if h == "" {
			continue
		}
		for _, t := range targetFields {
			score := matchScore(h, t)
			if score < matchFloor {
				continue
			}
			candidates = append(candidates, scored{
				headerIdx: i,
				target:    t,
				score:     score,
				editDist:  levenshtein(normalizeFieldName(h), normalizeFieldName(t)),
			})
		}
	}

	// Highest score first; break ties by shortest edit distance, then by
	// header position for determinism.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].editDist != candidates[j].editDist {
			return candidates[i].editDist < candidates[j].editDist
		}
		return candidates[i].headerIdx < candidates[j].headerIdx
	})

	assignedHeader := make(map[int]bool)
	assignedTarget := make(map[string]bool)
	proposal := make(map[int]scored)
	for _, c := range candidates {
		if assignedHeader[c.headerIdx] || assignedTarget[c.target] {
			continue
		}
		assignedHeader[c.headerIdx] = true
		assignedTarget[c.target] = true
		proposal[c.headerIdx] = c
	}

	mappings := make([]FieldMapping, 0, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		m := FieldMapping{SourceField: h}
		if c, ok := proposal[i]; ok {
			m.TargetField = c.target
			m.Confidence = c.score
			m.Transform = suggestTransform(samples[h])
		}
		mappings = append(mappings, m)
	}
	return mappings
}

// matchScore scores one header against one target field name.
func matchScore(header, target string) float64 {
	h := normalizeFieldName(header)
	t := normalizeFieldName(target)
	if h == "" || t == "" {
		return 0
	}

	if h == t {
		return 1.0
	}

	if alias, ok := fieldAliases[h]; ok && alias == t {
		return 0.85
	}

	// Substring containment, scaled by how much of the longer name the
	// shorter one covers.
	if strings.Contains(t, h) || strings.Contains(h, t) {
		shorter, longer := len(h), len(t)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		score := 0.7 + 0.2*float64(shorter)/float64(longer)
		if score > 0.9 {
			score = 0.9
		}
		return score
	}

	return 0.6 * jaccard(fieldTokens(header), fieldTokens(target))
}

// normalizeFieldName lowercases and strips everything non-alphanumeric.
func normalizeFieldName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// fieldTokens splits a field name into lowercase word tokens, breaking on
// non-alphanumerics and camelCase boundaries.
func fieldTokens(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && i > 0 && unicode.IsLower(runes[i-1]):
			flush()
			cur.WriteRune(unicode.ToLower(r))
		default:
			cur.WriteRune(unicode.ToLower(r))
		}
	}
	flush()
	return tokens
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// suggestTransform infers a transform from sample values: all-numeric
// samples suggest number, date-shaped samples suggest date, values with
// surrounding whitespace suggest trim.
func suggestTransform(samples []string) Transform {
	nonEmpty := 0
	numbers, dates, padded := 0, 0, 0
	for _, s := range samples {
		if strings.TrimSpace(s) == "" {
			continue
		}
		nonEmpty++
		if s != strings.TrimSpace(s) {
			padded++
		}
		if _, ok := ParseNumber(s); ok {
			numbers++
		} else if _, ok := ParseDate(s); ok {
			dates++
		}
	}
	if nonEmpty == 0 {
		return TransformNone
	}
	switch {
	case numbers == nonEmpty:
		return TransformNumber
	case dates == nonEmpty:
		return TransformDate
	case padded > 0:
		return TransformTrim
	}
	return TransformNone
}
