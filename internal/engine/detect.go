package engine

// detect.go implements format detection for uploaded content. Recognizers
// run in priority order: explicit structural markers (xlsx zip magic, IIF
// bang-headers, JSON braces) first, then delimiter-frequency analysis over a
// sample of lines, then fixed-width column inference.
//
// Detection is advisory and never fails: when nothing scores above the
// floor, the result carries confidence 0 and the caller's format stands.

import (
	"encoding/json"
	"strings"

	"github.com/sitebooks/importer/internal/schema"
)

// DetectionResult is the detector's proposal. Every field may be overridden
// by the caller.
type DetectionResult struct {
	Format     SourceFormat `json:"format"`
	Confidence float64      `json:"confidence"`
	Delimiter  string       `json:"delimiter,omitempty"`
	Collection string       `json:"detectedCollection,omitempty"`
	Headers    []string     `json:"headers,omitempty"`
}

// detectSampleLines is how many lines the structural recognizers examine.
const detectSampleLines = 20

// minDetectConfidence is the floor below which detection reports nothing.
const minDetectConfidence = 0.3

// collectionMatchThreshold is the minimum signature-overlap ratio for a
// collection to be proposed.
const collectionMatchThreshold = 0.5

// iifHeaderMarkers are the record-type definition prefixes QuickBooks IIF
// files start with.
var iifHeaderMarkers = []string{"!TRNS", "!SPL", "!CUST", "!VEND", "!EMP", "!ACCNT", "!INVITEM", "!CLASS"}

// DetectFormat inspects raw content (and an optional filename hint) and
// proposes a format with confidence, a delimiter for delimited formats, the
// header row, and a target collection inferred from header signatures.
func DetectFormat(content, filename string) DetectionResult {
	if res, ok := detectXLSX(content, filename); ok {
		return finishDetection(res, content)
	}
	if res, ok := detectIIF(content); ok {
		return finishDetection(res, content)
	}
	if res, ok := detectJSON(content); ok {
		return finishDetection(res, content)
	}
	if res, ok := detectDelimited(content, filename); ok {
		return finishDetection(res, content)
	}
	if res, ok := detectFixed(content); ok {
		return finishDetection(res, content)
	}

	// Nothing recognized: advisory zero-confidence result, csv as the
	// least-wrong default. Callers keep their own format when confidence
	// is below the floor.
	return DetectionResult{Format: FormatCSV, Confidence: 0}
}

// finishDetection parses headers with the detected format and infers the
// target collection from them.
func finishDetection(res DetectionResult, content string) DetectionResult {
	if len(res.Headers) == 0 {
		if headers, _, err := ParseRaw(content, res.Format, res.Delimiter); err == nil {
			res.Headers = headers
		}
	}
	if len(res.Headers) > 0 {
		res.Collection = DetectCollection(res.Headers)
	}
	return res
}

// DetectCollection compares a header set against each registered collection's
// signature fields and returns the best overlap above the threshold, or ""
// when nothing matches well enough (forcing manual selection).
func DetectCollection(headers []string) string {
	norm := make(map[string]bool, len(headers))
	for _, h := range headers {
		norm[normalizeFieldName(h)] = true
	}

	best := ""
	bestRatio := 0.0
	for _, c := range schema.All() {
		if len(c.Signature) == 0 {
			continue
		}
		hits := 0
		for _, sig := range c.Signature {
			if norm[normalizeFieldName(sig)] {
				hits++
			}
		}
		ratio := float64(hits) / float64(len(c.Signature))
		if ratio > bestRatio {
			bestRatio = ratio
			best = c.Key
		}
	}
	if bestRatio < collectionMatchThreshold {
		return ""
	}
	return best
}

func detectXLSX(content, filename string) (DetectionResult, bool) {
	isZip := strings.HasPrefix(content, "PK\x03\x04")
	hasExt := strings.HasSuffix(strings.ToLower(filename), ".xlsx")
	if !isZip && !hasExt {
		return DetectionResult{}, false
	}
	conf := 0.7
	if isZip {
		conf = 0.95
	}
	return DetectionResult{Format: FormatXLSX, Confidence: conf}, true
}

func detectIIF(content string) (DetectionResult, bool) {
	lines := sampleLines(content)
	if len(lines) == 0 {
		return DetectionResult{}, false
	}

	first := strings.TrimSpace(lines[0])
	marker := false
	for _, m := range iifHeaderMarkers {
		if strings.HasPrefix(first, m+"\t") || first == m {
			marker = true
			break
		}
	}
	if !marker {
		return DetectionResult{}, false
	}

	// Marker contributes 0.8; consistent tab counts across the sample
	// contribute the remaining 0.2.
	conf := 0.8 + 0.2*delimiterConsistency(lines, '\t')
	return DetectionResult{Format: FormatIIF, Confidence: conf, Delimiter: "\t"}, true
}

func detectJSON(content string) (DetectionResult, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "{") {
		return DetectionResult{}, false
	}
	if !json.Valid([]byte(trimmed)) {
		return DetectionResult{}, false
	}
	return DetectionResult{Format: FormatJSON, Confidence: 0.9}, true
}

// detectDelimited scores candidate delimiters by how consistently they split
// the sample into the same column count. Filename hints nudge comma files
// toward the vendor-specific formats (qb/sage) without changing parsing.
func detectDelimited(content, filename string) (DetectionResult, bool) {
	lines := sampleLines(content)
	if len(lines) < 2 {
		return DetectionResult{}, false
	}

	type candidate struct {
		delim  rune
		format SourceFormat
	}
	candidates := []candidate{
		{',', FormatCSV},
		{'\t', FormatTSV},
		{';', FormatCSV},
		{'|', FormatCSV},
	}

	bestConf := 0.0
	var best candidate
	for _, c := range candidates {
		consistency := delimiterConsistency(lines, c.delim)
		if consistency == 0 {
			continue
		}
		conf := 0.5 + 0.45*consistency
		if conf > bestConf {
			bestConf = conf
			best = c
		}
	}
	if bestConf < minDetectConfidence {
		return DetectionResult{}, false
	}

	format := best.format
	if format == FormatCSV {
		switch vendorHint(filename) {
		case "qb":
			format = FormatQB
		case "sage":
			format = FormatSage
		case "foundation":
			format = FormatFoundation
		}
	}
	return DetectionResult{Format: format, Confidence: bestConf, Delimiter: string(best.delim)}, true
}

func vendorHint(filename string) string {
	f := strings.ToLower(filename)
	switch {
	case strings.Contains(f, "quickbooks"), strings.Contains(f, "qbexport"), strings.HasPrefix(f, "qb_"), strings.HasPrefix(f, "qb-"):
		return "qb"
	case strings.Contains(f, "sage"):
		return "sage"
	case strings.Contains(f, "foundation"):
		return "foundation"
	}
	return ""
}

func detectFixed(content string) (DetectionResult, bool) {
	lines := sampleLines(content)
	if len(lines) < 3 {
		return DetectionResult{}, false
	}
	starts := fixedColumnBoundaries(lines)
	if len(starts) < 2 {
		return DetectionResult{}, false
	}

	// Confidence grows with line-length uniformity across the sample.
	minLen, maxLen := len(lines[0]), len(lines[0])
	for _, l := range lines[1:] {
		if len(l) < minLen {
			minLen = len(l)
		}
		if len(l) > maxLen {
			maxLen = len(l)
		}
	}
	uniformity := 0.0
	if maxLen > 0 {
		uniformity = float64(minLen) / float64(maxLen)
	}
	conf := 0.4 + 0.3*uniformity
	if conf < minDetectConfidence {
		return DetectionResult{}, false
	}
	return DetectionResult{Format: FormatFixed, Confidence: conf}, true
}

// delimiterConsistency returns the fraction of sample lines whose delimiter
// count matches the first line's (and is non-zero).
func delimiterConsistency(lines []string, delim rune) float64 {
	if len(lines) == 0 {
		return 0
	}
	want := strings.Count(lines[0], string(delim))
	if want == 0 {
		return 0
	}
	matching := 0
	for _, l := range lines {
		if strings.Count(l, string(delim)) == want {
			matching++
		}
	}
	return float64(matching) / float64(len(lines))
}

func sampleLines(content string) []string {
	lines := splitLines(content)
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
		if len(out) == detectSampleLines {
			break
		}
	}
	return out
}
