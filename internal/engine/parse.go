package engine

// parse.go turns raw uploaded content into a header list and []Row per
// source format. Delimited variants (csv, tsv, qb, sage, foundation) share
// one reader; iif, json, fixed-width and xlsx have their own paths.
//
// Text formats pass through sanitizeUTF8 and CleanCell so downstream stages
// never see BOMs, Excel ="..." formula wrappers or stray quotes; xlsx content
// is a binary zip and skips sanitization.

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// MaxHeaderSearchRows bounds the scan for a plausible header row in
// delimited files that carry report title lines above the header.
var MaxHeaderSearchRows = 20

// ParseRaw parses content according to format. The delimiter override (single
// character, empty for format default) applies to delimited formats only.
// Returns the source header list in file order and one Row per data line.
func ParseRaw(content string, format SourceFormat, delimiter string) ([]string, []Row, error) {
	if format == FormatXLSX {
		// Binary zip container; sanitizing would corrupt it. excelize handles
		// cell encoding itself.
		return parseXLSX(content)
	}
	content = string(sanitizeUTF8([]byte(content)))

	switch format {
	case FormatCSV, FormatQB, FormatSage, FormatFoundation:
		return parseDelimited(content, pickDelimiter(delimiter, ','))
	case FormatTSV:
		return parseDelimited(content, pickDelimiter(delimiter, '\t'))
	case FormatIIF:
		return parseIIF(content)
	case FormatJSON:
		return parseJSON(content)
	case FormatFixed:
		return parseFixed(content)
	}
	return nil, nil, fmt.Errorf("unsupported source format: %q", format)
}

func pickDelimiter(override string, fallback rune) rune {
	if override != "" {
		r, _ := utf8.DecodeRuneInString(override)
		if r != utf8.RuneError {
			return r
		}
	}
	return fallback
}

// parseDelimited reads a CSV-like file. The header is the first row whose
// cells are non-empty and unique-ish; report exports (QuickBooks, Sage) often
// carry title/date banner lines first, so the scan skips rows where fewer
// than half the cells look like column names.
func parseDelimited(content string, delim rune) ([]string, []Row, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse delimited: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty file")
	}

	headerIdx := findHeaderRow(records)
	if headerIdx < 0 {
		return nil, nil, fmt.Errorf("no header row found in first %d lines", MaxHeaderSearchRows)
	}

	headers := cleanHeader(records[headerIdx])
	rows := make([]Row, 0, len(records)-headerIdx-1)
	for _, rec := range records[headerIdx+1:] {
		if recordEmpty(rec) {
			continue
		}
		row := make(Row, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(rec) {
				row[h] = String(CleanCell(rec[i]))
			} else {
				row[h] = Null()
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

// findHeaderRow returns the index of the most plausible header row within
// the search window: the first row where most cells are short non-numeric
// labels and no label repeats.
func findHeaderRow(records [][]string) int {
	limit := len(records)
	if limit > MaxHeaderSearchRows {
		limit = MaxHeaderSearchRows
	}
	for i := 0; i < limit; i++ {
		if looksLikeHeader(records[i]) {
			return i
		}
	}
	return -1
}

func looksLikeHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	seen := make(map[string]bool)
	labels := 0
	for _, cell := range rec {
		c := CleanCell(cell)
		if c == "" {
			continue
		}
		if _, ok := ParseNumber(c); ok {
			return false // data row
		}
		key := strings.ToLower(c)
		if seen[key] {
			return false
		}
		seen[key] = true
		labels++
	}
	return labels > 0 && labels*2 >= len(rec)
}

// parseIIF reads a QuickBooks IIF export. Header definition lines start with
// "!" and name a record type in their first field (!TRNS, !SPL, !CUST...).
// Data lines lead with the matching record type. ENDTRNS terminators are
// dropped. Fields are tab separated.
func parseIIF(content string) ([]string, []Row, error) {
	lines := splitLines(content)
	if len(lines) == 0 {
		return nil, nil, fmt.Errorf("empty file")
	}

	// record type -> header fields (excluding the type column itself)
	defs := make(map[string][]string)
	var primary string // first record type defined, its headers become the batch headers
	var headers []string

	for _, line := range lines {
		if !strings.HasPrefix(line, "!") {
			continue
		}
		fields := strings.Split(line, "\t")
		recType := strings.TrimPrefix(fields[0], "!")
		cols := make([]string, 0, len(fields)-1)
		for _, f := range fields[1:] {
			cols = append(cols, CleanCell(f))
		}
		defs[recType] = cols
		if primary == "" {
			primary = recType
			headers = cols
		}
	}
	if primary == "" {
		return nil, nil, fmt.Errorf("no !HEADER definition line found")
	}

	var rows []Row
	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}
		fields := strings.Split(line, "\t")
		recType := fields[0]
		if recType == "ENDTRNS" {
			continue
		}
		cols, ok := defs[recType]
		if !ok || recType != primary {
			// Secondary record types (e.g. SPL under TRNS) are out of scope
			// for a single-collection batch; only primary rows import.
			continue
		}
		row := make(Row, len(cols))
		for i, h := range cols {
			if h == "" {
				continue
			}
			if i+1 < len(fields) {
				row[h] = String(CleanCell(fields[i+1]))
			} else {
				row[h] = Null()
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

// parseJSON reads an array of flat objects (or a single object). Header
// order is first-seen key order across the array, sorted within each object
// for determinism.
func parseJSON(content string) ([]string, []Row, error) {
	trimmed := strings.TrimSpace(content)
	var objs []map[string]any

	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &objs); err != nil {
			return nil, nil, fmt.Errorf("parse JSON array: %w", err)
		}
	} else {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, nil, fmt.Errorf("parse JSON object: %w", err)
		}
		objs = []map[string]any{obj}
	}

	var headers []string
	seen := make(map[string]bool)
	rows := make([]Row, 0, len(objs))

	for _, obj := range objs {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}

		row := make(Row, len(obj))
		for k, v := range obj {
			row[k] = jsonValue(v)
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

func jsonValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case string:
		return String(x)
	case float64:
		return Number(x)
	case bool:
		return Boolean(x)
	default:
		// Nested arrays/objects flatten to their JSON text
		b, err := json.Marshal(x)
		if err != nil {
			return Null()
		}
		return String(string(b))
	}
}

// parseFixed reads fixed-width columns. Column boundaries are positions that
// are a space in every sampled line; runs of such positions separate fields.
// The first line is the header.
func parseFixed(content string) ([]string, []Row, error) {
	lines := splitLines(content)
	if len(lines) < 2 {
		return nil, nil, fmt.Errorf("fixed-width file needs a header and at least one data line")
	}

	boundaries := fixedColumnBoundaries(lines)
	if len(boundaries) == 0 {
		return nil, nil, fmt.Errorf("could not infer fixed-width column boundaries")
	}

	headers := cleanHeader(sliceFixed(lines[0], boundaries))
	var rows []Row
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := sliceFixed(line, boundaries)
		row := make(Row, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(cells) {
				row[h] = String(CleanCell(cells[i]))
			} else {
				row[h] = Null()
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

// fixedColumnBoundaries returns the start offsets of each column, inferred
// from positions that hold a space in every sampled non-empty line.
func fixedColumnBoundaries(lines []string) []int {
	sample := lines
	if len(sample) > MaxHeaderSearchRows {
		sample = sample[:MaxHeaderSearchRows]
	}

	width := 0
	for _, l := range sample {
		if len(l) > width {
			width = len(l)
		}
	}
	if width == 0 {
		return nil
	}

	allSpace := make([]bool, width)
	for i := range allSpace {
		allSpace[i] = true
	}
	for _, l := range sample {
		if strings.TrimSpace(l) == "" {
			continue
		}
		for i := 0; i < width; i++ {
			if i < len(l) && l[i] != ' ' {
				allSpace[i] = false
			}
		}
	}

	var starts []int
	inGap := true
	for i := 0; i < width; i++ {
		if allSpace[i] {
			inGap = true
			continue
		}
		if inGap {
			starts = append(starts, i)
			inGap = false
		}
	}
	if len(starts) < 2 {
		return nil // a single column is not fixed-width structure
	}
	return starts
}

func sliceFixed(line string, starts []int) []string {
	cells := make([]string, len(starts))
	for i, start := range starts {
		if start >= len(line) {
			cells[i] = ""
			continue
		}
		end := len(line)
		if i+1 < len(starts) && starts[i+1] < end {
			end = starts[i+1]
		}
		cells[i] = strings.TrimSpace(line[start:end])
	}
	return cells
}

// parseXLSX reads the first sheet of an Excel workbook. The first row is the
// header.
func parseXLSX(content string) ([]string, []Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader([]byte(content)))
	if err != nil {
		return nil, nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}

	headers := cleanHeader(records[0])
	var rows []Row
	for _, rec := range records[1:] {
		if recordEmpty(rec) {
			continue
		}
		row := make(Row, len(headers))
		for i, h := range headers {
			if h == "" {
				continue
			}
			if i < len(rec) {
				row[h] = String(CleanCell(rec[i]))
			} else {
				row[h] = Null()
			}
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode replacement
// character so the csv reader and JSON encoder never choke on Windows-1252
// leftovers.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	var buf bytes.Buffer
	buf.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
		} else {
			buf.Write(data[:size])
		}
		data = data[size:]
	}
	return buf.Bytes()
}

// CleanCell normalizes one raw cell: strips the UTF-8 BOM, unwraps Excel
// ="value" formula text, and trims surrounding whitespace and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	s = strings.Trim(s, " ")
	return strings.TrimSpace(s)
}

func cleanHeader(rec []string) []string {
	headers := make([]string, len(rec))
	for i, h := range rec {
		headers[i] = CleanCell(h)
	}
	// Drop trailing empty header cells
	for len(headers) > 0 && headers[len(headers)-1] == "" {
		headers = headers[:len(headers)-1]
	}
	return headers
}

func recordEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// splitLines splits on \n, dropping \r and a trailing empty line.
func splitLines(content string) []string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
