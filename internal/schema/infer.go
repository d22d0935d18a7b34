package schema

import (
	"fmt"
	"sort"
)

// Defaults for Options.
const (
	DefaultFieldThreshold  = 30
	DefaultMinConfidence   = 70
	DefaultPassRateWarning = 0.7
)

// Options tunes inference.
type Options struct {
	Rules           []Rule  // DefaultRules when nil
	FieldThreshold  float64 // minimum score for a column to be picked for a field
	MinConfidence   float64 // combined upc+sku confidence needed to proceed
	PassRateWarning float64 // warn when a picked upc/sku column validates below this
}

func (o Options) withDefaults() Options {
	if o.Rules == nil {
		o.Rules = DefaultRules
	}
	if o.FieldThreshold <= 0 {
		o.FieldThreshold = DefaultFieldThreshold
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = DefaultMinConfidence
	}
	if o.PassRateWarning <= 0 {
		o.PassRateWarning = DefaultPassRateWarning
	}
	return o
}

// Suggestion explains why a column was picked for a field.
type Suggestion struct {
	Column     string   `json:"column"`
	DetectedAs Field    `json:"detectedAs"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// Result is the outcome of inference.
type Result struct {
	Mapping     Mapping      `json:"mapping"`
	Suggestions []Suggestion `json:"suggestions"`
	Warnings    []string     `json:"warnings"`

	// Confidence is the mean of the upc and sku scores; a missing field
	// contributes 0.
	Confidence   float64 `json:"confidence"`
	NeedsMapping bool    `json:"needsMapping"`
}

// Infer assigns canonical fields to header columns using sample, the first
// data rows (cells aligned to header).
//
// Every (field, column) pair is scored. Pairs at or above the threshold are
// assigned greedily by descending score, so each field gets at most one
// column and each column at most one field. Ties go to the earlier field in
// Fields, then to the first occurring column. Optional fields also need
// header evidence; sample values alone only place UPC and SKU.
func Infer(header []string, sample [][]string, opts Options) Result {
	opts = opts.withDefaults()

	columns := make([][]string, len(header))
	for _, row := range sample {
		for i := range header {
			if i < len(row) {
				columns[i] = append(columns[i], row[i])
			}
		}
	}

	fieldRank := make(map[Field]int, len(Fields))
	for i, f := range Fields {
		fieldRank[f] = i
	}

	var candidates []ColumnScore
	for _, rule := range opts.Rules {
		for i, h := range header {
			cs := Evaluate(rule, h, i, columns[i])
			if !cs.HeaderMatched && !rule.Field.Required() {
				continue
			}
			if cs.Score >= opts.FieldThreshold {
				candidates = append(candidates, cs)
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if fieldRank[a.Field] != fieldRank[b.Field] {
			return fieldRank[a.Field] < fieldRank[b.Field]
		}
		return a.Index < b.Index
	})

	res := Result{Mapping: Mapping{}}
	picked := make(map[Field]ColumnScore)
	usedColumn := make(map[int]bool)
	for _, cs := range candidates {
		if _, done := picked[cs.Field]; done || usedColumn[cs.Index] {
			continue
		}
		picked[cs.Field] = cs
		usedColumn[cs.Index] = true
		res.Mapping[cs.Field] = cs.Column
	}

	for _, cs := range picked {
		res.Suggestions = append(res.Suggestions, Suggestion{
			Column:     cs.Column,
			DetectedAs: cs.Field,
			Confidence: cs.Score,
			Reasons:    cs.Reasons,
		})
	}
	sort.Slice(res.Suggestions, func(i, j int) bool {
		return columnIndex(header, res.Suggestions[i].Column) < columnIndex(header, res.Suggestions[j].Column)
	})

	for _, f := range RequiredFields {
		cs, ok := picked[f]
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("no %s column found", labelOf(f)))
			continue
		}
		res.Confidence += cs.Score / float64(len(RequiredFields))
		switch {
		case cs.Sampled == 0:
			res.Warnings = append(res.Warnings, fmt.Sprintf("column %q has no sampled values", cs.Column))
		case cs.PassRate < opts.PassRateWarning:
			res.Warnings = append(res.Warnings, fmt.Sprintf("only %.0f%% of sampled values in column %q look like %ss",
				cs.PassRate*100, cs.Column, labelOf(f)))
		}
	}

	_, hasUPC := picked[FieldUPC]
	_, hasSKU := picked[FieldSKU]
	res.NeedsMapping = !hasUPC || !hasSKU || res.Confidence < opts.MinConfidence
	if res.NeedsMapping && hasUPC && hasSKU {
		res.Warnings = append(res.Warnings, fmt.Sprintf("mapping confidence %.0f is below %.0f", res.Confidence, opts.MinConfidence))
	}
	return res
}

func columnIndex(header []string, col string) int {
	for i, h := range header {
		if h == col {
			return i
		}
	}
	return len(header)
}

func labelOf(f Field) string {
	switch f {
	case FieldUPC:
		return "UPC"
	case FieldSKU:
		return "SKU"
	default:
		return string(f)
	}
}
