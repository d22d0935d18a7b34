package schema

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// Score weights.
const (
	ExactMatchScore    = 80
	ContainsMatchScore = 15
	PatternMatchScore  = 10
	MaxScore           = 100

	// DataWeight scales validFraction*100 into the score.
	DataWeight = 0.5
)

var folder = cases.Fold()

// foldHeader case-folds h and collapses separators to single spaces, so
// "Item_No.", "ITEM NO" and "item-no" compare equal.
func foldHeader(h string) string {
	h = folder.String(strings.TrimSpace(h))
	h = strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', '/', ':', '(', ')', '[', ']':
			return ' '
		}
		return r
	}, h)
	return strings.Join(strings.Fields(h), " ")
}

// ColumnScore is the result of evaluating one rule against one column.
type ColumnScore struct {
	Field    Field
	Column   string
	Index    int
	Score    float64
	Reasons  []string
	PassRate float64 // fraction of non-empty sampled values accepted by the validator
	Sampled  int     // non-empty sampled values

	// HeaderMatched is set when any header synonym, substring or pattern hit.
	HeaderMatched bool
}

// Evaluate scores header (at column index) for rule using values, the
// sampled cells of that column. The result never exceeds MaxScore.
func Evaluate(rule Rule, header string, index int, values []string) ColumnScore {
	cs := ColumnScore{Field: rule.Field, Column: header, Index: index}
	h := foldHeader(header)

	for _, syn := range rule.Exact {
		if h == foldHeader(syn) {
			cs.Score += ExactMatchScore
			cs.Reasons = append(cs.Reasons, fmt.Sprintf("header matches %q", syn))
			break
		}
	}
	for _, sub := range rule.Contains {
		if strings.Contains(h, sub) {
			cs.Score += ContainsMatchScore
			cs.Reasons = append(cs.Reasons, fmt.Sprintf("header contains %q", sub))
		}
	}
	for _, re := range rule.Patterns {
		if re.MatchString(h) {
			cs.Score += PatternMatchScore
			cs.Reasons = append(cs.Reasons, fmt.Sprintf("header matches pattern %s", re.String()))
		}
	}

	cs.HeaderMatched = cs.Score > 0

	if rule.Validate != nil {
		valid := 0
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				continue
			}
			cs.Sampled++
			if rule.Validate(v) {
				valid++
			}
		}
		if cs.Sampled > 0 {
			cs.PassRate = float64(valid) / float64(cs.Sampled)
			if valid > 0 {
				cs.Score += cs.PassRate * 100 * DataWeight
				cs.Reasons = append(cs.Reasons, fmt.Sprintf("%.0f%% of sampled values look like %s", cs.PassRate*100, rule.Field))
			}
		}
	}

	cs.Score = math.Min(cs.Score, MaxScore)
	return cs
}
