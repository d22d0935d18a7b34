// Package schema infers which columns of an inventory export hold the
// canonical fields (UPC, SKU, warehouse, location, description, brand,
// category).
//
// Every field is described by a declarative [Rule]: exact header synonyms,
// substring hints, header regexes and a value validator. A single generic
// scorer evaluates any rule against any column, so adding a field means
// adding a table entry, not code.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Field is a canonical semantic field name.
type Field string

const (
	FieldUPC         Field = "upc"
	FieldSKU         Field = "sku"
	FieldWarehouse   Field = "warehouse"
	FieldLocation    Field = "location"
	FieldDescription Field = "description"
	FieldBrand       Field = "brand"
	FieldCategory    Field = "category"
)

// Fields lists the canonical fields in priority order. Earlier fields win
// ties during column assignment.
var Fields = []Field{
	FieldUPC,
	FieldSKU,
	FieldWarehouse,
	FieldLocation,
	FieldDescription,
	FieldBrand,
	FieldCategory,
}

// RequiredFields must be mapped before conflict detection can run.
var RequiredFields = []Field{FieldUPC, FieldSKU}

// ErrInvalidMapping is returned when a column mapping cannot be applied to
// a header.
var ErrInvalidMapping = errors.New("invalid column mapping")

// Known reports whether f is a canonical field.
func (f Field) Known() bool {
	for _, k := range Fields {
		if k == f {
			return true
		}
	}
	return false
}

// Required reports whether f is one of RequiredFields.
func (f Field) Required() bool {
	for _, r := range RequiredFields {
		if r == f {
			return true
		}
	}
	return false
}

// Mapping assigns canonical fields to source column names.
type Mapping map[Field]string

// Validate checks that m can be applied to header: upc and sku are present,
// every field is known, every column exists, and no column is used twice.
func (m Mapping) Validate(header []string) error {
	var problems []string

	for _, f := range RequiredFields {
		if strings.TrimSpace(m[f]) == "" {
			problems = append(problems, fmt.Sprintf("missing required column for %s", f))
		}
	}

	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}

	used := make(map[string]Field, len(m))
	for _, f := range m.sortedFields() {
		col := m[f]
		if !f.Known() {
			problems = append(problems, fmt.Sprintf("unknown field %q", f))
			continue
		}
		if col == "" {
			continue
		}
		if !present[col] {
			problems = append(problems, fmt.Sprintf("column not found: %q (for %s)", col, f))
			continue
		}
		if prev, dup := used[col]; dup {
			problems = append(problems, fmt.Sprintf("column %q mapped to both %s and %s", col, prev, f))
			continue
		}
		used[col] = f
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMapping, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateMapping is shorthand for m.Validate(header).
func ValidateMapping(header []string, m Mapping) error {
	return m.Validate(header)
}

// Indexes resolves the mapping to column positions in header. Fields whose
// column is absent are omitted.
func (m Mapping) Indexes(header []string) map[Field]int {
	pos := make(map[string]int, len(header))
	for i := len(header) - 1; i >= 0; i-- {
		pos[header[i]] = i
	}
	out := make(map[Field]int, len(m))
	for f, col := range m {
		if i, ok := pos[col]; ok && col != "" {
			out[f] = i
		}
	}
	return out
}

// Clone returns a copy of m.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	for f, c := range m {
		out[f] = c
	}
	return out
}

func (m Mapping) sortedFields() []Field {
	fields := make([]Field, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
