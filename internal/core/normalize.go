package core

// normalize.go turns raw rows into canonical records.
//
// Cells from inventory exports carry the usual spreadsheet artifacts:
//   - Excel formula wrappers that force text (="012345678905")
//   - Stray surrounding quotes and whitespace
//   - Barcodes printed with spaces or dashes (0 12345 67890 5)
//   - Numbers already mangled into scientific notation (1.23457E+11)
//
// Normalization is a pure function of the row and the mapping, so re-running
// it with a corrected mapping always gives the same answer.

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/upcguard/internal/ingest"
	"github.com/JonMunkholm/upcguard/internal/schema"
)

// UPC length bounds after cleaning.
const (
	MinUPCDigits = 8
	MaxUPCDigits = 14
)

// UnknownBucket replaces a blank warehouse or location.
const UnknownBucket = "UNKNOWN"

// scientificRegex matches numbers in exponent form. A UPC in this form has
// already lost digits and cannot be recovered.
var scientificRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)[eE][+-]?\d+$`)

// Rejection is the reason a row was dropped; the zero value means accepted.
type Rejection string

const (
	Accepted            Rejection = ""
	RejectMissingUPC    Rejection = "missing_upc"
	RejectScientificUPC Rejection = "scientific_upc"
	RejectUPCLength     Rejection = "upc_length"
	RejectMissingSKU    Rejection = "missing_sku"
)

// NormalizedRecord is one accepted inventory row.
type NormalizedRecord struct {
	ProductID   string   `json:"productId"`
	UPC         string   `json:"upc"`
	WarehouseID string   `json:"warehouseId,omitempty"`
	Location    string   `json:"location,omitempty"`
	Line        int      `json:"line"`
	Raw         []string `json:"raw"`
}

// CleanCell removes common export artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// NormalizeUPC cleans v and strips every non-digit. An 11-digit result is
// zero-padded to 12 (a UPC-A whose leading zero was dropped). Results
// outside [MinUPCDigits, MaxUPCDigits] are rejected.
func NormalizeUPC(v string) (string, Rejection) {
	v = CleanCell(v)
	if v == "" {
		return "", RejectMissingUPC
	}
	if scientificRegex.MatchString(v) {
		return "", RejectScientificUPC
	}

	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return "", RejectMissingUPC
	case len(digits) == 11:
		digits = "0" + digits
	case len(digits) < MinUPCDigits || len(digits) > MaxUPCDigits:
		return "", RejectUPCLength
	}
	return digits, Accepted
}

// Normalizer applies a column mapping to rows of one header.
type Normalizer struct {
	upc, sku            int
	warehouse, location int // -1 when unmapped
}

// NewNormalizer validates m against header and resolves column positions.
func NewNormalizer(header []string, m schema.Mapping) (*Normalizer, error) {
	if err := m.Validate(header); err != nil {
		return nil, err
	}
	idx := m.Indexes(header)
	n := &Normalizer{
		upc:       idx[schema.FieldUPC],
		sku:       idx[schema.FieldSKU],
		warehouse: -1,
		location:  -1,
	}
	if i, ok := idx[schema.FieldWarehouse]; ok {
		n.warehouse = i
	}
	if i, ok := idx[schema.FieldLocation]; ok {
		n.location = i
	}
	return n, nil
}

// Normalize converts row into a record, or reports why it was rejected.
func (n *Normalizer) Normalize(row ingest.RawRow) (NormalizedRecord, Rejection) {
	upc, rej := NormalizeUPC(cell(row.Cells, n.upc))
	if rej != Accepted {
		return NormalizedRecord{}, rej
	}
	sku := CleanCell(cell(row.Cells, n.sku))
	if sku == "" {
		return NormalizedRecord{}, RejectMissingSKU
	}
	return NormalizedRecord{
		ProductID:   sku,
		UPC:         upc,
		WarehouseID: CleanCell(cell(row.Cells, n.warehouse)),
		Location:    CleanCell(cell(row.Cells, n.location)),
		Line:        row.Line,
		Raw:         row.Cells,
	}, Accepted
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// bucket maps a blank value to UnknownBucket.
func bucket(v string) string {
	if v == "" {
		return UnknownBucket
	}
	return v
}

func (r Rejection) String() string {
	if r == Accepted {
		return "accepted"
	}
	return string(r)
}

// Describe returns a short human-readable reason.
func (r Rejection) Describe() string {
	switch r {
	case RejectMissingUPC:
		return "UPC is empty"
	case RejectScientificUPC:
		return "UPC is in scientific notation and has lost digits"
	case RejectUPCLength:
		return fmt.Sprintf("UPC is not %d-%d digits", MinUPCDigits, MaxUPCDigits)
	case RejectMissingSKU:
		return "SKU is empty"
	default:
		return "accepted"
	}
}
