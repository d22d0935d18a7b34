package core

import (
	"fmt"
	"strings"
)

// SuggestionSet is the remediation advice for one conflict.
type SuggestionSet struct {
	Suggestions []string `json:"suggestions"`
	// Automatable is true only when exactly two counterparts are involved,
	// where keeping the first and merging the second is a safe default.
	Automatable bool     `json:"automatable"`
	Priority    Priority `json:"priority"`
}

// Suggest derives remediation steps from c alone. It performs no I/O, so it
// can be called whenever a conflict is read.
func Suggest(c Conflict) SuggestionSet {
	b := c.Base()
	set := SuggestionSet{
		Automatable: c.Cardinality() == 2,
		Priority:    b.Priority,
	}
	if b.Severity == SeverityCritical {
		set.Suggestions = append(set.Suggestions,
			fmt.Sprintf("Escalate: %d identifiers are entangled, review before the next receiving cycle", c.Cardinality()))
	}

	switch c := c.(type) {
	case *DuplicateUPC:
		set.Suggestions = append(set.Suggestions, duplicateUPCSuggestions(c)...)
	case *MultiUPCProduct:
		set.Suggestions = append(set.Suggestions, multiUPCSuggestions(c)...)
	}

	if len(b.Warehouses) > 1 {
		set.Suggestions = append(set.Suggestions,
			fmt.Sprintf("Coordinate the fix across warehouses %s", strings.Join(b.Warehouses, ", ")))
	}
	if locs := knownOnly(b.Locations); len(locs) > 0 {
		set.Suggestions = append(set.Suggestions,
			fmt.Sprintf("Check physical labels at %s", listed(locs)))
	}
	return set
}

func duplicateUPCSuggestions(c *DuplicateUPC) []string {
	if len(c.Products) == 2 {
		keep, merge := c.Products[0], c.Products[1]
		return []string{
			fmt.Sprintf("Keep UPC %s on product %s and merge product %s into it, or assign %s its own UPC", c.UPC, keep, merge, merge),
			fmt.Sprintf("Confirm with the supplier which of %s and %s the barcode belongs to", keep, merge),
		}
	}
	return []string{
		fmt.Sprintf("Audit the %d products sharing UPC %s: %s", len(c.Products), c.UPC, listed(c.Products)),
		fmt.Sprintf("Verify the registered owner of UPC %s against the GS1 record", c.UPC),
		"Re-barcode every product that does not own the UPC",
	}
}

func multiUPCSuggestions(c *MultiUPCProduct) []string {
	if len(c.UPCs) == 2 {
		keep, retire := c.UPCs[0], c.UPCs[1]
		return []string{
			fmt.Sprintf("Keep UPC %s as primary for product %s and record %s as an alternate or retire it", keep, c.ProductID, retire),
		}
	}
	return []string{
		fmt.Sprintf("Review the %d UPCs recorded for product %s: %s", len(c.UPCs), c.ProductID, listed(c.UPCs)),
		"Choose one primary UPC and register the rest as case or pack-level alternates",
		fmt.Sprintf("Check whether product %s is really several variants that need separate SKUs", c.ProductID),
	}
}

func knownOnly(vals []string) []string {
	var out []string
	for _, v := range vals {
		if v != UnknownBucket {
			out = append(out, v)
		}
	}
	return out
}
