package schema

import "regexp"

// Rule describes how to recognise one canonical field.
//
// Exact and Contains entries are compared against the folded header (see
// foldHeader), so they are written lower-case with single spaces.
type Rule struct {
	Field    Field
	Exact    []string
	Contains []string
	Patterns []*regexp.Regexp
	Validate func(value string) bool
}

// DefaultRules is the built-in synonym table.
var DefaultRules = []Rule{
	{
		Field: FieldUPC,
		Exact: []string{
			"upc", "upc code", "upc a", "barcode", "bar code", "gtin", "ean",
			"ean13", "ean 13", "gtin 14", "product barcode", "item barcode", "scan code",
		},
		Contains: []string{"upc", "barcode", "gtin", "ean"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(upc|gtin|ean)\s*-?\s*(a|e|8|12|13|14)?\b`),
			regexp.MustCompile(`\bbar\s*code\b`),
		},
		Validate: IsUPCLike,
	},
	{
		Field: FieldSKU,
		Exact: []string{
			"sku", "sku id", "sku number", "item", "item number", "item no", "item id",
			"item code", "product id", "product code", "product number", "part number",
			"part no", "article", "article number", "material", "style",
		},
		Contains: []string{"sku", "item", "product id", "part"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(sku|item|product|part|article)\s*(#|no|num|number|id|code)\b`),
			regexp.MustCompile(`^sku\b`),
		},
		Validate: IsSKULike,
	},
	{
		Field: FieldWarehouse,
		Exact: []string{
			"warehouse", "warehouse id", "warehouse code", "whse", "wh", "dc",
			"distribution center", "site", "facility", "store", "branch",
		},
		Contains: []string{"warehouse", "whse", "facility"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(wh|whse|dc)\s*(id|code|no)?\b`),
		},
		Validate: IsWarehouseCode,
	},
	{
		Field: FieldLocation,
		Exact: []string{
			"location", "location code", "loc", "bin", "bin location", "slot",
			"shelf", "aisle", "pick location", "storage location",
		},
		Contains: []string{"location", "bin", "slot", "shelf"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(loc|bin|slot)\s*(id|code|no)?\b`),
		},
		Validate: IsLocationCode,
	},
	{
		Field: FieldDescription,
		Exact: []string{
			"description", "desc", "item description", "product description",
			"product name", "item name", "name", "title",
		},
		Contains: []string{"description", "name"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bdesc(ription)?\b`),
		},
		Validate: IsText,
	},
	{
		Field:    FieldBrand,
		Exact:    []string{"brand", "brand name", "manufacturer", "mfr", "vendor", "supplier"},
		Contains: []string{"brand", "manufacturer", "vendor"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\bmfr\b`),
		},
		Validate: IsText,
	},
	{
		Field:    FieldCategory,
		Exact:    []string{"category", "product category", "department", "dept", "class", "product type"},
		Contains: []string{"category", "department"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(cat|dept)\b`),
		},
		Validate: IsText,
	},
}

// RuleFor returns the rule for f from rules.
func RuleFor(rules []Rule, f Field) (Rule, bool) {
	for _, r := range rules {
		if r.Field == f {
			return r, true
		}
	}
	return Rule{}, false
}
