package schema

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	skuPattern       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-_./#]{0,39}$`)
	warehousePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,6}([-_ ][A-Za-z0-9]{1,6})?$`)
	locationPattern  = regexp.MustCompile(`^[A-Za-z0-9]{1,4}([-./ ][A-Za-z0-9]{1,4}){1,5}$`)
	scientificText   = regexp.MustCompile(`^[+-]?\d+(\.\d+)?[eE][+-]?\d+$`)
	dateText         = regexp.MustCompile(`^(\d{4}[-./]\d{1,2}[-./]\d{1,2}|\d{1,2}[-./]\d{1,2}[-./]\d{2,4})$`)
)

// IsUPCLike reports whether v is 8 to 14 digits once spaces and dashes are
// removed. Scientific notation never qualifies.
func IsUPCLike(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || scientificText.MatchString(v) {
		return false
	}
	digits := 0
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return digits >= 8 && digits <= 14
}

// IsSKULike reports whether v looks like an internal product code: a short
// token of letters, digits and common separators.
func IsSKULike(v string) bool {
	v = strings.TrimSpace(v)
	return skuPattern.MatchString(v)
}

// IsWarehouseCode matches short site codes such as "DC1", "WH-02" or "EAST".
// A code needs at least one letter; bare numbers are quantities more often
// than sites.
func IsWarehouseCode(v string) bool {
	v = strings.TrimSpace(v)
	return warehousePattern.MatchString(v) && IsText(v)
}

// IsLocationCode matches segmented bin codes such as "A-01-03" or "12.4.B".
// All-digit values need three segments and must not read as a date, so
// prices ("12.99") and count dates ("2024-01-15") are rejected.
func IsLocationCode(v string) bool {
	v = strings.TrimSpace(v)
	if !locationPattern.MatchString(v) {
		return false
	}
	if IsText(v) {
		return true
	}
	segments := strings.FieldsFunc(v, func(r rune) bool {
		return r == '-' || r == '.' || r == '/' || r == ' '
	})
	return len(segments) >= 3 && !dateText.MatchString(v)
}

// IsText reports whether v contains at least one letter.
func IsText(v string) bool {
	for _, r := range v {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
