// Package recon classifies reconciliation payloads returned by the remote
// service into the four record categories and computes display aggregates.
package recon

import (
	"fmt"
	"strings"
)

// Category is the reconciliation bucket a record belongs to.
type Category string

const (
	Matched     Category = "matched"
	Mismatch    Category = "mismatch"
	MissingIn2B Category = "missing_in_2b"
	MissingInPR Category = "missing_in_pr"
)

// AllCategories lists every category in display order.
var AllCategories = []Category{Matched, Mismatch, MissingIn2B, MissingInPR}

// ParseCategory maps a service or user supplied name onto a Category.
// Matching is case-insensitive and accepts hyphens in place of underscores.
func ParseCategory(s string) (Category, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch Category(norm) {
	case Matched, Mismatch, MissingIn2B, MissingInPR:
		return Category(norm), nil
	}
	return "", fmt.Errorf("recon: unknown category %q", s)
}

// Label returns the human-readable heading for the category.
func (c Category) Label() string {
	switch c {
	case Matched:
		return "Matched"
	case Mismatch:
		return "Amount Mismatch"
	case MissingIn2B:
		return "Missing in GSTR-2B"
	case MissingInPR:
		return "Missing in Purchase Register"
	}
	return string(c)
}

// Disputed reports whether records in the category count toward the
// disputed amount.
func (c Category) Disputed() bool {
	switch c {
	case Mismatch, MissingIn2B:
		return true
	case Matched, MissingInPR:
		return false
	}
	return false
}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	switch c {
	case Matched, Mismatch, MissingIn2B, MissingInPR:
		return true
	}
	return false
}
