package recon

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Record is one reconciled invoice as reported by the service. Category
// and Difference are authoritative and never recomputed locally.
type Record struct {
	GSTIN         string          `json:"gstin"`
	VendorName    string          `json:"vendor_name"`
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   string          `json:"invoice_date"`
	PRAmount      decimal.Decimal `json:"pr_amount"`
	GSTR2BAmount  decimal.Decimal `json:"gstr2b_amount"`
	Difference    decimal.Decimal `json:"difference"`
	Status        string          `json:"status"`
	Message       string          `json:"message"`
}

// Summary holds the service-declared counts for a reconciliation run.
type Summary struct {
	TotalPR     int `json:"total_pr"`
	Total2B     int `json:"total_2b"`
	Matched     int `json:"matched"`
	Mismatch    int `json:"mismatch"`
	MissingIn2B int `json:"missing_in_2b"`
	MissingInPR int `json:"missing_in_pr"`

	// ParseErrors lists the first rows the service could not read.
	ParseErrors []string `json:"parse_errors,omitempty"`
}

// Count returns the declared count for a category.
func (s Summary) Count(c Category) int {
	switch c {
	case Matched:
		return s.Matched
	case Mismatch:
		return s.Mismatch
	case MissingIn2B:
		return s.MissingIn2B
	case MissingInPR:
		return s.MissingInPR
	}
	return 0
}

// Results holds the four record sequences in the order the service sent them.
type Results struct {
	Matched     []Record `json:"matched"`
	Mismatch    []Record `json:"mismatch"`
	MissingIn2B []Record `json:"missing_in_2b"`
	MissingInPR []Record `json:"missing_in_pr"`
}

// Records returns the sequence stored for a category.
func (r Results) Records(c Category) []Record {
	switch c {
	case Matched:
		return r.Matched
	case Mismatch:
		return r.Mismatch
	case MissingIn2B:
		return r.MissingIn2B
	case MissingInPR:
		return r.MissingInPR
	}
	return nil
}

// Payload is the body returned by POST /reconcile/run.
type Payload struct {
	Summary Summary `json:"summary"`
	Results Results `json:"results"`
	Period  string  `json:"period,omitempty"`
}

// Decode parses a reconciliation payload from JSON.
func Decode(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("recon: decode payload: %w", err)
	}
	return &p, nil
}
