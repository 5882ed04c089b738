package recon

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Result is a classified reconciliation payload. It is immutable once built;
// every accessor returns data that the caller may modify freely.
type Result struct {
	summary  Summary
	period   string
	records  map[Category][]Record
	matched  decimal.Decimal
	disputed decimal.Decimal
}

// Classify projects a payload into its four categories and computes the
// aggregate sums. Categories and differences are taken from the payload as
// is. A nil payload yields an empty Result.
func Classify(p *Payload) *Result {
	r := &Result{
		records:  make(map[Category][]Record, len(AllCategories)),
		matched:  decimal.Zero,
		disputed: decimal.Zero,
	}
	if p == nil {
		return r
	}
	r.summary = p.Summary
	r.summary.ParseErrors = append([]string(nil), p.Summary.ParseErrors...)
	r.period = p.Period

	for _, c := range AllCategories {
		src := p.Results.Records(c)
		r.records[c] = append(make([]Record, 0, len(src)), src...)
	}

	for _, rec := range r.records[Matched] {
		r.matched = r.matched.Add(rec.PRAmount)
	}
	for _, rec := range r.records[MissingIn2B] {
		r.disputed = r.disputed.Add(rec.PRAmount)
	}
	for _, rec := range r.records[Mismatch] {
		r.disputed = r.disputed.Add(rec.Difference.Abs())
	}
	return r
}

// Period returns the return period the service reconciled against.
func (r *Result) Period() string { return r.period }

// Summary returns the counts the service declared.
func (r *Result) Summary() Summary {
	s := r.summary
	s.ParseErrors = append([]string(nil), r.summary.ParseErrors...)
	return s
}

// TotalPR is the number of purchase-register rows the service read.
func (r *Result) TotalPR() int { return r.summary.TotalPR }

// Total2B is the number of GSTR-2B rows the service compared against.
func (r *Result) Total2B() int { return r.summary.Total2B }

// MatchedAmountSum is the sum of PR amounts over matched records.
func (r *Result) MatchedAmountSum() decimal.Decimal { return r.matched }

// DisputedAmountSum is the PR amount of every record missing in GSTR-2B plus
// the absolute difference of every mismatch. Records missing in the purchase
// register are unclaimed credit and do not count.
func (r *Result) DisputedAmountSum() decimal.Decimal { return r.disputed }

// Select returns the records of one category in the order received.
func (r *Result) Select(c Category) []Record {
	src := r.records[c]
	return append(make([]Record, 0, len(src)), src...)
}

// Count returns the number of records received for a category.
func (r *Result) Count(c Category) int { return len(r.records[c]) }

// IssueKind names a class of integrity problem found by Verify.
type IssueKind string

const (
	// IssueCount means a summary count disagrees with the record list.
	IssueCount IssueKind = "count_mismatch"
	// IssueDifference means |pr - 2b| disagrees with the reported difference.
	IssueDifference IssueKind = "difference_mismatch"
	// IssueStatus means a record's status tag names another category.
	IssueStatus IssueKind = "category_status"
)

// Issue is a data-integrity problem in a payload. Issues are surfaced to the
// user; the payload itself is never corrected.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Category Category  `json:"category"`
	Index    int       `json:"index"` // record index within the category, -1 for summary issues
	Message  string    `json:"message"`
}

func (i Issue) String() string {
	if i.Index < 0 {
		return fmt.Sprintf("%s [%s]: %s", i.Kind, i.Category, i.Message)
	}
	return fmt.Sprintf("%s [%s #%d]: %s", i.Kind, i.Category, i.Index, i.Message)
}

// Verify checks the payload against itself: declared counts against list
// lengths, reported differences against the two amounts (to the paisa), and
// per-record status tags against the list they arrived in.
func (r *Result) Verify() []Issue {
	var issues []Issue
	for _, c := range AllCategories {
		recs := r.records[c]
		if declared := r.summary.Count(c); declared != len(recs) {
			issues = append(issues, Issue{
				Kind:     IssueCount,
				Category: c,
				Index:    -1,
				Message:  fmt.Sprintf("summary declares %d records, received %d", declared, len(recs)),
			})
		}
		for i, rec := range recs {
			local := rec.PRAmount.Sub(rec.GSTR2BAmount).Abs().Round(2)
			reported := rec.Difference.Abs().Round(2)
			if !local.Equal(reported) {
				issues = append(issues, Issue{
					Kind:     IssueDifference,
					Category: c,
					Index:    i,
					Message: fmt.Sprintf("invoice %s: reported difference %s, amounts differ by %s",
						rec.InvoiceNumber, rec.Difference.StringFixed(2), local.StringFixed(2)),
				})
			}
			if rec.Status == "" {
				continue
			}
			if tagged, err := ParseCategory(rec.Status); err != nil || tagged != c {
				issues = append(issues, Issue{
					Kind:     IssueStatus,
					Category: c,
					Index:    i,
					Message:  fmt.Sprintf("invoice %s: status %q in %s list", rec.InvoiceNumber, rec.Status, c),
				})
			}
		}
	}
	return issues
}
