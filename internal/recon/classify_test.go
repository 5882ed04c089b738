package recon

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const samplePayload = `{
  "summary": {"total_pr": 4, "total_2b": 4, "matched": 1, "mismatch": 1,
              "missing_in_2b": 2, "missing_in_pr": 1, "parse_errors": ["Row 7: Invalid GSTIN format 'X'"]},
  "results": {
    "matched": [
      {"gstin": "29AABCU9603R1ZX", "vendor_name": "Acme", "invoice_number": "INV-1",
       "invoice_date": "2025-10-02", "pr_amount": 1180.0, "gstr2b_amount": 1179.5,
       "difference": 0.5, "status": "MATCHED", "message": "Fully Reconciled"}
    ],
    "mismatch": [
      {"gstin": "33AAJCG9959L1ZT", "vendor_name": "Globex", "invoice_number": "INV-2",
       "invoice_date": "2025-10-05", "pr_amount": 1000, "gstr2b_amount": 800,
       "difference": 200, "status": "MISMATCH", "message": "Amount Mismatch"}
    ],
    "missing_in_2b": [
      {"gstin": "01AABCU9603R1ZX", "invoice_number": "INV-3", "pr_amount": 500,
       "gstr2b_amount": 0, "difference": 500, "status": "MISSING_IN_2B"},
      {"gstin": "01AABCU9603R1ZX", "invoice_number": "INV-4", "pr_amount": "250.25",
       "gstr2b_amount": 0, "difference": "250.25", "status": "MISSING_IN_2B"}
    ],
    "missing_in_pr": [
      {"gstin": "27AAACR5055K1Z7", "invoice_number": "INV-9", "pr_amount": 0,
       "gstr2b_amount": 900, "difference": -900, "status": "MISSING_IN_PR"}
    ]
  },
  "period": "102025"
}`

func decodeSample(t *testing.T) *Payload {
	t.Helper()
	p, err := Decode([]byte(samplePayload))
	require.NoError(t, err)
	return p
}

// --- Category tests ---

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"matched", Matched},
		{"MISMATCH", Mismatch},
		{"Missing_In_2B", MissingIn2B},
		{"missing-in-pr", MissingInPR},
		{" matched ", Matched},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseCategory("unclaimed")
	assert.Error(t, err)
}

func TestCategory_Disputed(t *testing.T) {
	assert.False(t, Matched.Disputed())
	assert.True(t, Mismatch.Disputed())
	assert.True(t, MissingIn2B.Disputed())
	assert.False(t, MissingInPR.Disputed())
}

func TestCategory_LabelsDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range AllCategories {
		assert.True(t, c.Valid())
		assert.False(t, seen[c.Label()], "duplicate label %q", c.Label())
		seen[c.Label()] = true
	}
	assert.False(t, Category("other").Valid())
}

// --- Classify tests ---

func TestClassify_DisputedSumsMismatchAndMissing(t *testing.T) {
	p := &Payload{
		Summary: Summary{TotalPR: 2, Mismatch: 1, MissingIn2B: 1},
		Results: Results{
			Mismatch: []Record{{
				InvoiceNumber: "A",
				PRAmount:      d("1000"),
				GSTR2BAmount:  d("800"),
				Difference:    d("200"),
			}},
			MissingIn2B: []Record{{
				InvoiceNumber: "B",
				PRAmount:      d("500"),
				Difference:    d("500"),
			}},
		},
	}

	r := Classify(p)
	assert.True(t, r.DisputedAmountSum().Equal(d("700")), "disputed = %s", r.DisputedAmountSum())
	assert.True(t, r.MatchedAmountSum().IsZero())
	assert.Empty(t, r.Verify())
}

func TestClassify_Aggregates(t *testing.T) {
	r := Classify(decodeSample(t))

	assert.Equal(t, 4, r.TotalPR())
	assert.Equal(t, 4, r.Total2B())
	assert.Equal(t, "102025", r.Period())
	assert.Equal(t, "1180", r.MatchedAmountSum().String())
	// 200 (mismatch) + 500 + 250.25 (missing in 2B); missing in PR excluded.
	assert.Equal(t, "950.25", r.DisputedAmountSum().String())
	assert.Equal(t, []string{"Row 7: Invalid GSTIN format 'X'"}, r.Summary().ParseErrors)
}

func TestClassify_NegativeMismatchUsesAbs(t *testing.T) {
	p := &Payload{
		Summary: Summary{Mismatch: 1},
		Results: Results{Mismatch: []Record{{
			PRAmount:     d("800"),
			GSTR2BAmount: d("1000"),
			Difference:   d("-200"),
		}}},
	}
	assert.Equal(t, "200", Classify(p).DisputedAmountSum().String())
}

func TestClassify_Nil(t *testing.T) {
	r := Classify(nil)
	for _, c := range AllCategories {
		assert.Empty(t, r.Select(c))
		assert.Zero(t, r.Count(c))
	}
	assert.True(t, r.DisputedAmountSum().IsZero())
	assert.Empty(t, r.Verify())
}

func TestClassify_Idempotent(t *testing.T) {
	p := decodeSample(t)
	a := Classify(p)
	b := Classify(p)

	assert.True(t, a.DisputedAmountSum().Equal(b.DisputedAmountSum()))
	assert.Equal(t, a.DisputedAmountSum().String(), b.DisputedAmountSum().String())
	assert.True(t, a.MatchedAmountSum().Equal(b.MatchedAmountSum()))

	for _, c := range AllCategories {
		first, err := json.Marshal(a.Select(c))
		require.NoError(t, err)
		again, err := json.Marshal(a.Select(c))
		require.NoError(t, err)
		other, err := json.Marshal(b.Select(c))
		require.NoError(t, err)
		assert.Equal(t, first, again, "select %s twice", c)
		assert.Equal(t, first, other, "reclassify %s", c)
	}
}

func TestClassify_PreservesOrder(t *testing.T) {
	r := Classify(decodeSample(t))
	got := r.Select(MissingIn2B)
	require.Len(t, got, 2)
	assert.Equal(t, "INV-3", got[0].InvoiceNumber)
	assert.Equal(t, "INV-4", got[1].InvoiceNumber)
}

func TestClassify_SelectReturnsCopy(t *testing.T) {
	p := decodeSample(t)
	r := Classify(p)

	sel := r.Select(Mismatch)
	sel[0].InvoiceNumber = "CHANGED"
	assert.Equal(t, "INV-2", r.Select(Mismatch)[0].InvoiceNumber)

	// Mutating the source payload after classification has no effect.
	p.Results.Mismatch[0].InvoiceNumber = "SOURCE"
	assert.Equal(t, "INV-2", r.Select(Mismatch)[0].InvoiceNumber)
}

func TestClassify_DifferenceNotRecomputed(t *testing.T) {
	p := &Payload{
		Summary: Summary{Mismatch: 1},
		Results: Results{Mismatch: []Record{{
			InvoiceNumber: "X",
			PRAmount:      d("1000"),
			GSTR2BAmount:  d("800"),
			Difference:    d("150"),
		}}},
	}
	r := Classify(p)
	assert.Equal(t, "150", r.Select(Mismatch)[0].Difference.String())
	assert.Equal(t, "150", r.DisputedAmountSum().String())

	issues := r.Verify()
	require.Len(t, issues, 1)
	assert.Equal(t, IssueDifference, issues[0].Kind)
	assert.Equal(t, Mismatch, issues[0].Category)
	assert.Equal(t, 0, issues[0].Index)
}

// --- Verify tests ---

func TestVerify_CleanSample(t *testing.T) {
	assert.Empty(t, Classify(decodeSample(t)).Verify())
}

func TestVerify_CountMismatch(t *testing.T) {
	p := decodeSample(t)
	p.Summary.MissingInPR = 3

	issues := Classify(p).Verify()
	require.Len(t, issues, 1)
	assert.Equal(t, IssueCount, issues[0].Kind)
	assert.Equal(t, MissingInPR, issues[0].Category)
	assert.Equal(t, -1, issues[0].Index)
	assert.Contains(t, issues[0].String(), "declares 3")
}

func TestVerify_StatusInWrongList(t *testing.T) {
	p := decodeSample(t)
	p.Results.Matched[0].Status = "MISMATCH"

	issues := Classify(p).Verify()
	require.Len(t, issues, 1)
	assert.Equal(t, IssueStatus, issues[0].Kind)
	assert.Equal(t, Matched, issues[0].Category)
}

func TestVerify_RoundsToPaisa(t *testing.T) {
	p := &Payload{
		Summary: Summary{Matched: 1},
		Results: Results{Matched: []Record{{
			PRAmount:     d("100.004"),
			GSTR2BAmount: d("100"),
			Difference:   d("0"),
		}}},
	}
	assert.Empty(t, Classify(p).Verify())
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"summary": 5}`))
	assert.Error(t, err)
}
