package notify

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/itcshield/itc/internal/poller"
	"github.com/itcshield/itc/internal/recon"
)

// Sidebar colors by severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

func newEvent(title, body, severity string, fields ...Field) Event {
	return Event{
		Title:    title,
		Body:     body,
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}
}

// JobCompleted formats a batch job that finished.
func JobCompleted(job poller.Job, fileName string) Message {
	var fields []Field
	if fileName != "" {
		fields = append(fields, Field{Name: "File", Value: fileName, Short: true})
	}
	severity := "success"
	if r := job.Result; r != nil {
		fields = append(fields,
			Field{Name: "Vendors", Value: strconv.Itoa(r.Total), Short: true},
			Field{Name: "Passed", Value: strconv.Itoa(r.Success), Short: true},
			Field{Name: "Failed", Value: strconv.Itoa(r.Failed), Short: true},
		)
		if r.Failed > 0 {
			severity = "warning"
		}
		for level, n := range sortedRisk(r.RiskSummary) {
			fields = append(fields, Field{Name: "Risk " + level, Value: strconv.Itoa(n), Short: true})
		}
	}
	title := fmt.Sprintf("Batch %s completed", job.ID)
	return Message{Text: title, Events: []Event{newEvent(title, "Certificates are ready to download.", severity, fields...)}}
}

// JobFailed formats a batch job the service failed.
func JobFailed(job poller.Job, fileName string) Message {
	var fields []Field
	if fileName != "" {
		fields = append(fields, Field{Name: "File", Value: fileName, Short: true})
	}
	title := fmt.Sprintf("Batch %s failed", job.ID)
	return Message{Text: title, Events: []Event{newEvent(title, job.Error, "error", fields...)}}
}

// ReconciliationDone formats a classified reconciliation run.
func ReconciliationDone(runID string, res *recon.Result, issues int) Message {
	severity := "success"
	if res.Count(recon.Mismatch)+res.Count(recon.MissingIn2B) > 0 {
		severity = "warning"
	}
	if issues > 0 {
		severity = "error"
	}
	fields := []Field{
		{Name: "Period", Value: res.Period(), Short: true},
		{Name: "Run", Value: runID, Short: true},
	}
	for _, c := range recon.AllCategories {
		fields = append(fields, Field{Name: c.Label(), Value: strconv.Itoa(res.Count(c)), Short: true})
	}
	fields = append(fields,
		Field{Name: "Matched amount", Value: "₹" + res.MatchedAmountSum().StringFixed(2), Short: true},
		Field{Name: "Disputed amount", Value: "₹" + res.DisputedAmountSum().StringFixed(2), Short: true},
	)

	body := fmt.Sprintf("%d purchase-register rows against %d GSTR-2B rows.", res.TotalPR(), res.Total2B())
	if issues > 0 {
		body += fmt.Sprintf(" %d consistency issue(s) in the response.", issues)
	}
	title := fmt.Sprintf("Reconciliation for %s", res.Period())
	return Message{Text: title, Events: []Event{newEvent(title, body, severity, fields...)}}
}

// sortedRisk yields risk levels in a fixed order, then any others.
func sortedRisk(m map[string]int) func(func(string, int) bool) {
	order := []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}
	return func(yield func(string, int) bool) {
		seen := make(map[string]bool, len(order))
		for _, k := range order {
			seen[k] = true
			if n, ok := m[k]; ok {
				if !yield(k, n) {
					return
				}
			}
		}
		var rest []string
		for k := range m {
			if !seen[k] {
				rest = append(rest, k)
			}
		}
		slices.Sort(rest)
		for _, k := range rest {
			if !yield(k, m[k]) {
				return
			}
		}
	}
}
