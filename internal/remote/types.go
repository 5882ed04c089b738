package remote

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// JobStatus is the normalized status of a batch job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// ParseJobStatus normalizes the service's status vocabulary. The service
// reports upper-case values and uses PENDING for queued jobs.
func ParseJobStatus(s string) (JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending":
		return StatusQueued, nil
	case "processing", "running":
		return StatusProcessing, nil
	case "completed", "complete", "success":
		return StatusCompleted, nil
	case "failed", "error":
		return StatusFailed, nil
	}
	return "", fmt.Errorf("remote: unknown job status %q", s)
}

// Terminal reports whether no further transition can follow s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobHandle is the acknowledgment of a batch upload.
type JobHandle struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"-"`
	RawStatus    string    `json:"status"`
	TotalVendors int       `json:"total_vendors"`
	Message      string    `json:"message,omitempty"`
	ParseErrors  []string  `json:"parse_errors,omitempty"`
}

// JobReport is one status reading of a batch job.
type JobReport struct {
	JobID           string         `json:"job_id"`
	Status          JobStatus      `json:"-"`
	RawStatus       string         `json:"status"`
	Total           int            `json:"total"`
	Processed       int            `json:"processed"`
	Success         int            `json:"success"`
	Failed          int            `json:"failed"`
	ProgressPercent float64        `json:"progress_percent"`
	OutputFile      string         `json:"output_file,omitempty"`
	Error           string         `json:"error,omitempty"`
	RiskSummary     map[string]int `json:"risk_summary,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
	CompletedAt     string         `json:"completed_at,omitempty"`
}

// FailureMessage returns the service's reason for a failed job.
func (r *JobReport) FailureMessage() string {
	if r.Error != "" {
		return r.Error
	}
	return "job failed without a reason"
}

// CheckRequest is the body of a single vendor compliance check.
type CheckRequest struct {
	GSTIN     string          `json:"gstin"`
	Amount    decimal.Decimal `json:"amount"`
	PartyName string          `json:"party_name,omitempty"`
}

// Decision is the STOP/HOLD/RELEASE verdict for a vendor.
type Decision struct {
	Decision       string          `json:"decision"`
	Action         string          `json:"action"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	RuleID         string          `json:"rule_id"`
	RiskLevel      string          `json:"risk_level"`
	GSTIN          string          `json:"gstin"`
	VendorName     string          `json:"vendor_name"`
	CheckID        json.RawMessage `json:"check_id,omitempty"`
	CertificateURL string          `json:"certificate_url,omitempty"`
	DataSource     string          `json:"data_source,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
}

// CheckRef renders the check identifier whether the service sent it as a
// number or a string.
func (d *Decision) CheckRef() string {
	var s string
	if err := json.Unmarshal(d.CheckID, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(d.CheckID))
}
