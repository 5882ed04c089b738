package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/itcshield/itc/internal/history"
	"github.com/itcshield/itc/internal/models"
	"github.com/itcshield/itc/internal/recon"
	"gorm.io/gorm"
)

// JobRow is a batch job as shown in the job list.
type JobRow struct {
	JobID           string     `json:"job_id"`
	FileName        string     `json:"file_name"`
	State           string     `json:"state"`
	Status          string     `json:"status"`
	TotalVendors    int        `json:"total_vendors"`
	Processed       int        `json:"processed"`
	Success         int        `json:"success"`
	Failed          int        `json:"failed"`
	ProgressPercent float64    `json:"progress_percent"`
	Error           string     `json:"error,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func jobRow(j models.BatchJob) JobRow {
	return JobRow{
		JobID:           j.JobID,
		FileName:        j.FileName,
		State:           j.State,
		Status:          j.Status,
		TotalVendors:    j.TotalVendors,
		Processed:       j.Processed,
		Success:         j.Success,
		Failed:          j.Failed,
		ProgressPercent: j.ProgressPercent,
		Error:           j.ErrorMessage,
		SubmittedAt:     j.SubmittedAt,
		CompletedAt:     j.CompletedAt,
	}
}

// JobDetail is one job with its state history.
type JobDetail struct {
	JobRow
	ParseErrors []string   `json:"parse_errors,omitempty"`
	Events      []EventRow `json:"events"`
}

// EventRow is one recorded state change.
type EventRow struct {
	ID              uint      `json:"id"`
	JobID           string    `json:"job_id"`
	State           string    `json:"state"`
	Status          string    `json:"status"`
	ProgressPercent float64   `json:"progress_percent"`
	Message         string    `json:"message"`
	At              time.Time `json:"at"`
}

func eventRow(e models.JobEvent) EventRow {
	return EventRow{
		ID:              e.ID,
		JobID:           e.JobID,
		State:           e.State,
		Status:          e.Status,
		ProgressPercent: e.ProgressPercent,
		Message:         e.Message,
		At:              e.CreatedAt,
	}
}

// JobList returns recent jobs, newest first.
func JobList(db *gorm.DB, limit int) ([]JobRow, error) {
	jobs, err := history.ListJobs(db, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]JobRow, len(jobs))
	for i, j := range jobs {
		rows[i] = jobRow(j)
	}
	return rows, nil
}

// JobDetailByID returns a job and its events.
func JobDetailByID(db *gorm.DB, jobID string) (*JobDetail, error) {
	job, err := history.GetJob(db, jobID)
	if err != nil {
		return nil, err
	}
	evs, err := history.JobEvents(db, jobID)
	if err != nil {
		return nil, err
	}
	d := &JobDetail{JobRow: jobRow(*job), Events: make([]EventRow, len(evs))}
	for i, e := range evs {
		d.Events[i] = eventRow(e)
	}
	if len(job.ParseErrors) > 0 {
		if err := json.Unmarshal(job.ParseErrors, &d.ParseErrors); err != nil {
			log.Printf("dashboard: job %s: parse errors: %v", jobID, err)
		}
	}
	return d, nil
}

// RunRow is a reconciliation run as shown in the run list.
type RunRow struct {
	ID             string    `json:"id"`
	Period         string    `json:"period"`
	FileName       string    `json:"file_name"`
	Source         string    `json:"source"`
	Matched        int       `json:"matched"`
	Mismatch       int       `json:"mismatch"`
	MissingIn2B    int       `json:"missing_in_2b"`
	MissingInPR    int       `json:"missing_in_pr"`
	MatchedAmount  string    `json:"matched_amount"`
	DisputedAmount string    `json:"disputed_amount"`
	IssueCount     int       `json:"issue_count"`
	ArchiveURI     string    `json:"archive_uri,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func runRow(r models.ReconciliationRun) RunRow {
	return RunRow{
		ID:             r.ID,
		Period:         r.Period,
		FileName:       r.FileName,
		Source:         r.Source,
		Matched:        r.Matched,
		Mismatch:       r.Mismatch,
		MissingIn2B:    r.MissingIn2B,
		MissingInPR:    r.MissingInPR,
		MatchedAmount:  r.MatchedAmount,
		DisputedAmount: r.DisputedAmount,
		IssueCount:     r.IssueCount,
		ArchiveURI:     r.ArchiveURI,
		CreatedAt:      r.CreatedAt,
	}
}

// CategoryView is one category tab of a run.
type CategoryView struct {
	Category recon.Category `json:"category"`
	Label    string         `json:"label"`
	Disputed bool           `json:"disputed"`
	Count    int            `json:"count"`
	Records  []recon.Record `json:"records,omitempty"`
}

// RunDetail is a run with its category tables.
type RunDetail struct {
	RunRow
	TotalPR     int            `json:"total_pr"`
	Total2B     int            `json:"total_2b"`
	ParseErrors []string       `json:"parse_errors,omitempty"`
	Issues      []recon.Issue  `json:"issues,omitempty"`
	Categories  []CategoryView `json:"categories"`
}

// RunList returns recent runs, optionally for one period.
func RunList(db *gorm.DB, period string, limit int) ([]RunRow, error) {
	runs, err := history.ListRuns(db, period, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]RunRow, len(runs))
	for i, r := range runs {
		rows[i] = runRow(r)
	}
	return rows, nil
}

// RunDetailByID reclassifies a stored run. When only is non-empty, records
// are included for that category alone; counts are always present.
func RunDetailByID(db *gorm.DB, id string, only recon.Category) (*RunDetail, error) {
	run, res, err := history.GetRun(db, id)
	if err != nil {
		return nil, err
	}
	sum := res.Summary()
	d := &RunDetail{
		RunRow:      runRow(*run),
		TotalPR:     res.TotalPR(),
		Total2B:     res.Total2B(),
		ParseErrors: sum.ParseErrors,
		Issues:      res.Verify(),
	}
	for _, c := range recon.AllCategories {
		v := CategoryView{Category: c, Label: c.Label(), Disputed: c.Disputed(), Count: res.Count(c)}
		if only == "" || only == c {
			v.Records = res.Select(c)
		}
		d.Categories = append(d.Categories, v)
	}
	return d, nil
}
