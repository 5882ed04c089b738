// Package history is the local ledger of batch jobs and reconciliation
// runs. It lets the CLI and dashboard show past work without asking the
// service again.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itcshield/itc/internal/intake"
	"github.com/itcshield/itc/internal/models"
	"github.com/itcshield/itc/internal/poller"
	"github.com/itcshield/itc/internal/remote"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a job or run is not in the ledger.
var ErrNotFound = errors.New("history: not found")

// RecordSubmission stores a newly acknowledged batch upload.
func RecordSubmission(db *gorm.DB, h *remote.JobHandle, f intake.UploadedFile) (*models.BatchJob, error) {
	if h == nil || h.JobID == "" {
		return nil, fmt.Errorf("history: job id is required")
	}
	parseErrs, err := marshalJSON(h.ParseErrors)
	if err != nil {
		return nil, fmt.Errorf("history: marshal parse errors for %s: %w", h.JobID, err)
	}

	now := time.Now()
	job := models.BatchJob{
		JobID:        h.JobID,
		FileName:     f.Name,
		Fingerprint:  f.Fingerprint,
		State:        string(poller.StateSubmitted),
		Status:       string(h.Status),
		TotalVendors: h.TotalVendors,
		ParseErrors:  parseErrs,
		SubmittedAt:  now,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		return tx.Create(&models.JobEvent{
			JobID:     h.JobID,
			State:     job.State,
			Status:    job.Status,
			Message:   fmt.Sprintf("submitted %s (%d vendors)", f.Name, h.TotalVendors),
			CreatedAt: now,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("history: record submission %s: %w", h.JobID, err)
	}
	return &job, nil
}

// RecordSnapshot folds a poller snapshot into the job row and appends an
// event.
func RecordSnapshot(db *gorm.DB, job poller.Job) error {
	if job.ID == "" {
		return fmt.Errorf("history: job id is required")
	}

	updates := map[string]interface{}{
		"state":            string(job.State),
		"status":           string(job.Status),
		"polls":            job.Polls,
		"transient_errors": job.TransientErrors,
	}
	msg := string(job.Status)
	if r := job.Last; r != nil {
		report, err := marshalJSON(r)
		if err != nil {
			return fmt.Errorf("history: marshal report for %s: %w", job.ID, err)
		}
		updates["total"] = r.Total
		updates["processed"] = r.Processed
		updates["success"] = r.Success
		updates["failed"] = r.Failed
		updates["progress_percent"] = r.ProgressPercent
		updates["output_file"] = r.OutputFile
		updates["report"] = report
		msg = fmt.Sprintf("%s: %d/%d processed", job.Status, r.Processed, r.Total)
	}
	if job.State == poller.StateFailed {
		updates["error_message"] = job.Error
		msg = job.Error
	}
	if job.State.Terminal() {
		updates["completed_at"] = job.UpdatedAt
	}

	progress := 0.0
	if job.Last != nil {
		progress = job.Last.ProgressPercent
	}
	return db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BatchJob{}).Where("job_id = ?", job.ID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("history: update job %s: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("history: job %s: %w", job.ID, ErrNotFound)
		}
		ev := models.JobEvent{
			JobID:           job.ID,
			State:           string(job.State),
			Status:          string(job.Status),
			ProgressPercent: progress,
			Message:         msg,
			CreatedAt:       job.UpdatedAt,
		}
		if err := tx.Create(&ev).Error; err != nil {
			return fmt.Errorf("history: append event for %s: %w", job.ID, err)
		}
		return nil
	})
}

// GetJob returns the ledger row for jobID.
func GetJob(db *gorm.DB, jobID string) (*models.BatchJob, error) {
	if jobID == "" {
		return nil, fmt.Errorf("history: job id is required")
	}
	var job models.BatchJob
	err := db.Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("history: job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("history: get job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListJobs returns the most recent jobs first. limit <= 0 means 50.
func ListJobs(db *gorm.DB, limit int) ([]models.BatchJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []models.BatchJob
	if err := db.Order("submitted_at DESC, id DESC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("history: list jobs: %w", err)
	}
	return jobs, nil
}

// JobEvents returns the events of one job in order.
func JobEvents(db *gorm.DB, jobID string) ([]models.JobEvent, error) {
	var evs []models.JobEvent
	if err := db.Where("job_id = ?", jobID).Order("id ASC").Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("history: events for %s: %w", jobID, err)
	}
	return evs, nil
}

// EventsSince returns events with an id greater than afterID, oldest first.
func EventsSince(db *gorm.DB, afterID uint, limit int) ([]models.JobEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var evs []models.JobEvent
	if err := db.Where("id > ?", afterID).Order("id ASC").Limit(limit).Find(&evs).Error; err != nil {
		return nil, fmt.Errorf("history: events since %d: %w", afterID, err)
	}
	return evs, nil
}

// LastEventID returns the highest event id, or 0 for an empty ledger.
func LastEventID(db *gorm.DB) (uint, error) {
	var ev models.JobEvent
	err := db.Order("id DESC").Limit(1).Find(&ev).Error
	if err != nil {
		return 0, fmt.Errorf("history: last event: %w", err)
	}
	return ev.ID, nil
}

// marshalJSON marshals v, returning nil for nil values.
func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
