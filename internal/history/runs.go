package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itcshield/itc/internal/models"
	"github.com/itcshield/itc/internal/recon"
	"gorm.io/gorm"
)

// RunMeta describes where a reconciliation came from.
type RunMeta struct {
	FileName    string
	Fingerprint string
	Source      string // cli, schedule:<name> or dashboard
}

// SaveRun classifies p and stores it with its aggregates and consistency
// issues. The raw payload is kept so the run can be reclassified later.
func SaveRun(db *gorm.DB, p *recon.Payload, meta RunMeta) (*models.ReconciliationRun, *recon.Result, error) {
	if p == nil {
		return nil, nil, fmt.Errorf("history: reconciliation payload is required")
	}
	res := recon.Classify(p)
	if res.Period() == "" {
		return nil, nil, fmt.Errorf("history: reconciliation period is required")
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("history: marshal payload: %w", err)
	}
	issues := res.Verify()
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return nil, nil, fmt.Errorf("history: marshal issues: %w", err)
	}

	source := meta.Source
	if source == "" {
		source = "cli"
	}
	sum := res.Summary()
	run := models.ReconciliationRun{
		ID:             uuid.NewString(),
		Period:         res.Period(),
		FileName:       meta.FileName,
		Fingerprint:    meta.Fingerprint,
		Source:         source,
		TotalPR:        sum.TotalPR,
		Total2B:        sum.Total2B,
		Matched:        res.Count(recon.Matched),
		Mismatch:       res.Count(recon.Mismatch),
		MissingIn2B:    res.Count(recon.MissingIn2B),
		MissingInPR:    res.Count(recon.MissingInPR),
		MatchedAmount:  res.MatchedAmountSum().StringFixed(2),
		DisputedAmount: res.DisputedAmountSum().StringFixed(2),
		IssueCount:     len(issues),
		Issues:         issuesJSON,
		Payload:        raw,
		CreatedAt:      time.Now(),
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, nil, fmt.Errorf("history: save run for %s: %w", run.Period, err)
	}
	return &run, res, nil
}

// SetArchiveURI records where a run's payload was archived.
func SetArchiveURI(db *gorm.DB, runID, uri string) error {
	res := db.Model(&models.ReconciliationRun{}).Where("id = ?", runID).Update("archive_uri", uri)
	if res.Error != nil {
		return fmt.Errorf("history: set archive uri for %s: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("history: run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun loads a run by id, or by an unambiguous id prefix of at least
// eight characters, and reclassifies its stored payload.
func GetRun(db *gorm.DB, id string) (*models.ReconciliationRun, *recon.Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, fmt.Errorf("history: run id is required")
	}

	var run models.ReconciliationRun
	err := db.Where("id = ?", id).First(&run).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if len(id) < 8 {
			return nil, nil, fmt.Errorf("history: run %s: %w", id, ErrNotFound)
		}
		var matches []models.ReconciliationRun
		if err := db.Where("id LIKE ?", id+"%").Limit(2).Find(&matches).Error; err != nil {
			return nil, nil, fmt.Errorf("history: get run %s: %w", id, err)
		}
		switch len(matches) {
		case 0:
			return nil, nil, fmt.Errorf("history: run %s: %w", id, ErrNotFound)
		case 1:
			run = matches[0]
		default:
			return nil, nil, fmt.Errorf("history: run prefix %s is ambiguous", id)
		}
	case err != nil:
		return nil, nil, fmt.Errorf("history: get run %s: %w", id, err)
	}

	p, err := recon.Decode(run.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("history: run %s: %w", run.ID, err)
	}
	return &run, recon.Classify(p), nil
}

// ListRuns returns the most recent runs first, optionally for one period.
func ListRuns(db *gorm.DB, period string, limit int) ([]models.ReconciliationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := db.Omit("payload").Order("created_at DESC").Limit(limit)
	if period != "" {
		q = q.Where("period = ?", period)
	}
	var runs []models.ReconciliationRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	return runs, nil
}
