package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReconciliationRun stores one reconciliation response with its computed
// aggregates. Payload holds the service body verbatim so a run can be
// reclassified later.
type ReconciliationRun struct {
	ID             string `gorm:"primaryKey;size:36"`
	Period         string `gorm:"size:6;not null;index"`
	FileName       string `gorm:"size:255"`
	Fingerprint    string `gorm:"size:16;index"`
	Source         string `gorm:"size:32;default:cli"`
	TotalPR        int
	Total2B        int
	Matched        int
	Mismatch       int
	MissingIn2B    int
	MissingInPR    int
	MatchedAmount  string `gorm:"size:32"`
	DisputedAmount string `gorm:"size:32"`
	IssueCount     int
	Issues         datatypes.JSON `gorm:"type:json"`
	Payload        datatypes.JSON `gorm:"type:json"`
	ArchiveURI     string         `gorm:"size:512"`
	CreatedAt      time.Time
}
