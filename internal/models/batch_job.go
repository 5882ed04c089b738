package models

import (
	"time"

	"gorm.io/datatypes"
)

// BatchJob is the local ledger entry for a submitted vendor batch. It is a
// projection of server state and is only written from poll readings.
type BatchJob struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	JobID           string `gorm:"size:64;not null;uniqueIndex"`
	FileName        string `gorm:"size:255"`
	Fingerprint     string `gorm:"size:16;index"`
	State           string `gorm:"size:16;default:submitted;index"`
	Status          string `gorm:"size:16"`
	TotalVendors    int
	Total           int
	Processed       int
	Success         int
	Failed          int
	ProgressPercent float64
	OutputFile      string         `gorm:"size:512"`
	ErrorMessage    string         `gorm:"type:text"`
	ParseErrors     datatypes.JSON `gorm:"type:json"`
	Report          datatypes.JSON `gorm:"type:json"`
	Polls           int
	TransientErrors int
	SubmittedAt     time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// JobEvent records one accepted state change of a batch job. The dashboard
// streams these to connected browsers.
type JobEvent struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	JobID           string `gorm:"size:64;not null;index"`
	State           string `gorm:"size:16"`
	Status          string `gorm:"size:16"`
	ProgressPercent float64
	Message         string `gorm:"type:text"`
	CreatedAt       time.Time
}
