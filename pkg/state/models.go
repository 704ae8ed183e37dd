package state

import (
	"time"
)

// UploadStatus is the lifecycle of an inbound object. It only moves forward.
type UploadStatus int

const (
	Unsent UploadStatus = iota
	Queued
	Sent
)

func (s UploadStatus) String() string {
	switch s {
	case Unsent:
		return "unsent"
	case Queued:
		return "queued"
	case Sent:
		return "sent"
	default:
		return "unknown"
	}
}

// IncomingObject is one instance received from the local network and
// awaiting upload. Rows of an association are deleted once the association
// is closed, fully sent and notified.
type IncomingObject struct {
	ID                   uint         `gorm:"primaryKey"`
	AssociationID        string       `gorm:"size:64;not null;uniqueIndex:idx_incoming_assoc_sop;index"`
	SourceAE             string       `gorm:"size:16"`
	DestinationAE        string       `gorm:"size:16"`
	StudyUID             string       `gorm:"size:64"`
	SeriesUID            string       `gorm:"size:64"`
	SOPInstanceUID       string       `gorm:"size:64;not null;uniqueIndex:idx_incoming_assoc_sop"`
	Path                 string       `gorm:"not null"`
	Status               UploadStatus `gorm:"not null;default:0;index"`
	AssociationCompleted bool         `gorm:"not null;default:false;index"`
	QueuedAt             *time.Time
	CreatedAt            time.Time
}

// TableName returns the table name for IncomingObject.
func (IncomingObject) TableName() string {
	return "incoming_objects"
}

// FetchJob is one instance requested for outbound forwarding. Rows outlive
// the send so that redelivered requests stay idempotent.
type FetchJob struct {
	ID              uint   `gorm:"primaryKey"`
	JobID           string `gorm:"size:128;not null;uniqueIndex:idx_fetch_job_sop;index"`
	SourceAE        string `gorm:"size:16"`
	DestinationAE   string `gorm:"size:16"`
	DestinationHost string `gorm:"size:255"`
	DestinationPort int
	StudyUID        string `gorm:"size:64"`
	SeriesUID       string `gorm:"size:64"`
	SOPInstanceUID  string `gorm:"size:64;not null;uniqueIndex:idx_fetch_job_sop"`
	LocalPath       string `gorm:"not null"`
	SourceKey       string `gorm:"not null"`
	Fetched         bool   `gorm:"not null;default:false;index"`
	Forwarded       bool   `gorm:"not null;default:false;index"`
	OfferedAt       *time.Time
	CreatedAt       time.Time
}

// TableName returns the table name for FetchJob.
func (FetchJob) TableName() string {
	return "fetch_jobs"
}

// AllModels returns the models migrated on open.
func AllModels() []any {
	return []any{&IncomingObject{}, &FetchJob{}}
}

// Stats summarizes the store for status reporting.
type Stats struct {
	Unsent         int64 `json:"unsent"`
	Queued         int64 `json:"queued"`
	Sent           int64 `json:"sent"`
	Associations   int64 `json:"associations"`
	PendingFetches int64 `json:"pending_fetches"`
	FetchJobs      int64 `json:"fetch_jobs"`
}
