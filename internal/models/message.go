package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline step a message is addressed to.
type Stage string

const (
	StageIngest  Stage = "ingest"
	StageText    Stage = "text"
	StageFaces   Stage = "faces"
	StageResolve Stage = "resolve"
)

// PipelineMessage is the unit of work published to the PHOTOS stream.
// Delivery is at-least-once and unordered across stages.
type PipelineMessage struct {
	RunID          uuid.UUID `json:"run_id"`
	Stage          Stage     `json:"stage"`
	TenantID       string    `json:"organizer_id"`
	EventID        string    `json:"event_id"`
	Bucket         string    `json:"bucket"`
	Key            string    `json:"raw_key"`
	PhotographerID string    `json:"photographer_id,omitempty"`
	UploadedAt     time.Time `json:"uploaded_at"`

	// Partial results carried forward by earlier stages.
	DetectedBibs []string `json:"detected_bibs,omitempty"`
	BibConfirmed bool     `json:"bib_confirmed,omitempty"`
}

// Next returns a copy of m addressed to stage.
func (m PipelineMessage) Next(stage Stage) PipelineMessage {
	next := m
	next.Stage = stage
	if m.DetectedBibs != nil {
		next.DetectedBibs = append([]string(nil), m.DetectedBibs...)
	}
	return next
}

// Ref returns the photo identity the message refers to.
func (m PipelineMessage) Ref() PhotoRef {
	return PhotoRef{TenantID: m.TenantID, EventID: m.EventID, ImageKey: m.Key}
}

// PhotoIndexedEvent is published on the EVENTS stream once a photo has been
// resolved, for live gallery updates.
type PhotoIndexedEvent struct {
	TenantID   string           `json:"organizer_id"`
	EventID    string           `json:"event_id"`
	ImageKey   string           `json:"image_key"`
	Bib        string           `json:"bib_number"`
	Status     ProcessingStatus `json:"processing_status"`
	FaceCount  int              `json:"face_count"`
	UploadedAt time.Time        `json:"uploaded_at"`
}
