package models

import (
	"time"
)

// NoBib marks a photo whose bib was resolved as confirmed-absent. It is
// distinct from a nil bib, which means "not resolved yet".
const NoBib = "NONE"

// BibSource records which evidence produced a photo's resolved bib.
type BibSource string

const (
	BibSourceNone          BibSource = "none"
	BibSourceFace          BibSource = "face"
	BibSourceOCR           BibSource = "ocr"
	BibSourceDisambiguated BibSource = "disambiguated"
)

// Rank orders evidence strength. A stored bib is only replaced by a
// resolution of higher rank, or rewritten with the same bib.
func (s BibSource) Rank() int {
	switch s {
	case BibSourceOCR, BibSourceDisambiguated:
		return 2
	case BibSourceFace:
		return 1
	default:
		return 0
	}
}

// Photo is the index record for one uploaded image.
type Photo struct {
	TenantID       string           `json:"organizer_id" db:"tenant_id"`
	EventID        string           `json:"event_id" db:"event_id"`
	ImageKey       string           `json:"image_key" db:"image_key"`
	Bucket         string           `json:"bucket" db:"bucket"`
	RawKey         string           `json:"raw_key" db:"raw_key"`
	ProcessedKey   string           `json:"processed_key,omitempty" db:"processed_key"`
	PhotographerID string           `json:"photographer_id,omitempty" db:"photographer_id"`
	Bib            *string          `json:"bib_number,omitempty" db:"bib"`
	BibSource      BibSource        `json:"bib_source,omitempty" db:"bib_source"`
	DetectedBibs   []string         `json:"detected_bibs" db:"detected_bibs"`
	RawText        []string         `json:"-" db:"raw_text"`
	TextDetected   bool             `json:"text_detected" db:"text_detected"`
	FaceIDs        []string         `json:"face_ids" db:"face_ids"`
	SimilarFaceIDs []string         `json:"-" db:"similar_face_ids"`
	FacesIndexed   bool             `json:"faces_indexed" db:"faces_indexed"`
	Status         ProcessingStatus `json:"processing_status" db:"status"`
	UploadedAt     time.Time        `json:"uploaded_at" db:"uploaded_at"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// Ref returns the primary identity of the photo.
func (p *Photo) Ref() PhotoRef {
	return PhotoRef{TenantID: p.TenantID, EventID: p.EventID, ImageKey: p.ImageKey}
}

// BibOrNone returns the resolved bib, or NoBib when unresolved.
func (p *Photo) BibOrNone() string {
	if p.Bib == nil {
		return NoBib
	}
	return *p.Bib
}

// ReadyForResolution reports whether both pipeline inputs have been recorded.
func (p *Photo) ReadyForResolution() bool {
	return p.TextDetected && p.FacesIndexed
}

// Cursor returns the photo's position in upload order.
func (p *Photo) Cursor() PhotoCursor {
	return PhotoCursor{UploadedAt: p.UploadedAt, ImageKey: p.ImageKey}
}

// PhotoCursor is a keyset position in (uploaded_at, image_key) order. The
// zero value sits before the first photo.
type PhotoCursor struct {
	UploadedAt time.Time
	ImageKey   string
}

func (c PhotoCursor) IsZero() bool {
	return c.UploadedAt.IsZero() && c.ImageKey == ""
}

// Precedes reports whether p sorts strictly after c.
func (c PhotoCursor) Precedes(p *Photo) bool {
	if c.IsZero() {
		return true
	}
	if !p.UploadedAt.Equal(c.UploadedAt) {
		return p.UploadedAt.After(c.UploadedAt)
	}
	return p.ImageKey > c.ImageKey
}

// PhotoRef is the composite primary key of a photo.
type PhotoRef struct {
	TenantID string `json:"organizer_id"`
	EventID  string `json:"event_id"`
	ImageKey string `json:"image_key"`
}

// FaceRef links one indexed face to the photo it was found in.
type FaceRef struct {
	FaceID     string    `json:"face_id" db:"face_id"`
	ImageKey   string    `json:"image_key" db:"image_key"`
	TenantID   string    `json:"organizer_id" db:"tenant_id"`
	EventID    string    `json:"event_id" db:"event_id"`
	Bib        *string   `json:"bib_number,omitempty" db:"bib"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// EventRef identifies one race event of one organizer.
type EventRef struct {
	TenantID string `json:"organizer_id"`
	EventID  string `json:"event_id"`
}

// TextRecord is what the text stage commits for one photo.
type TextRecord struct {
	Bibs    []string
	RawText []string
}

// FaceRecord is what the face stage commits for one photo.
type FaceRecord struct {
	FaceIDs        []string
	SimilarFaceIDs []string
}

// Resolution is the outcome of bib resolution for one photo. Bib is NoBib
// when the photo was confirmed to carry no identifiable bib.
type Resolution struct {
	Bib    string
	Source BibSource
}
