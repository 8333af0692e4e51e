package dto

// PhotoSummary is a photo as returned to galleries and search clients.
type PhotoSummary struct {
	ImageKey       string  `json:"image_key"`
	OrganizerID    string  `json:"organizer_id"`
	EventID        string  `json:"event_id"`
	Bib            string  `json:"bib_number"`
	BibSource      string  `json:"bib_source,omitempty"`
	Status         string  `json:"processing_status"`
	PhotographerID string  `json:"photographer_id,omitempty"`
	FaceCount      int     `json:"face_count"`
	UploadedAt     string  `json:"uploaded_at"`
	Similarity     float64 `json:"similarity,omitempty"`
	URL            string  `json:"url,omitempty"`
}

// SelfieSearchRequest is the body of POST /v1/search/selfie.
type SelfieSearchRequest struct {
	ImageB64    string `json:"image_b64"`
	Bib         string `json:"bib,omitempty"`
	OrganizerID string `json:"organizer_id"`
	EventID     string `json:"event_id"`
}

type SelfieSearchResponse struct {
	NewPhotos []PhotoSummary `json:"new_photos"`
}

type PhotoListResponse struct {
	Photos []PhotoSummary `json:"photos"`
	Total  int            `json:"total"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSEvent is a WebSocket message for live gallery updates.
type WSEvent struct {
	Type        string       `json:"type"` // photo_indexed
	OrganizerID string       `json:"organizer_id"`
	EventID     string       `json:"event_id"`
	Data        PhotoSummary `json:"data"`
}
