package models

// ProcessingStatus tracks how far a photo has moved through the pipeline.
type ProcessingStatus string

const (
	StatusUploaded     ProcessingStatus = "UPLOADED"
	StatusTextDetected ProcessingStatus = "TEXT_DETECTED"
	StatusFacesIndexed ProcessingStatus = "FACES_INDEXED"
	StatusNoFaces      ProcessingStatus = "NO_FACES"
	StatusBibConfirmed ProcessingStatus = "BIB_CONFIRMED"
)

// transitions lists, for every target status, the statuses it may be entered
// from. A stage whose target is not reachable from the current status still
// commits its fields; the status is simply left where it is.
var transitions = map[ProcessingStatus][]ProcessingStatus{
	StatusTextDetected: {StatusUploaded, StatusTextDetected},
	StatusFacesIndexed: {StatusUploaded, StatusTextDetected, StatusFacesIndexed},
	StatusNoFaces:      {StatusUploaded, StatusTextDetected, StatusNoFaces},
	StatusBibConfirmed: {StatusTextDetected, StatusFacesIndexed, StatusNoFaces, StatusBibConfirmed},
}

// AllowedFrom returns the statuses from which to may be entered.
func AllowedFrom(to ProcessingStatus) []ProcessingStatus {
	from := transitions[to]
	out := make([]ProcessingStatus, len(from))
	copy(out, from)
	return out
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to ProcessingStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Advance returns the status a record ends up in when a stage targeting to
// completes while the record is in from.
func Advance(from, to ProcessingStatus) ProcessingStatus {
	if CanTransition(from, to) {
		return to
	}
	return from
}

// Valid reports whether s is one of the known statuses.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusTextDetected, StatusFacesIndexed, StatusNoFaces, StatusBibConfirmed:
		return true
	}
	return false
}

// StatusStrings converts statuses for use as a SQL text[] parameter.
func StatusStrings(statuses []ProcessingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
