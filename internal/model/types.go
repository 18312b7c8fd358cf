package model

import "time"

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarkSet holds the normalized face mesh points of the single tracked face.
type LandmarkSet struct {
	Points []Point `json:"points"`
}

type Status string

const (
	StatusMonitoring         Status = "monitoring"
	StatusSearchingForFace   Status = "searching_for_face"
	StatusDrowsinessDetected Status = "drowsiness_detected"
	StatusFaceNotDetected    Status = "face_not_detected"
)

func (s Status) Label() string {
	switch s {
	case StatusSearchingForFace:
		return "Searching for face..."
	case StatusDrowsinessDetected:
		return "DROWSINESS DETECTED!"
	case StatusFaceNotDetected:
		return "FACE NOT DETECTED!"
	default:
		return "Monitoring Active"
	}
}

type Transition int

const (
	Unchanged Transition = iota
	BecameActive
	BecameInactive
)

func (t Transition) String() string {
	switch t {
	case BecameActive:
		return "became_active"
	case BecameInactive:
		return "became_inactive"
	default:
		return "unchanged"
	}
}

func (t Transition) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// StatusSnapshot is what publishers see. It is never mutated after publish;
// Frame in particular is shared between readers.
type StatusSnapshot struct {
	Seq          uint64    `json:"seq"`
	InstanceID   string    `json:"instance_id"`
	Status       Status    `json:"status"`
	AlertActive  bool      `json:"alert_active"`
	EAR          float64   `json:"ear"`
	HasEAR       bool      `json:"has_ear"`
	ClosedFrames int       `json:"closed_frames"`
	MissingFaces int       `json:"missing_faces"`
	Frame        []byte    `json:"-"`
	CapturedAt   time.Time `json:"captured_at"`
	PublishedAt  time.Time `json:"published_at"`
}

func (s StatusSnapshot) Drowsy() bool {
	return s.AlertActive && s.Status == StatusDrowsinessDetected
}

func (s StatusSnapshot) FaceMissing() bool {
	return s.AlertActive && s.Status == StatusFaceNotDetected
}

type AlertEvent struct {
	ID           string     `json:"id"`
	InstanceID   string     `json:"instance_id"`
	Timestamp    time.Time  `json:"timestamp"`
	Transition   Transition `json:"transition"`
	Status       Status     `json:"status"`
	EAR          float64    `json:"ear,omitempty"`
	ClosedFrames int        `json:"closed_frames"`
	MissingFaces int        `json:"missing_faces"`
}

// PerclosWindow is the share of face-present frames with closed eyes.
type PerclosWindow struct {
	WindowSec int     `json:"window_sec"`
	Frames    int     `json:"frames"`
	Closed    int     `json:"closed"`
	Perclos   float64 `json:"perclos"`
}
