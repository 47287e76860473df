package models

import "time"

// Module identifies the business module an event originates from
type Module string

// Module constants
const (
	ModuleAttendance  Module = "attendance"
	ModuleToolboxTalk Module = "toolbox-talk"
	ModuleTraining    Module = "training"
	ModuleMeeting     Module = "meeting"
)

// EventType identifies the action an event records
type EventType string

// EventType constants
const (
	EventCheckIn  EventType = "check-in"
	EventCheckOut EventType = "check-out"
)

// CaptureMethod identifies how an event was captured on the device
type CaptureMethod string

// CaptureMethod constants
const (
	MethodBiometric        CaptureMethod = "biometric"
	MethodQR               CaptureMethod = "qr"
	MethodPIN              CaptureMethod = "pin"
	MethodSelfConfirmation CaptureMethod = "self-confirmation"
	MethodOperatorAssisted CaptureMethod = "operator-assisted"
	MethodManual           CaptureMethod = "manual"
)

// GeoLocation is an optional structured geo-reading captured with an event
type GeoLocation struct {
	Lat       float64 `json:"lat" doc:"Latitude in decimal degrees"`
	Lng       float64 `json:"lng" doc:"Longitude in decimal degrees"`
	AccuracyM float64 `json:"accuracy_m,omitempty" doc:"Horizontal accuracy in meters"`
	Source    string  `json:"source,omitempty" doc:"Reading source, e.g. gps, network"`
}

// Event is the unit of work a producer creates. ClientEventID is generated at
// capture time and serves as the idempotency key end-to-end.
type Event struct {
	ClientEventID string         `json:"client_event_id"`
	Module        Module         `json:"module"`
	ModuleRefID   string         `json:"module_ref_id"`
	EventType     EventType      `json:"event_type"`
	OccurredAt    time.Time      `json:"occurred_at"`
	DeviceID      string         `json:"device_id"`
	Offline       bool           `json:"offline"`
	Method        CaptureMethod  `json:"method"`
	Location      *GeoLocation   `json:"location,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Status is the queue-local lifecycle state of an item
type Status string

// Status constants
const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

// QueueItem wraps an Event with queue-local metadata. Items are keyed
// uniquely by the event's ClientEventID.
type QueueItem struct {
	Event         Event      `json:"event"`
	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Rejection carries the server's per-event rejection reason
type Rejection struct {
	ClientEventID string `json:"client_event_id"`
	Reason        string `json:"reason"`
}

// BulkSubmitRequest is the payload sent to the remote bulk endpoint
type BulkSubmitRequest struct {
	Events []Event `json:"events"`
}

// BulkSubmitResponse classifies every submitted id into one of three disjoint
// sets. Already-acknowledged ids come back as duplicates, never as errors.
type BulkSubmitResponse struct {
	Created    []string    `json:"created"`
	Duplicates []string    `json:"duplicates"`
	Rejected   []Rejection `json:"rejected"`
}

// Snapshot is the sync status surface consumed by the UI
type Snapshot struct {
	IsOnline     bool       `json:"is_online"`
	IsSyncing    bool       `json:"is_syncing"`
	PendingCount int        `json:"pending_count"`
	FailedCount  int        `json:"failed_count"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
}
