package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Bharath-Thiravium/athens-sub000/internal/connectivity"
	"github.com/Bharath-Thiravium/athens-sub000/internal/identity"
	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
	"github.com/Bharath-Thiravium/athens-sub000/internal/queue"
	"github.com/Bharath-Thiravium/athens-sub000/internal/status"
	"github.com/danielgtaylor/huma/v2"
)

// SyncTrigger is the manual sync entry point. A trigger while a cycle runs
// coalesces into the next one.
type SyncTrigger interface {
	SyncNow()
}

// Server holds the local API server dependencies. This is the surface used
// by the capture UI on the device, not the remote business API.
type Server struct {
	queue    *queue.Manager
	tracker  *status.Tracker
	syncer   SyncTrigger
	monitor  connectivity.Monitor
	deviceID string
}

// NewServer creates a new API server
func NewServer(q *queue.Manager, tracker *status.Tracker, syncer SyncTrigger, monitor connectivity.Monitor, deviceID string) *Server {
	return &Server{
		queue:    q,
		tracker:  tracker,
		syncer:   syncer,
		monitor:  monitor,
		deviceID: deviceID,
	}
}

// RegisterRoutes registers all API routes with the Huma API
func (s *Server) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health-ready",
		Method:      http.MethodGet,
		Path:        "/health/ready",
		Summary:     "Readiness check",
		Description: "Check if the capture agent is ready to accept events",
		Tags:        []string{"health"},
	}, s.healthReady)

	huma.Register(api, huma.Operation{
		OperationID:   "enqueue-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Enqueue a captured event",
		Description:   "Record an attendance-style event. Works identically online and offline; delivery happens in the background.",
		Tags:          []string{"events"},
		DefaultStatus: http.StatusAccepted,
	}, s.enqueueEvent)

	huma.Register(api, huma.Operation{
		OperationID: "sync-status",
		Method:      http.MethodGet,
		Path:        "/sync/status",
		Summary:     "Sync status",
		Description: "Get the current sync status snapshot",
		Tags:        []string{"sync"},
	}, s.syncStatus)

	huma.Register(api, huma.Operation{
		OperationID:   "sync-now",
		Method:        http.MethodPost,
		Path:          "/sync/now",
		Summary:       "Trigger a sync",
		Description:   "Request an immediate sync cycle. No-op if a cycle is already running.",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusAccepted,
	}, s.syncNow)

	huma.Register(api, huma.Operation{
		OperationID: "list-failed",
		Method:      http.MethodGet,
		Path:        "/queue/failed",
		Summary:     "List failed events",
		Description: "Get all events the server rejected or that exhausted their retries",
		Tags:        []string{"queue"},
	}, s.listFailed)

	huma.Register(api, huma.Operation{
		OperationID: "requeue-event",
		Method:      http.MethodPost,
		Path:        "/queue/{id}/requeue",
		Summary:     "Requeue a failed event",
		Description: "Reset a failed event to pending for another sync attempt",
		Tags:        []string{"queue"},
	}, s.requeueEvent)
}

// Request/Response types

type EnqueueEventRequest struct {
	Body struct {
		ClientEventID string               `json:"client_event_id,omitempty" doc:"Client-generated idempotency key; generated when absent"`
		Module        models.Module        `json:"module" enum:"attendance,toolbox-talk,training,meeting" doc:"Originating business module"`
		ModuleRefID   string               `json:"module_ref_id" minLength:"1" maxLength:"80" doc:"Correlation id into the originating entity"`
		EventType     models.EventType     `json:"event_type" enum:"check-in,check-out" doc:"Recorded action"`
		OccurredAt    time.Time            `json:"occurred_at,omitempty" doc:"Client-observed timestamp; defaults to now"`
		Method        models.CaptureMethod `json:"method" enum:"biometric,qr,pin,self-confirmation,operator-assisted,manual" doc:"Capture method"`
		Location      *models.GeoLocation  `json:"location,omitempty" doc:"Optional geo-reading"`
		Payload       map[string]any       `json:"payload,omitempty" doc:"Method or business specific data"`
	}
}

type EnqueueEventResponse struct {
	Body models.QueueItem
}

type SyncStatusResponse struct {
	Body models.Snapshot
}

type SyncNowResponse struct {
	Body struct {
		Requested bool `json:"requested" doc:"Whether the sync request was accepted"`
	}
}

type ListFailedResponse struct {
	Body []models.QueueItem
}

type RequeueEventRequest struct {
	ID string `path:"id" minLength:"1" doc:"Client event id"`
}

type RequeueEventResponse struct {
	Body models.QueueItem
}

type HealthReadyResponse struct {
	Body struct {
		Ready  bool `json:"ready" doc:"Whether the agent is ready to accept events"`
		Online bool `json:"online" doc:"Whether the remote service is currently reachable"`
	}
}

// Handler implementations

func (s *Server) enqueueEvent(ctx context.Context, input *EnqueueEventRequest) (*EnqueueEventResponse, error) {
	event := models.Event{
		ClientEventID: input.Body.ClientEventID,
		Module:        input.Body.Module,
		ModuleRefID:   input.Body.ModuleRefID,
		EventType:     input.Body.EventType,
		OccurredAt:    input.Body.OccurredAt,
		DeviceID:      s.deviceID,
		Offline:       !s.monitor.IsOnline(),
		Method:        input.Body.Method,
		Location:      input.Body.Location,
		Payload:       input.Body.Payload,
	}

	if event.ClientEventID == "" {
		event.ClientEventID = identity.NewEventID()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	item := s.queue.Enqueue(event)
	return &EnqueueEventResponse{Body: *item}, nil
}

func (s *Server) syncStatus(ctx context.Context, input *struct{}) (*SyncStatusResponse, error) {
	return &SyncStatusResponse{Body: s.tracker.Get()}, nil
}

func (s *Server) syncNow(ctx context.Context, input *struct{}) (*SyncNowResponse, error) {
	s.syncer.SyncNow()
	resp := &SyncNowResponse{}
	resp.Body.Requested = true
	return resp, nil
}

func (s *Server) listFailed(ctx context.Context, input *struct{}) (*ListFailedResponse, error) {
	items, err := s.queue.ListFailed()
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list failed events", err)
	}

	if items == nil {
		items = []models.QueueItem{}
	}

	return &ListFailedResponse{Body: items}, nil
}

func (s *Server) requeueEvent(ctx context.Context, input *RequeueEventRequest) (*RequeueEventResponse, error) {
	if !s.queue.Requeue(input.ID) {
		return nil, huma.Error404NotFound("No failed event with that id")
	}

	item, err := s.queue.Get(input.ID)
	if err != nil || item == nil {
		return nil, huma.Error500InternalServerError("Failed to load requeued event", err)
	}

	return &RequeueEventResponse{Body: *item}, nil
}

func (s *Server) healthReady(ctx context.Context, input *struct{}) (*HealthReadyResponse, error) {
	resp := &HealthReadyResponse{}
	resp.Body.Ready = true
	resp.Body.Online = s.monitor.IsOnline()
	return resp, nil
}
