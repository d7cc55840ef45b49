// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Keyed       = events.Keyed
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

const (
	NameVisitorCreated          = "visitors.visitor.created"
	NameVisitorStageChanged     = "visitors.visitor.stage_changed"
	NameVisitorAssigned         = "assignment.visitor.assigned"
	NameVisitorUnassigned       = "assignment.visitor.unassigned"
	NameAssignmentPassCompleted = "assignment.pass.completed"
)

// Names lists every domain event, in the order forwarders subscribe to them.
func Names() []string {
	return []string{
		NameVisitorCreated,
		NameVisitorStageChanged,
		NameVisitorAssigned,
		NameVisitorUnassigned,
		NameAssignmentPassCompleted,
	}
}

// =============================================================================
// Visitor Domain Events
// =============================================================================

// VisitorCreated is published when an enquiry creates a new visitor.
type VisitorCreated struct {
	BaseEvent
	VisitorID uuid.UUID `json:"visitorId"`
	Name      string    `json:"name"`
	Service   string    `json:"service"`
	Category  string    `json:"category"`
	Region    string    `json:"region,omitempty"`
	Source    string    `json:"source"`
}

func (e VisitorCreated) EventName() string    { return NameVisitorCreated }
func (e VisitorCreated) AggregateKey() string { return e.VisitorID.String() }

// VisitorStageChanged is published after a pipeline transition is stored.
type VisitorStageChanged struct {
	BaseEvent
	VisitorID  uuid.UUID `json:"visitorId"`
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	Backfilled []string  `json:"backfilled,omitempty"`
	ChangedBy  string    `json:"changedBy"`
	Version    int       `json:"version"`
}

func (e VisitorStageChanged) EventName() string    { return NameVisitorStageChanged }
func (e VisitorStageChanged) AggregateKey() string { return e.VisitorID.String() }

// =============================================================================
// Assignment Domain Events
// =============================================================================

// VisitorAssigned is published when an executive is stored on a visitor.
type VisitorAssigned struct {
	BaseEvent
	VisitorID     uuid.UUID `json:"visitorId"`
	Field         string    `json:"field"`
	ExecutiveID   uuid.UUID `json:"executiveId"`
	ExecutiveName string    `json:"executiveName"`
	Strategy      string    `json:"strategy"`
	ViaFallback   bool      `json:"viaFallback"`
	ChangedBy     string    `json:"changedBy"`
}

func (e VisitorAssigned) EventName() string    { return NameVisitorAssigned }
func (e VisitorAssigned) AggregateKey() string { return e.VisitorID.String() }

// VisitorUnassigned is published when an operator clears an assignment.
type VisitorUnassigned struct {
	BaseEvent
	VisitorID           uuid.UUID  `json:"visitorId"`
	Field               string     `json:"field"`
	PreviousExecutiveID *uuid.UUID `json:"previousExecutiveId,omitempty"`
	Reason              string     `json:"reason,omitempty"`
	ChangedBy           string     `json:"changedBy"`
}

func (e VisitorUnassigned) EventName() string    { return NameVisitorUnassigned }
func (e VisitorUnassigned) AggregateKey() string { return e.VisitorID.String() }

// AssignmentPassCompleted is published after every reconciliation pass that
// ran to completion.
type AssignmentPassCompleted struct {
	BaseEvent
	Trigger        string `json:"trigger"`
	Examined       int    `json:"examined"`
	ServiceRouted  int    `json:"serviceRouted"`
	FallbackRouted int    `json:"fallbackRouted"`
	RegionRouted   int    `json:"regionRouted"`
	Unassigned     int    `json:"unassigned"`
	Failed         int    `json:"failed"`
	DurationMs     int64  `json:"durationMs"`
}

func (e AssignmentPassCompleted) EventName() string { return NameAssignmentPassCompleted }
