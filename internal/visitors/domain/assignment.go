package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssignmentField names which executive reference an event touched.
type AssignmentField string

const (
	// FieldAssignedAgent is the service-fulfillment executive.
	FieldAssignedAgent AssignmentField = "assignedAgent"
	// FieldSalesExecutive is the region-fulfillment executive.
	FieldSalesExecutive AssignmentField = "salesExecutive"
)

// ParseAssignmentField validates a field name from a request.
func ParseAssignmentField(raw string) (AssignmentField, error) {
	switch AssignmentField(strings.TrimSpace(raw)) {
	case FieldAssignedAgent:
		return FieldAssignedAgent, nil
	case FieldSalesExecutive:
		return FieldSalesExecutive, nil
	default:
		return "", ErrUnknownAssignmentField
	}
}

// AssignmentStrategy tells operators how an executive was picked.
type AssignmentStrategy string

const (
	StrategyServiceRoundRobin  AssignmentStrategy = "service_round_robin"
	StrategyFallbackRoundRobin AssignmentStrategy = "fallback_round_robin"
	StrategyRegionRotation     AssignmentStrategy = "region_rotation"
	StrategyManual             AssignmentStrategy = "manual"
)

// AssignmentAction distinguishes assignment from unassignment.
type AssignmentAction string

const (
	ActionAssigned   AssignmentAction = "assigned"
	ActionUnassigned AssignmentAction = "unassigned"
)

// ErrUnknownAssignmentField is returned for field names other than
// assignedAgent and salesExecutive.
var ErrUnknownAssignmentField = errors.New("unknown assignment field")

// AssignmentEvent is one entry of the assignment audit log.
type AssignmentEvent struct {
	Field               AssignmentField    `json:"field"`
	Action              AssignmentAction   `json:"action"`
	ExecutiveID         *uuid.UUID         `json:"executiveId,omitempty"`
	ExecutiveName       string             `json:"executiveName,omitempty"`
	PreviousExecutiveID *uuid.UUID         `json:"previousExecutiveId,omitempty"`
	Strategy            AssignmentStrategy `json:"strategy"`
	ViaFallback         bool               `json:"viaFallback"`
	Reason              string             `json:"reason,omitempty"`
	ChangedBy           string             `json:"changedBy"`
	At                  time.Time          `json:"at"`
}

// Assignee identifies the executive being assigned.
type Assignee struct {
	ID   uuid.UUID
	Name string
}

// NeedsServiceAssignment reports whether the service executive is missing.
// A missing id and a blank display name are equivalent signals.
func (v *Visitor) NeedsServiceAssignment() bool {
	return v.AssignedAgentID == nil || strings.TrimSpace(v.AssignedAgentName) == ""
}

// NeedsRegionAssignment reports whether the visitor declared a region but
// has no sales executive yet.
func (v *Visitor) NeedsRegionAssignment() bool {
	return strings.TrimSpace(v.Region) != "" && v.SalesExecutiveID == nil
}

// CurrentAssignee returns the executive id stored in field.
func (v *Visitor) CurrentAssignee(field AssignmentField) *uuid.UUID {
	if field == FieldSalesExecutive {
		return v.SalesExecutiveID
	}
	return v.AssignedAgentID
}

// Assign stores the executive in field, appends an audit event and bumps
// the version.
func (v *Visitor) Assign(field AssignmentField, to Assignee, strategy AssignmentStrategy, viaFallback bool, reason, changedBy string, now time.Time) {
	if strings.TrimSpace(changedBy) == "" {
		changedBy = SystemActor
	}
	previous := cloneUUID(v.CurrentAssignee(field))
	id := to.ID

	switch field {
	case FieldSalesExecutive:
		v.SalesExecutiveID = &id
		v.SalesExecutiveName = to.Name
	default:
		v.AssignedAgentID = &id
		v.AssignedAgentName = to.Name
	}

	executiveID := id
	v.AssignmentHistory = append(v.AssignmentHistory, AssignmentEvent{
		Field:               field,
		Action:              ActionAssigned,
		ExecutiveID:         &executiveID,
		ExecutiveName:       to.Name,
		PreviousExecutiveID: previous,
		Strategy:            strategy,
		ViaFallback:         viaFallback,
		Reason:              reason,
		ChangedBy:           changedBy,
		At:                  now,
	})
	v.touch(changedBy, now)
}

// Unassign clears field and records why.
func (v *Visitor) Unassign(field AssignmentField, reason, changedBy string, now time.Time) {
	if strings.TrimSpace(changedBy) == "" {
		changedBy = SystemActor
	}
	previous := cloneUUID(v.CurrentAssignee(field))

	switch field {
	case FieldSalesExecutive:
		v.SalesExecutiveID = nil
		v.SalesExecutiveName = ""
	default:
		v.AssignedAgentID = nil
		v.AssignedAgentName = ""
	}

	v.AssignmentHistory = append(v.AssignmentHistory, AssignmentEvent{
		Field:               field,
		Action:              ActionUnassigned,
		PreviousExecutiveID: previous,
		Strategy:            StrategyManual,
		Reason:              reason,
		ChangedBy:           changedBy,
		At:                  now,
	})
	v.touch(changedBy, now)
}
