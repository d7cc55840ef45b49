package transport

import (
	visitortransport "leadflow_backend/internal/visitors/transport"

	"github.com/google/uuid"
)

// ManualAssignmentRequest sets or clears one executive field. A missing
// executiveId clears the field.
type ManualAssignmentRequest struct {
	Field           string     `json:"field" validate:"required,oneof=assignedAgent salesExecutive"`
	ExecutiveID     *uuid.UUID `json:"executiveId,omitempty"`
	Reason          string     `json:"reason,omitempty" validate:"max=500"`
	ExpectedVersion *int       `json:"expectedVersion,omitempty" validate:"omitempty,min=1"`
}

type AssignmentResultResponse struct {
	Field         string     `json:"field"`
	ExecutiveID   *uuid.UUID `json:"executiveId,omitempty"`
	ExecutiveName string     `json:"executiveName,omitempty"`
	Strategy      string     `json:"strategy"`
	ViaFallback   bool       `json:"viaFallback"`
	Changed       bool       `json:"changed"`
}

type AssignResponse struct {
	Assignment AssignmentResultResponse         `json:"assignment"`
	Visitor    visitortransport.VisitorResponse `json:"visitor"`
}
