package transport

import "github.com/google/uuid"

// Intake

type CreateEnquiryRequest struct {
	Name       string `json:"name" validate:"required,min=1,max=200"`
	Email      string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Phone      string `json:"phone,omitempty" validate:"omitempty,min=6,max=32"`
	Service    string `json:"service" validate:"max=200"`
	Subservice string `json:"subservice,omitempty" validate:"max=200"`
	Region     string `json:"region,omitempty" validate:"max=100"`
	Source     string `json:"source,omitempty" validate:"omitempty,max=50"`
}

// Pipeline

type UpdateStatusRequest struct {
	Status          string  `json:"status" validate:"required,max=64"`
	Notes           *string `json:"notes,omitempty" validate:"omitempty,max=2000"`
	ExpectedVersion *int    `json:"expectedVersion,omitempty" validate:"omitempty,min=1"`
}

type ListVisitorsRequest struct {
	Status     string `form:"status" validate:"omitempty,max=64"`
	AtOrBeyond string `form:"atOrBeyond" validate:"omitempty,max=64"`
	Converted  bool   `form:"converted"`
	Region     string `form:"region" validate:"omitempty,max=100"`
	Assignee   string `form:"assignedAgentId" validate:"omitempty,uuid"`
	Sales      string `form:"salesExecutiveId" validate:"omitempty,uuid"`
	Pending    bool   `form:"unassigned"`
	Search     string `form:"search" validate:"max=100"`
	Page       int    `form:"page" validate:"omitempty,min=1"`
	PageSize   int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

type PipelineEntryResponse struct {
	Status    string `json:"status"`
	ChangedAt string `json:"changedAt"`
	ChangedBy string `json:"changedBy"`
	Notes     string `json:"notes"`
}

type AssignmentEventResponse struct {
	Field               string     `json:"field"`
	Action              string     `json:"action"`
	ExecutiveID         *uuid.UUID `json:"executiveId,omitempty"`
	ExecutiveName       string     `json:"executiveName,omitempty"`
	PreviousExecutiveID *uuid.UUID `json:"previousExecutiveId,omitempty"`
	Strategy            string     `json:"strategy"`
	ViaFallback         bool       `json:"viaFallback"`
	Reason              string     `json:"reason,omitempty"`
	ChangedBy           string     `json:"changedBy"`
	At                  string     `json:"at"`
}

type VisitorResponse struct {
	ID                 uuid.UUID                 `json:"id"`
	Name               string                    `json:"name"`
	Email              *string                   `json:"email,omitempty"`
	Phone              *string                   `json:"phone,omitempty"`
	Service            string                    `json:"service"`
	Subservice         string                    `json:"subservice,omitempty"`
	Category           string                    `json:"category"`
	Region             string                    `json:"region,omitempty"`
	Source             string                    `json:"source"`
	Status             string                    `json:"status"`
	PipelineHistory    []PipelineEntryResponse   `json:"pipelineHistory"`
	AssignedAgentID    *uuid.UUID                `json:"assignedAgentId,omitempty"`
	AssignedAgentName  string                    `json:"assignedAgentName,omitempty"`
	SalesExecutiveID   *uuid.UUID                `json:"salesExecutiveId,omitempty"`
	SalesExecutiveName string                    `json:"salesExecutiveName,omitempty"`
	AssignmentHistory  []AssignmentEventResponse `json:"assignmentHistory"`
	Version            int                       `json:"version"`
	LastModifiedBy     string                    `json:"lastModifiedBy"`
	LastModifiedAt     string                    `json:"lastModifiedAt"`
	CreatedAt          string                    `json:"createdAt"`
}

type VisitorListResponse struct {
	Items      []VisitorResponse `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"pageSize"`
	TotalPages int               `json:"totalPages"`
}

type StageResponse struct {
	Name string `json:"name"`
	Rank *int   `json:"rank,omitempty"`
}

type StagesResponse struct {
	Stages            []StageResponse `json:"stages"`
	UnqualifiedPolicy string          `json:"unqualifiedPolicy"`
}

// EnquiryAcceptedResponse is returned to the chatbot. It carries only what
// the visitor may see.
type EnquiryAcceptedResponse struct {
	ID       uuid.UUID `json:"id"`
	Category string    `json:"category"`
	Status   string    `json:"status"`
}
