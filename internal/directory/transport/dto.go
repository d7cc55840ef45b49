package transport

import "github.com/google/uuid"

type AssignServiceRequest struct {
	ExecutiveID uuid.UUID `json:"executiveId" validate:"required"`
	ServiceName string    `json:"serviceName" validate:"required,min=1,max=200"`
}

type DeactivateServiceRequest struct {
	ExecutiveID uuid.UUID `json:"executiveId" validate:"required"`
	ServiceName string    `json:"serviceName" validate:"required,min=1,max=200"`
}

type ListAssignmentsRequest struct {
	ServiceName     string `form:"serviceName" validate:"omitempty,max=200"`
	ExecutiveID     string `form:"executiveId" validate:"omitempty,uuid"`
	IncludeInactive bool   `form:"includeInactive"`
}

type AssignmentResponse struct {
	ID            uuid.UUID `json:"id"`
	ExecutiveID   uuid.UUID `json:"executiveId"`
	ExecutiveName string    `json:"executiveName,omitempty"`
	ServiceName   string    `json:"serviceName"`
	IsActive      bool      `json:"isActive"`
	AssignedAt    string    `json:"assignedAt"`
	AssignedBy    string    `json:"assignedBy"`
	DeactivatedAt *string   `json:"deactivatedAt,omitempty"`
	DeactivatedBy *string   `json:"deactivatedBy,omitempty"`
}

type AssignmentListResponse struct {
	Items []AssignmentResponse `json:"items"`
}

type CategoriesResponse struct {
	Categories []string `json:"categories"`
}
