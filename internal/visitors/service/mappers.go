package service

import (
	"time"

	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/internal/visitors/transport"
)

// ToVisitorResponse maps a visitor to its API shape. Exported for the
// assignment module, which answers with the updated visitor.
func ToVisitorResponse(v *domain.Visitor) transport.VisitorResponse {
	history := make([]transport.PipelineEntryResponse, len(v.PipelineHistory))
	for i, e := range v.PipelineHistory {
		history[i] = transport.PipelineEntryResponse{
			Status:    string(e.Status),
			ChangedAt: e.ChangedAt.Format(time.RFC3339),
			ChangedBy: e.ChangedBy,
			Notes:     e.Notes,
		}
	}

	assignments := make([]transport.AssignmentEventResponse, len(v.AssignmentHistory))
	for i, e := range v.AssignmentHistory {
		assignments[i] = transport.AssignmentEventResponse{
			Field:               string(e.Field),
			Action:              string(e.Action),
			ExecutiveID:         e.ExecutiveID,
			ExecutiveName:       e.ExecutiveName,
			PreviousExecutiveID: e.PreviousExecutiveID,
			Strategy:            string(e.Strategy),
			ViaFallback:         e.ViaFallback,
			Reason:              e.Reason,
			ChangedBy:           e.ChangedBy,
			At:                  e.At.Format(time.RFC3339),
		}
	}

	return transport.VisitorResponse{
		ID:                 v.ID,
		Name:               v.Name,
		Email:              v.Email,
		Phone:              v.Phone,
		Service:            v.Service,
		Subservice:         v.Subservice,
		Category:           string(v.Category()),
		Region:             v.Region,
		Source:             v.Source,
		Status:             string(v.Status),
		PipelineHistory:    history,
		AssignedAgentID:    v.AssignedAgentID,
		AssignedAgentName:  v.AssignedAgentName,
		SalesExecutiveID:   v.SalesExecutiveID,
		SalesExecutiveName: v.SalesExecutiveName,
		AssignmentHistory:  assignments,
		Version:            v.Version,
		LastModifiedBy:     v.LastModifiedBy,
		LastModifiedAt:     v.LastModifiedAt.Format(time.RFC3339),
		CreatedAt:          v.CreatedAt.Format(time.RFC3339),
	}
}

func toVisitorListResponse(items []*domain.Visitor, total, page, pageSize int) transport.VisitorListResponse {
	responses := make([]transport.VisitorResponse, len(items))
	for i, item := range items {
		responses[i] = ToVisitorResponse(item)
	}
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return transport.VisitorListResponse{
		Items:      responses,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
