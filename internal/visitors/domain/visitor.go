// Package domain holds the visitor entity and its pipeline rules.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"leadflow_backend/internal/taxonomy"

	"github.com/google/uuid"
)

const (
	// SystemActor is recorded for changes made by the backend itself.
	SystemActor = "system"
	// AutoFilledNote marks history entries created by backfill.
	AutoFilledNote = "auto-filled"
)

// PipelineEntry records when a visitor reached a stage.
type PipelineEntry struct {
	Status    Stage     `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
	ChangedBy string    `json:"changedBy"`
	Notes     string    `json:"notes"`
}

// Visitor is an enquiry collected by the chatbot or entered by staff.
type Visitor struct {
	ID  uuid.UUID
	Seq int64

	Name       string
	Email      *string
	Phone      *string
	Service    string
	Subservice string
	Region     string
	Source     string

	Status          Stage
	PipelineHistory []PipelineEntry

	AssignedAgentID    *uuid.UUID
	AssignedAgentName  string
	SalesExecutiveID   *uuid.UUID
	SalesExecutiveName string
	AssignmentHistory  []AssignmentEvent

	Version        int
	LastModifiedBy string
	LastModifiedAt time.Time
	CreatedAt      time.Time
}

// NewVisitorParams carries the fields captured at first contact.
type NewVisitorParams struct {
	Name       string
	Email      *string
	Phone      *string
	Service    string
	Subservice string
	Region     string
	Source     string
}

// NewVisitor creates a visitor at the first stage. Creation is not counted
// as a mutation: the version starts at 1.
func NewVisitor(p NewVisitorParams, createdBy string, now time.Time) *Visitor {
	if strings.TrimSpace(createdBy) == "" {
		createdBy = SystemActor
	}
	source := strings.TrimSpace(p.Source)
	if source == "" {
		source = "chatbot"
	}
	return &Visitor{
		ID:         uuid.New(),
		Name:       strings.TrimSpace(p.Name),
		Email:      p.Email,
		Phone:      p.Phone,
		Service:    strings.TrimSpace(p.Service),
		Subservice: strings.TrimSpace(p.Subservice),
		Region:     strings.TrimSpace(p.Region),
		Source:     source,
		Status:     StageEnquiryRequired,
		PipelineHistory: []PipelineEntry{{
			Status:    StageEnquiryRequired,
			ChangedAt: now,
			ChangedBy: createdBy,
			Notes:     "Enquiry received",
		}},
		Version:        1,
		LastModifiedBy: createdBy,
		LastModifiedAt: now,
		CreatedAt:      now,
	}
}

// Category derives the canonical service category. It is never stored.
func (v *Visitor) Category() taxonomy.Category {
	return taxonomy.ResolveVisitor(v.Service, v.Subservice)
}

// ApplyStatus moves the visitor to target. Every ranked stage before target
// that is missing from the history is backfilled as a system entry, so the
// recorded stages always form a prefix of the canonical order. Revisiting a
// stage refreshes its timestamp and actor; its notes change only when notes
// are given explicitly. Entries are never removed.
func (v *Visitor) ApplyStatus(target Stage, changedBy string, notes *string, now time.Time) error {
	if !target.IsKnown() {
		return fmt.Errorf("%w: %q", ErrUnknownStage, string(target))
	}
	changedBy = strings.TrimSpace(changedBy)
	if changedBy == "" {
		changedBy = SystemActor
	}

	explicit := ""
	if notes != nil {
		explicit = strings.TrimSpace(*notes)
	}

	present := make(map[Stage]int, len(v.PipelineHistory))
	for i, e := range v.PipelineHistory {
		present[e.Status] = i
	}

	if rank, ok := target.Rank(); ok {
		for _, s := range orderedStages[:rank] {
			if _, seen := present[s]; seen {
				continue
			}
			v.PipelineHistory = append(v.PipelineHistory, PipelineEntry{
				Status:    s,
				ChangedAt: now,
				ChangedBy: SystemActor,
				Notes:     AutoFilledNote,
			})
		}
	}

	if i, seen := present[target]; seen {
		entry := &v.PipelineHistory[i]
		entry.ChangedAt = now
		entry.ChangedBy = changedBy
		if explicit != "" {
			entry.Notes = explicit
		}
	} else {
		note := explicit
		if note == "" {
			note = "Moved to " + string(target)
		}
		v.PipelineHistory = append(v.PipelineHistory, PipelineEntry{
			Status:    target,
			ChangedAt: now,
			ChangedBy: changedBy,
			Notes:     note,
		})
	}

	sort.SliceStable(v.PipelineHistory, func(i, j int) bool {
		return v.PipelineHistory[i].Status.sortKey() < v.PipelineHistory[j].Status.sortKey()
	})

	v.Status = target
	v.touch(changedBy, now)
	return nil
}

// HistoryEntry returns the recorded entry for stage, if any.
func (v *Visitor) HistoryEntry(stage Stage) (PipelineEntry, bool) {
	for _, e := range v.PipelineHistory {
		if e.Status == stage {
			return e, true
		}
	}
	return PipelineEntry{}, false
}

func (v *Visitor) touch(by string, now time.Time) {
	v.Version++
	v.LastModifiedBy = by
	v.LastModifiedAt = now
}

// Clone returns a deep copy.
func (v *Visitor) Clone() *Visitor {
	if v == nil {
		return nil
	}
	c := *v
	c.Email = cloneString(v.Email)
	c.Phone = cloneString(v.Phone)
	c.AssignedAgentID = cloneUUID(v.AssignedAgentID)
	c.SalesExecutiveID = cloneUUID(v.SalesExecutiveID)
	c.PipelineHistory = append([]PipelineEntry(nil), v.PipelineHistory...)
	c.AssignmentHistory = make([]AssignmentEvent, len(v.AssignmentHistory))
	for i, e := range v.AssignmentHistory {
		e.ExecutiveID = cloneUUID(e.ExecutiveID)
		e.PreviousExecutiveID = cloneUUID(e.PreviousExecutiveID)
		c.AssignmentHistory[i] = e
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
