package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Stage is one named step of the visitor lifecycle.
type Stage string

const (
	StageEnquiryRequired        Stage = "enquiry_required"
	StageContactInitiated       Stage = "contact_initiated"
	StageFeasibilityCheck       Stage = "feasibility_check"
	StageQualified              Stage = "qualified"
	StageQuotationSent          Stage = "quotation_sent"
	StageNegotiation            Stage = "negotiation"
	StageConverted              Stage = "converted"
	StagePOReceived             Stage = "po_received"
	StageAdvancePaymentReceived Stage = "advance_payment_received"
	StageSamplingScheduled      Stage = "sampling_scheduled"
	StageSampleCollected        Stage = "sample_collected"
	StageSampleReceivedAtLab    Stage = "sample_received_at_lab"
	StageTestingInProgress      Stage = "testing_in_progress"
	StageTestingCompleted       Stage = "testing_completed"
	StageReportDrafted          Stage = "report_drafted"
	StageReportApproved         Stage = "report_approved"
	StageReportSoftcopySent     Stage = "report_softcopy_sent"
	StageReportHardcopySent     Stage = "report_hardcopy_sent"

	// StageUnqualified is a side state reachable from any stage. It has no
	// rank in the main order.
	StageUnqualified Stage = "unqualified"
)

// ErrUnknownStage is returned for stage names outside the canonical set.
var ErrUnknownStage = errors.New("unknown pipeline stage")

var orderedStages = []Stage{
	StageEnquiryRequired,
	StageContactInitiated,
	StageFeasibilityCheck,
	StageQualified,
	StageQuotationSent,
	StageNegotiation,
	StageConverted,
	StagePOReceived,
	StageAdvancePaymentReceived,
	StageSamplingScheduled,
	StageSampleCollected,
	StageSampleReceivedAtLab,
	StageTestingInProgress,
	StageTestingCompleted,
	StageReportDrafted,
	StageReportApproved,
	StageReportSoftcopySent,
	StageReportHardcopySent,
}

var stageRank = func() map[Stage]int {
	ranks := make(map[Stage]int, len(orderedStages))
	for i, s := range orderedStages {
		ranks[s] = i
	}
	return ranks
}()

// Stages returns the ranked stages in canonical order.
func Stages() []Stage {
	out := make([]Stage, len(orderedStages))
	copy(out, orderedStages)
	return out
}

// ParseStage validates raw against the canonical stages and the
// unqualified side state.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.TrimSpace(raw))
	if !s.IsKnown() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, raw)
	}
	return s, nil
}

// IsKnown reports whether s is a ranked stage or unqualified.
func (s Stage) IsKnown() bool {
	if s == StageUnqualified {
		return true
	}
	_, ok := stageRank[s]
	return ok
}

// Rank returns the position of s in the canonical order. ok is false for
// unqualified and unknown names.
func (s Stage) Rank() (int, bool) {
	r, ok := stageRank[s]
	return r, ok
}

// sortKey orders history entries: ranked stages by rank, then unqualified.
func (s Stage) sortKey() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return len(orderedStages)
}

// UnqualifiedPolicy decides how the unqualified side state compares in
// at-or-beyond filters.
type UnqualifiedPolicy int

const (
	// UnqualifiedExcluded treats unqualified as outside the order: it never
	// matches a ranked threshold and only matches an unqualified threshold.
	UnqualifiedExcluded UnqualifiedPolicy = iota
	// UnqualifiedRankZero treats unqualified as rank 0, the same as the
	// first stage.
	UnqualifiedRankZero
)

// ParseUnqualifiedPolicy reads the configured policy name.
func ParseUnqualifiedPolicy(raw string) (UnqualifiedPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "excluded":
		return UnqualifiedExcluded, nil
	case "rank_zero", "rank0":
		return UnqualifiedRankZero, nil
	default:
		return UnqualifiedExcluded, fmt.Errorf("unknown unqualified policy %q", raw)
	}
}

func (p UnqualifiedPolicy) String() string {
	if p == UnqualifiedRankZero {
		return "rank_zero"
	}
	return "excluded"
}

// IsAtOrBeyond reports whether status has reached threshold in canonical order.
func IsAtOrBeyond(status, threshold Stage, policy UnqualifiedPolicy) bool {
	if !status.IsKnown() || !threshold.IsKnown() {
		return false
	}

	statusRank, statusRanked := status.Rank()
	thresholdRank, thresholdRanked := threshold.Rank()

	if policy == UnqualifiedRankZero {
		if !statusRanked {
			statusRank = 0
		}
		if !thresholdRanked {
			thresholdRank = 0
		}
		return statusRank >= thresholdRank
	}

	if !thresholdRanked {
		return status == StageUnqualified
	}
	if !statusRanked {
		return false
	}
	return statusRank >= thresholdRank
}

// IsConverted reports whether status is at or beyond the converted stage.
func IsConverted(status Stage, policy UnqualifiedPolicy) bool {
	return IsAtOrBeyond(status, StageConverted, policy)
}

// StagesAtOrBeyond lists every known stage matching threshold under policy.
// Used to turn a threshold filter into a set filter for the store.
func StagesAtOrBeyond(threshold Stage, policy UnqualifiedPolicy) []Stage {
	candidates := append(Stages(), StageUnqualified)
	out := make([]Stage, 0, len(candidates))
	for _, s := range candidates {
		if IsAtOrBeyond(s, threshold, policy) {
			out = append(out, s)
		}
	}
	return out
}
