package dto

import (
	"time"

	"rangescan/internal/core/ranges"
	"rangescan/internal/domain/admin"
	"rangescan/internal/domain/scheduler"
)

// RangeResponse is one range as the admin API shows it.
type RangeResponse struct {
	Key           string `json:"key"`
	DigitWidth    int    `json:"digitWidth"`
	LastAllocated int64  `json:"lastAllocated"`
	MaxValue      int64  `json:"maxValue"`
	Remaining     int64  `json:"remaining"`
	HasSeparator  bool   `json:"hasSeparator"`
	Status        string `json:"status"`
	// LastIdentifier is the most recently allocated identifier, if any.
	LastIdentifier string `json:"lastIdentifier,omitempty"`
}

// FromRange creates RangeResponse from ranges.Range.
func FromRange(r ranges.Range) RangeResponse {
	out := RangeResponse{
		Key:           r.Key,
		DigitWidth:    r.DigitWidth,
		LastAllocated: r.LastAllocated,
		MaxValue:      r.MaxValue(),
		Remaining:     r.Remaining(),
		HasSeparator:  r.HasSeparator,
		Status:        string(r.Status),
	}
	if r.LastAllocated > 0 {
		out.LastIdentifier = r.Identifier(r.LastAllocated)
	}
	return out
}

// RejectedRange is a stored range that failed validation.
type RejectedRange struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// RangeListResponse lists usable and rejected ranges.
type RangeListResponse struct {
	ListResponse[RangeResponse]
	Rejected []RejectedRange `json:"rejected,omitempty"`
}

// CreateRangeRequest for creating ranges.
type CreateRangeRequest struct {
	Key            string `json:"key" binding:"required"`
	DigitWidth     int    `json:"digitWidth" binding:"required,min=1,max=18"`
	HasSeparator   bool   `json:"hasSeparator"`
	StartingNumber int64  `json:"startingNumber" binding:"min=0"`
}

// ToNewRange converts the request to the domain input.
func (r CreateRangeRequest) ToNewRange() ranges.NewRange {
	return ranges.NewRange{
		Key:            r.Key,
		DigitWidth:     r.DigitWidth,
		HasSeparator:   r.HasSeparator,
		StartingNumber: r.StartingNumber,
	}
}

// ChangeStatusRequest for PATCH /ranges/:key/status.
type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// AttemptsResponse counts journaled attempts by result.
type AttemptsResponse struct {
	Key    string           `json:"key"`
	Counts map[string]int64 `json:"counts"`
}

// TransitionResponse is one status write the scheduler made itself.
type TransitionResponse struct {
	Seq    uint64    `json:"seq"`
	Key    string    `json:"key"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// SchedulerStatusResponse is the body of GET /status.
type SchedulerStatusResponse struct {
	Running        bool                 `json:"running"`
	ActiveRangeKey string               `json:"activeRangeKey,omitempty"`
	TotalAllocated int64                `json:"totalAllocated"`
	TotalFound     int64                `json:"totalFound"`
	LookupFailures int64                `json:"lookupFailures"`
	SinkFailures   int64                `json:"sinkFailures"`
	Errors         int64                `json:"errors"`
	Cycles         int64                `json:"cycles"`
	Interrupts     int64                `json:"interrupts"`
	Completed      int64                `json:"completed"`
	SuccessRate    string               `json:"successRate"`
	StartedAt      time.Time            `json:"startedAt"`
	UptimeSeconds  int64                `json:"uptimeSeconds"`
	Transitions    []TransitionResponse `json:"recentTransitions"`
}

// maxTransitions caps the journal tail shown by /status.
const maxTransitions = 20

// FromScheduler builds the status body from the scheduler's bookkeeping.
func FromScheduler(st scheduler.Stats, self scheduler.SelfReport) SchedulerStatusResponse {
	tail := self.Transitions
	if len(tail) > maxTransitions {
		tail = tail[len(tail)-maxTransitions:]
	}
	transitions := make([]TransitionResponse, 0, len(tail))
	for _, t := range tail {
		transitions = append(transitions, TransitionResponse{
			Seq:    t.Seq,
			Key:    t.Key,
			Status: string(t.Status),
			At:     t.At,
		})
	}
	return SchedulerStatusResponse{
		Running:        st.Running,
		ActiveRangeKey: st.ActiveRangeKey,
		TotalAllocated: st.TotalAllocated,
		TotalFound:     st.TotalFound,
		LookupFailures: st.LookupFailures,
		SinkFailures:   st.SinkFailures,
		Errors:         st.Errors,
		Cycles:         st.Cycles,
		Interrupts:     st.Interrupts,
		Completed:      st.Completed,
		SuccessRate:    st.SuccessRate.StringFixed(2),
		StartedAt:      st.StartedAt,
		UptimeSeconds:  st.UptimeSeconds,
		Transitions:    transitions,
	}
}

// SchedulerControlResponse is returned by pause and resume.
type SchedulerControlResponse struct {
	Running bool `json:"running"`
	Changed bool `json:"changed"`
}

// RangeSummaryResponse counts ranges per status.
type RangeSummaryResponse struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"byStatus"`
	Malformed int            `json:"malformed"`
	Allocated int64          `json:"allocated"`
	Remaining int64          `json:"remaining"`
}

// FromSummary maps an admin summary.
func FromSummary(s admin.Summary) RangeSummaryResponse {
	byStatus := make(map[string]int, len(s.ByStatus))
	for st, n := range s.ByStatus {
		byStatus[string(st)] = n
	}
	return RangeSummaryResponse{
		Total:     s.Total,
		ByStatus:  byStatus,
		Malformed: s.Malformed,
		Allocated: s.Allocated,
		Remaining: s.Remaining,
	}
}
