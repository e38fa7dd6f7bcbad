package model

import "time"

// OverrideAction is a human decision that replaces the system recommendation
// in practice. The system decision stays on record unchanged.
type OverrideAction string

const (
	OverrideProceedAnyway OverrideAction = "proceed_anyway"
	OverrideFixLater      OverrideAction = "fix_later"
	OverrideAbortAnyway   OverrideAction = "abort_anyway"
)

// ParseOverrideAction validates a raw override action.
func ParseOverrideAction(s string) (OverrideAction, bool) {
	switch OverrideAction(s) {
	case OverrideProceedAnyway, OverrideFixLater, OverrideAbortAnyway:
		return OverrideAction(s), true
	}
	return "", false
}

// Override records a reviewer explicitly overriding a recorded decision.
type Override struct {
	ID            string         `json:"id"`
	AuditID       string         `json:"audit_id"`
	Action        OverrideAction `json:"action"`
	Justification string         `json:"justification"`
	ReviewerID    string         `json:"reviewer_id"`
	ReviewedAt    time.Time      `json:"reviewed_at"`
}

// HistoryEntry pairs the system decision with the latest human override.
type HistoryEntry struct {
	AuditID           string    `json:"audit_id"`
	SystemDecision    Decision  `json:"system_decision"`
	Override          *Override `json:"override,omitempty"`
	EffectiveDecision string    `json:"effective_decision"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// NewHistoryEntry resolves the effective decision: the override action when
// present, otherwise the system decision.
func NewHistoryEntry(auditID string, system Decision, o *Override, recordedAt time.Time) HistoryEntry {
	effective := string(system)
	if o != nil {
		effective = string(o.Action)
	}
	return HistoryEntry{
		AuditID:           auditID,
		SystemDecision:    system,
		Override:          o,
		EffectiveDecision: effective,
		RecordedAt:        recordedAt,
	}
}
