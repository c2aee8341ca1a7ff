package domain

import (
	"time"

	"github.com/google/uuid"
)

// ManifestEntry identifies one record created during commit, in
// creation order. The manifest is everything rollback needs.
type ManifestEntry struct {
	Entity   string    `json:"entity"`
	TargetID uuid.UUID `json:"target_id"`
}

// SideEffect records a post-commit hook outcome (for example a posted
// GL voucher) for audit. Rollback does not reverse side effects, so
// the reference must carry enough to support a manual reversal.
type SideEffect struct {
	Entity    string    `json:"entity"`
	TargetID  uuid.UUID `json:"target_id"`
	Type      string    `json:"type"`
	Reference string    `json:"reference"`
}

// CommitLog is the reversible record of one committed import. Exactly
// one per job, written inside the commit transaction and immutable
// afterwards.
type CommitLog struct {
	ID          uuid.UUID       `json:"id"`
	JobID       uuid.UUID       `json:"job_id"`
	CommittedBy string          `json:"committed_by"`
	CommittedAt time.Time       `json:"committed_at"`
	Created     int             `json:"created"`
	Skipped     int             `json:"skipped"`
	Manifest    []ManifestEntry `json:"manifest"`
	SideEffects []SideEffect    `json:"side_effects,omitempty"`
	Extra       map[string]any  `json:"extra,omitempty"`
}
