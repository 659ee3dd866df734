// Package domain holds the broker's entity types and enumerations,
// grounded on original_source/models.py.
package domain

import "time"

// ReviewStatus is the review lifecycle's enumerated state.
type ReviewStatus string

const (
	StatusPending          ReviewStatus = "pending"
	StatusClaimed          ReviewStatus = "claimed"
	StatusInReview         ReviewStatus = "in_review"
	StatusApproved         ReviewStatus = "approved"
	StatusChangesRequested ReviewStatus = "changes_requested"
	StatusClosed           ReviewStatus = "closed"
)

// AgentRole distinguishes proposer from reviewer traffic.
type AgentRole string

const (
	RoleProposer AgentRole = "proposer"
	RoleReviewer AgentRole = "reviewer"
)

// Priority is derived once at creation time and never recomputed.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Verdict is the outcome a reviewer submits.
type Verdict string

const (
	VerdictApproved         Verdict = "approved"
	VerdictChangesRequested Verdict = "changes_requested"
	VerdictComment          Verdict = "comment"
)

// CounterPatchStatus tracks a reviewer-offered alternative diff.
type CounterPatchStatus string

const (
	CounterPatchPending  CounterPatchStatus = "pending"
	CounterPatchAccepted CounterPatchStatus = "accepted"
	CounterPatchRejected CounterPatchStatus = "rejected"
)

// ReviewerStatus is the spawned-worker lifecycle state.
type ReviewerStatus string

const (
	ReviewerActive     ReviewerStatus = "active"
	ReviewerDraining   ReviewerStatus = "draining"
	ReviewerTerminated ReviewerStatus = "terminated"
)

// AuditEventType enumerates every event name the broker records.
type AuditEventType string

const (
	EventReviewCreated        AuditEventType = "review_created"
	EventReviewRevised        AuditEventType = "review_revised"
	EventReviewClaimed        AuditEventType = "review_claimed"
	EventReviewAutoRejected   AuditEventType = "review_auto_rejected"
	EventVerdictSubmitted     AuditEventType = "verdict_submitted"
	EventVerdictComment       AuditEventType = "verdict_comment"
	EventReviewClosed         AuditEventType = "review_closed"
	EventCounterPatchAccepted AuditEventType = "counter_patch_accepted"
	EventCounterPatchRejected AuditEventType = "counter_patch_rejected"
	EventMessageSent          AuditEventType = "message_sent"
	EventReviewerSpawned      AuditEventType = "reviewer_spawned"
	EventReviewerDrainStart   AuditEventType = "reviewer_drain_start"
	EventReviewerTerminated   AuditEventType = "reviewer_terminated"
	EventReviewReclaimed      AuditEventType = "review_reclaimed"
	EventReviewDetached       AuditEventType = "review_detached"
)

// BrokerValidatorReviewer is the synthetic claimed_by value set when
// claim_review auto-rejects a review on diff-validation failure.
const BrokerValidatorReviewer = "broker-validator"

// QueueTopic is the distinguished notification-bus topic fired whenever a
// review enters or re-enters pending.
const QueueTopic = "__queue__"

// AffectedFile describes one file touched by a diff.
type AffectedFile struct {
	Path      string `json:"path"`
	Operation string `json:"operation"`
	Added     int    `json:"added"`
	Removed   int    `json:"removed"`
}

// Review is the broker's unit of work.
type Review struct {
	ID                        string
	Status                    ReviewStatus
	Intent                    string
	Description               *string
	Diff                      *string
	AffectedFiles             []AffectedFile
	AgentType                 string
	AgentRole                 AgentRole
	Phase                     string
	Plan                      *string
	Task                      *string
	Project                   *string
	Priority                  Priority
	Category                  *string
	CurrentRound              int
	CounterPatch              *string
	CounterPatchAffectedFiles []AffectedFile
	CounterPatchStatus        *CounterPatchStatus
	ClaimedBy                 *string
	ClaimGeneration           int64
	ClaimedAt                 *time.Time
	SkipDiffValidation        bool
	VerdictReason             *string
	ParentID                  *string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Message is a threaded utterance attached to a review.
type Message struct {
	ID         int64
	ReviewID   string
	SenderRole AgentRole
	Round      int
	Body       string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// AuditEvent is one append-only ledger row.
type AuditEvent struct {
	ID        int64
	ReviewID  *string
	EventType AuditEventType
	Actor     *string
	OldStatus *string
	NewStatus *string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Reviewer is a spawned worker's persisted shadow.
type Reviewer struct {
	ID                 string
	DisplayName        string
	SessionToken       string
	Status             ReviewerStatus
	Pid                *int
	SpawnedAt          time.Time
	LastActiveAt       time.Time
	TerminatedAt       *time.Time
	ReviewsCompleted   int
	Approvals          int
	Rejections         int
	TotalReviewSeconds float64
	ExitCode           *int
}
