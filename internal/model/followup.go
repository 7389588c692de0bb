package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Follow-up row statuses.
const (
	FollowupPending   = "pending"
	FollowupSent      = "sent"
	FollowupCancelled = "cancelled"
)

// Followup is one scheduled outbound nudge for a silent lead. Rows are
// claimed by the worker loop; a failed dispatch leaves the row pending
// so the next tick retries it (at-least-once).
type Followup struct {
	ID             int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID       int64  `json:"tenant_id" gorm:"column:tenant_id;index"`
	LeadID         int64  `json:"lead_id" gorm:"column:lead_id;index"`
	ConversationID int64  `json:"conversation_id" gorm:"column:conversation_id"`
	Step           int    `json:"step" gorm:"column:step"`
	Status         string `json:"status" gorm:"column:status;default:pending;index"`

	ScheduledAt time.Time  `json:"scheduled_at" gorm:"column:scheduled_at;index"`
	SentAt      *time.Time `json:"sent_at,omitempty" gorm:"column:sent_at"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Followup) TableName(namer schema.Namer) string {
	return namer.TableName("followups")
}

// Worker liveness statuses derived from the heartbeat age.
const (
	WorkerRunning = "running"
	WorkerStale   = "stale"
	WorkerUnknown = "unknown"
)

// WorkerHeartbeat is stamped once per scheduler tick. Liveness is
// derived from the row age, never from in-process state.
type WorkerHeartbeat struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	WorkerName string    `json:"worker_name" gorm:"column:worker_name;uniqueIndex"`
	LastBeatAt time.Time `json:"last_beat_at" gorm:"column:last_beat_at"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (WorkerHeartbeat) TableName(namer schema.Namer) string {
	return namer.TableName("worker_heartbeats")
}

// LivenessStatus derives the reportable status from the heartbeat age.
func (h *WorkerHeartbeat) LivenessStatus(now time.Time, staleAfter time.Duration) string {
	if h == nil || h.LastBeatAt.IsZero() {
		return WorkerUnknown
	}
	if now.Sub(h.LastBeatAt) > staleAfter {
		return WorkerStale
	}
	return WorkerRunning
}
