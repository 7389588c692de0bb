package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Lead statuses.
const (
	LeadStatusNew        = "new"
	LeadStatusInProgress = "in_progress"
	LeadStatusDone       = "done"
	LeadStatusCancelled  = "cancelled"
)

// Handoff modes. Human handoff stops automated follow-ups.
const (
	HandoffAI    = "ai"
	HandoffHuman = "human"
)

// Lead is a sales request. Numbering is per group: the tenant when set,
// otherwise the owning staff user for tenant-less guest traffic.
// (group, seq_number) is unique; dedup keys are (tenant, external_id)
// and the normalized phone within a trailing window.
type Lead struct {
	ID       int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID *int64 `json:"tenant_id,omitempty" gorm:"column:tenant_id;index:idx_leads_group"`
	OwnerID  int64  `json:"owner_id" gorm:"column:owner_id;index:idx_leads_group"`

	// Per-group sequence number, assigned atomically at creation.
	SeqNumber int64 `json:"lead_number" gorm:"column:seq_number"`

	ConversationID *int64  `json:"conversation_id,omitempty" gorm:"column:conversation_id;index"`
	ExternalID     *string `json:"external_id,omitempty" gorm:"column:external_id;index"`
	Source         string  `json:"source,omitempty" gorm:"column:source"`

	Name       string `json:"name" gorm:"column:name"`
	Phone      string `json:"phone" gorm:"column:phone;index"`
	City       string `json:"city,omitempty" gorm:"column:city"`
	ObjectType string `json:"object_type,omitempty" gorm:"column:object_type"`
	Area       string `json:"area,omitempty" gorm:"column:area"`
	Summary    string `json:"summary,omitempty" gorm:"column:summary"`
	Language   string `json:"language,omitempty" gorm:"column:language;default:ru"`

	// AI-derived classification; the category feeds the tenant's
	// category→stage mapping.
	AICategory string   `json:"ai_category,omitempty" gorm:"column:ai_category;index"`
	AIScore    *float64 `json:"ai_score,omitempty" gorm:"column:ai_score"`

	Status         string `json:"status" gorm:"column:status;default:new"`
	StageKey       string `json:"stage_key" gorm:"column:stage_key;index"`
	StageAutoMoved bool   `json:"stage_auto_moved" gorm:"column:stage_auto_moved"`
	HandoffMode    string `json:"handoff_mode" gorm:"column:handoff_mode;default:ai"`

	AssignedUserID  *int64     `json:"assigned_user_id,omitempty" gorm:"column:assigned_user_id;index"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty" gorm:"column:assigned_at"`
	FirstAssignedAt *time.Time `json:"first_assigned_at,omitempty" gorm:"column:first_assigned_at"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Lead) TableName(namer schema.Namer) string {
	return namer.TableName("leads")
}

// GetUpdatableFields returns the column names that can be updated during an ON CONFLICT clause.
func (l *Lead) GetUpdatableFields() []string {
	return []string{
		"name", "phone", "city", "object_type", "area", "summary", "language",
		"ai_category", "ai_score",
		"status", "stage_key", "stage_auto_moved", "handoff_mode",
		"assigned_user_id", "assigned_at", "first_assigned_at", "updated_at",
	}
}

// GroupTenantID returns the numbering-group tenant id, 0 for the owner group.
func (l *Lead) GroupTenantID() int64 {
	if l.TenantID != nil {
		return *l.TenantID
	}
	return 0
}

// LeadEvent is an append-only audit record of lead mutations.
type LeadEvent struct {
	ID          int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID    *int64         `json:"tenant_id,omitempty" gorm:"column:tenant_id;index"`
	LeadID      int64          `json:"lead_id" gorm:"column:lead_id;index"`
	EventType   string         `json:"event_type" gorm:"column:event_type"`
	ActorUserID *int64         `json:"actor_user_id,omitempty" gorm:"column:actor_user_id"`
	Payload     datatypes.JSON `json:"payload,omitempty" gorm:"type:jsonb;column:payload"`
	CreatedAt   time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (LeadEvent) TableName(namer schema.Namer) string {
	return namer.TableName("lead_events")
}
