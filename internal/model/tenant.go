package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Tenant is a company account. All channel traffic, leads and rules hang
// off a tenant; there is no implicit fallback tenant anywhere.
type Tenant struct {
	ID       int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name     string `json:"name" gorm:"column:name"`
	Slug     string `json:"slug" gorm:"column:slug;uniqueIndex"`
	Timezone string `json:"timezone" gorm:"column:timezone;default:Asia/Almaty"`
	Language string `json:"language" gorm:"column:language;default:ru"`

	// Global AI switch. When false the AI responder never runs for this
	// tenant regardless of per-chat state.
	AIEnabled bool   `json:"ai_enabled" gorm:"column:ai_enabled;default:true"`
	AIPrompt  string `json:"ai_prompt,omitempty" gorm:"column:ai_prompt"`

	// Explicit owner for tenant-less guest traffic on web widgets.
	DefaultOwnerID *int64 `json:"default_owner_id,omitempty" gorm:"column:default_owner_id"`

	// Cumulative follow-up delays in minutes, comma separated ("5,30").
	FollowupDelays string `json:"followup_delays,omitempty" gorm:"column:followup_delays"`

	IsActive  bool      `json:"is_active" gorm:"column:is_active;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Tenant) TableName(namer schema.Namer) string {
	return namer.TableName("tenants")
}

// GetUpdatableFields returns the column names that can be updated during an ON CONFLICT clause.
func (t *Tenant) GetUpdatableFields() []string {
	return []string{
		"name", "timezone", "language", "ai_enabled", "ai_prompt",
		"default_owner_id", "followup_delays", "is_active", "updated_at",
	}
}

// Staff is an operator or manager belonging to a tenant. Only active
// staff are eligible for assignment.
type Staff struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID  int64     `json:"tenant_id" gorm:"column:tenant_id;index"`
	Name      string    `json:"name" gorm:"column:name"`
	Email     string    `json:"email" gorm:"column:email;index"`
	Role      string    `json:"role" gorm:"column:role;default:manager"`
	IsActive  bool      `json:"is_active" gorm:"column:is_active;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Staff) TableName(namer schema.Namer) string {
	return namer.TableName("staffs")
}
