package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// Message roles within a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is one contact's message thread on one channel endpoint.
// The identity triple (channel kind, channel identity, external id) is
// unique per tenant, so repeated get-or-create calls converge on one row.
type Conversation struct {
	ID              int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID        int64       `json:"tenant_id" gorm:"column:tenant_id;uniqueIndex:idx_conversation_identity"`
	ChannelKind     ChannelKind `json:"channel_kind" gorm:"column:channel_kind;uniqueIndex:idx_conversation_identity"`
	ChannelIdentity string      `json:"channel_identity" gorm:"column:channel_identity;uniqueIndex:idx_conversation_identity"`
	ExternalID      string      `json:"external_id" gorm:"column:external_id;uniqueIndex:idx_conversation_identity"`

	ContactName  string `json:"contact_name,omitempty" gorm:"column:contact_name"`
	ContactPhone string `json:"contact_phone,omitempty" gorm:"column:contact_phone;index"`

	LastMessageAt *time.Time `json:"last_message_at,omitempty" gorm:"column:last_message_at"`
	CreatedAt     time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Conversation) TableName(namer schema.Namer) string {
	return namer.TableName("conversations")
}

// GetUpdatableFields returns the column names that can be updated during an ON CONFLICT clause.
func (c *Conversation) GetUpdatableFields() []string {
	return []string{"contact_name", "contact_phone", "last_message_at", "updated_at"}
}

// ConversationMessage is a single stored turn. Insertion order is
// authoritative for history; there is no cross-process sequencing token.
type ConversationMessage struct {
	ID             int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	ConversationID int64          `json:"conversation_id" gorm:"column:conversation_id;index"`
	Role           string         `json:"role" gorm:"column:role"`
	Content        string         `json:"content" gorm:"column:content"`
	Payload        datatypes.JSON `json:"payload,omitempty" gorm:"type:jsonb;column:payload"`
	CreatedAt      time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (ConversationMessage) TableName(namer schema.Namer) string {
	return namer.TableName("conversation_messages")
}

// ChatAIState is the per-chat AI mute flag, keyed by tenant and remote
// chat id. Absence of a row means AI enabled.
type ChatAIState struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID  int64     `json:"tenant_id" gorm:"column:tenant_id;uniqueIndex:idx_chat_ai_state"`
	RemoteJID string    `json:"remote_jid" gorm:"column:remote_jid;uniqueIndex:idx_chat_ai_state"`
	AIEnabled bool      `json:"ai_enabled" gorm:"column:ai_enabled;default:true"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (ChatAIState) TableName(namer schema.Namer) string {
	return namer.TableName("chat_ai_states")
}

// GetUpdatableFields returns the column names that can be updated during an ON CONFLICT clause.
func (s *ChatAIState) GetUpdatableFields() []string {
	return []string{"ai_enabled", "updated_at"}
}
