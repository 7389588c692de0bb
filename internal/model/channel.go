package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ChannelKind enumerates the supported inbound channels.
type ChannelKind string

const (
	ChannelWeb          ChannelKind = "web"
	ChannelWhatsAppAPI  ChannelKind = "wa_cloud"
	ChannelWhatsAppGate ChannelKind = "wa_gateway"
)

// ChannelBinding maps a channel-specific identity (Cloud API
// phone_number_id, gateway instance id, web site key) to exactly one
// tenant. Resolution is fail-closed: no binding, no processing.
type ChannelBinding struct {
	ID          int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID    int64       `json:"tenant_id" gorm:"column:tenant_id;index"`
	ChannelKind ChannelKind `json:"channel_kind" gorm:"column:channel_kind;uniqueIndex:idx_channel_identity"`
	Identity    string      `json:"identity" gorm:"column:identity;uniqueIndex:idx_channel_identity"`

	// Display number for WhatsApp bindings.
	PhoneNumber string `json:"phone_number,omitempty" gorm:"column:phone_number"`

	// Shared secret used for the Cloud API verification handshake.
	VerifyToken string `json:"-" gorm:"column:verify_token"`

	IsActive  bool      `json:"is_active" gorm:"column:is_active;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (ChannelBinding) TableName(namer schema.Namer) string {
	return namer.TableName("channel_bindings")
}

// GetUpdatableFields returns the column names that can be updated during an ON CONFLICT clause.
func (b *ChannelBinding) GetUpdatableFields() []string {
	return []string{"tenant_id", "phone_number", "verify_token", "is_active", "updated_at"}
}

// InboundMessage is the normalized shape every channel adapter produces.
// It is never persisted directly; the router decides what to store.
type InboundMessage struct {
	ChannelKind ChannelKind `json:"channel_kind" validate:"required"`
	// Identity of the receiving endpoint within the channel.
	ChannelIdentity string `json:"channel_identity" validate:"required"`
	// Stable contact id within the channel (remote JID, session id).
	ExternalID  string         `json:"external_id" validate:"required"`
	SenderName  string         `json:"sender_name,omitempty"`
	SenderPhone string         `json:"sender_phone,omitempty"`
	Text        string         `json:"text"`
	Timestamp   time.Time      `json:"timestamp"`
	Raw         datatypes.JSON `json:"raw,omitempty"`
}
