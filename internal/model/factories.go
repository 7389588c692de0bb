package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// RandomJSONB generates random JSON data for testing.
func RandomJSONB() datatypes.JSON {
	jsonData := map[string]interface{}{
		"key": gofakeit.Word(),
		"num": gofakeit.Number(1, 100),
	}
	bytes, _ := json.Marshal(jsonData)
	return datatypes.JSON(bytes)
}

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewTenant creates a Tenant with default fake data.
func NewTenant(override func(*Tenant)) *Tenant {
	t := &Tenant{
		ID:             int64(gofakeit.Number(1, 100000)),
		Name:           gofakeit.Company(),
		Slug:           gofakeit.LetterN(8),
		Timezone:       "Asia/Almaty",
		Language:       "ru",
		AIEnabled:      true,
		FollowupDelays: "5,30",
		IsActive:       true,
		CreatedAt:      utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:      utils.Now(),
	}
	if override != nil {
		override(t)
	}
	return t
}

// NewStaff creates a Staff member with default fake data.
func NewStaff(tenantID int64, override func(*Staff)) *Staff {
	s := &Staff{
		ID:        int64(gofakeit.Number(1, 100000)),
		TenantID:  tenantID,
		Name:      gofakeit.Name(),
		Email:     gofakeit.Email(),
		Role:      "manager",
		IsActive:  true,
		CreatedAt: utils.Now(),
		UpdatedAt: utils.Now(),
	}
	if override != nil {
		override(s)
	}
	return s
}

// NewChannelBinding creates a ChannelBinding with default fake data.
func NewChannelBinding(tenantID int64, kind ChannelKind, override func(*ChannelBinding)) *ChannelBinding {
	b := &ChannelBinding{
		ID:          int64(gofakeit.Number(1, 100000)),
		TenantID:    tenantID,
		ChannelKind: kind,
		Identity:    gofakeit.DigitN(15),
		PhoneNumber: "7" + gofakeit.DigitN(10),
		VerifyToken: gofakeit.UUID(),
		IsActive:    true,
		CreatedAt:   utils.Now(),
		UpdatedAt:   utils.Now(),
	}
	if override != nil {
		override(b)
	}
	return b
}

// NewConversation creates a Conversation with default fake data.
func NewConversation(tenantID int64, override func(*Conversation)) *Conversation {
	c := &Conversation{
		ID:              int64(gofakeit.Number(1, 100000)),
		TenantID:        tenantID,
		ChannelKind:     ChannelWhatsAppAPI,
		ChannelIdentity: gofakeit.DigitN(15),
		ExternalID:      "7" + gofakeit.DigitN(10),
		ContactName:     gofakeit.Name(),
		CreatedAt:       utils.Now(),
		UpdatedAt:       utils.Now(),
	}
	if override != nil {
		override(c)
	}
	return c
}

// NewLead creates a Lead with default fake data.
func NewLead(tenantID int64, override func(*Lead)) *Lead {
	tid := tenantID
	l := &Lead{
		ID:        int64(gofakeit.Number(1, 100000)),
		TenantID:  &tid,
		OwnerID:   int64(gofakeit.Number(1, 1000)),
		SeqNumber: int64(gofakeit.Number(1, 500)),
		Name:      gofakeit.Name(),
		Phone:     "7" + gofakeit.DigitN(10),
		City:      gofakeit.City(),
		Language:  "ru",
		Status:    LeadStatusNew,
		StageKey:  "unsorted",
		Source:    string(ChannelWhatsAppAPI),
		CreatedAt: utils.Now(),
		UpdatedAt: utils.Now(),
	}
	if override != nil {
		override(l)
	}
	return l
}

// NewAutoAssignRule creates an AutoAssignRule with default fake data.
func NewAutoAssignRule(tenantID int64, strategy string, override func(*AutoAssignRule)) *AutoAssignRule {
	r := &AutoAssignRule{
		ID:        int64(gofakeit.Number(1, 100000)),
		TenantID:  tenantID,
		Priority:  gofakeit.Number(1, 10),
		IsActive:  true,
		Strategy:  strategy,
		CreatedAt: utils.Now(),
		UpdatedAt: utils.Now(),
	}
	if override != nil {
		override(r)
	}
	return r
}

// NewInboundMessage creates an InboundMessage with default fake data.
func NewInboundMessage(kind ChannelKind, override func(*InboundMessage)) *InboundMessage {
	m := &InboundMessage{
		ChannelKind:     kind,
		ChannelIdentity: gofakeit.DigitN(15),
		ExternalID:      "7" + gofakeit.DigitN(10),
		SenderName:      gofakeit.Name(),
		Text:            gofakeit.Sentence(6),
		Timestamp:       utils.Now(),
		Raw:             datatypes.JSON([]byte(fmt.Sprintf(`{"id":%q}`, gofakeit.UUID()))),
	}
	if override != nil {
		override(m)
	}
	return m
}
