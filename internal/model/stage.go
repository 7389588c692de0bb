package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// TenantStage is one column of a tenant's pipeline. (tenant_id,
// stage_key) is unique; order_index defines the board order.
type TenantStage struct {
	ID       int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID int64  `json:"tenant_id" gorm:"column:tenant_id;uniqueIndex:idx_tenant_stage_key"`
	StageKey string `json:"stage_key" gorm:"column:stage_key;uniqueIndex:idx_tenant_stage_key"`

	TitleRu    string `json:"title_ru" gorm:"column:title_ru"`
	TitleKz    string `json:"title_kz" gorm:"column:title_kz"`
	Color      string `json:"color" gorm:"column:color;default:#94a3b8"`
	OrderIndex int    `json:"order_index" gorm:"column:order_index"`

	// Optional AI category key. Automatic transitions resolve the
	// model's category through this mapping.
	AICategory string `json:"ai_category,omitempty" gorm:"column:ai_category"`

	IsActive  bool      `json:"is_active" gorm:"column:is_active;default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (TenantStage) TableName(namer schema.Namer) string {
	return namer.TableName("tenant_stages")
}

// GetUpdatableFields returns the column names that can be updated during an ON CONFLICT clause.
func (s *TenantStage) GetUpdatableFields() []string {
	return []string{
		"title_ru", "title_kz", "color", "order_index", "ai_category",
		"is_active", "updated_at",
	}
}

// DefaultStages is the seed pipeline for a new tenant.
func DefaultStages(tenantID int64) []TenantStage {
	seed := []struct {
		key, ru, kz, color, category string
	}{
		{"unsorted", "Неразобранное", "Сұрыпталмаған", "#94a3b8", ""},
		{"in_progress", "В работе", "Жұмыста", "#3b82f6", "in_work"},
		{"qualified", "Квалифицирован", "Білікті", "#eab308", "qualified"},
		{"won", "Успешно", "Сәтті", "#22c55e", "success"},
		{"lost", "Закрыто", "Жабық", "#ef4444", "lost"},
	}
	return buildStageSeed(tenantID, seed)
}

// WhatsAppStages is the longer channel-specific seed pipeline.
func WhatsAppStages(tenantID int64) []TenantStage {
	seed := []struct {
		key, ru, kz, color, category string
	}{
		{"no_reply", "Нет ответа", "Жауап жоқ", "#94a3b8", "no_reply"},
		{"in_work", "В работе", "Жұмыста", "#3b82f6", "in_work"},
		{"partial_data", "Частичные данные", "Ішінара деректер", "#a855f7", "partial_data"},
		{"full_data", "Полные данные", "Толық деректер", "#6366f1", "full_data"},
		{"wants_call", "Просит звонок", "Қоңырау сұрайды", "#f97316", "wants_call"},
		{"measurement_scheduled", "Замер назначен", "Өлшеу белгіленді", "#eab308", "measurement_scheduled"},
		{"success", "Успешно", "Сәтті", "#22c55e", "success"},
		{"lost", "Потеряно", "Жоғалған", "#ef4444", "lost"},
	}
	return buildStageSeed(tenantID, seed)
}

func buildStageSeed(tenantID int64, seed []struct {
	key, ru, kz, color, category string
}) []TenantStage {
	stages := make([]TenantStage, 0, len(seed))
	for i, s := range seed {
		stages = append(stages, TenantStage{
			TenantID:   tenantID,
			StageKey:   s.key,
			TitleRu:    s.ru,
			TitleKz:    s.kz,
			Color:      s.color,
			OrderIndex: i,
			AICategory: s.category,
			IsActive:   true,
		})
	}
	return stages
}
