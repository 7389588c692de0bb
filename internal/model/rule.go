package model

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm/schema"
)

// Assignment strategies.
const (
	StrategyRoundRobin  = "round_robin"
	StrategyLeastLoaded = "least_loaded"
	StrategyFixedUser   = "fixed_user"
)

// AutoAssignRule describes one assignment rule. Rules are evaluated in
// ascending priority order and the first full predicate match wins.
// A rule with no predicates set matches everything.
type AutoAssignRule struct {
	ID       int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID int64 `json:"tenant_id" gorm:"column:tenant_id;index"`
	Priority int   `json:"priority" gorm:"column:priority;index"`
	IsActive bool  `json:"is_active" gorm:"column:is_active;default:true"`

	MatchCity       string `json:"match_city,omitempty" gorm:"column:match_city"`
	MatchLanguage   string `json:"match_language,omitempty" gorm:"column:match_language"`
	MatchObjectType string `json:"match_object_type,omitempty" gorm:"column:match_object_type"`
	MatchContains   string `json:"match_contains,omitempty" gorm:"column:match_contains"`

	// Inclusive hour-of-day window in the tenant's timezone, nil = unbounded.
	TimeFrom *int `json:"time_from,omitempty" gorm:"column:time_from"`
	TimeTo   *int `json:"time_to,omitempty" gorm:"column:time_to"`
	// ISO weekday numbers, comma separated ("1,2,3,4,5").
	DaysOfWeek string `json:"days_of_week,omitempty" gorm:"column:days_of_week"`

	Strategy    string `json:"strategy" gorm:"column:strategy"`
	FixedUserID *int64 `json:"fixed_user_id,omitempty" gorm:"column:fixed_user_id"`

	// Round-robin cursor, advanced only through an atomic increment.
	RRCursor int64 `json:"rr_cursor" gorm:"column:rr_cursor"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (AutoAssignRule) TableName(namer schema.Namer) string {
	return namer.TableName("auto_assign_rules")
}

// GetUpdatableFields returns the column names that can be updated during an ON CONFLICT clause.
func (r *AutoAssignRule) GetUpdatableFields() []string {
	return []string{
		"priority", "is_active", "match_city", "match_language",
		"match_object_type", "match_contains", "time_from", "time_to",
		"days_of_week", "strategy", "fixed_user_id", "updated_at",
	}
}

// DaysOfWeekList parses the comma separated ISO weekday numbers.
// Malformed entries are skipped.
func (r *AutoAssignRule) DaysOfWeekList() []int {
	if r.DaysOfWeek == "" {
		return nil
	}
	parts := strings.Split(r.DaysOfWeek, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 || n > 7 {
			continue
		}
		days = append(days, n)
	}
	return days
}
