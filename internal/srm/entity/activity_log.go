package entity

import "time"

// ActivityLog 采购操作日志
type ActivityLog struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"`
	EntityType string `json:"entity_type" gorm:"size:50;not null;index:idx_activity_entity"` // po/catalog
	EntityID   string `json:"entity_id" gorm:"size:100;not null;index:idx_activity_entity"`
	EntityCode string `json:"entity_code" gorm:"size:50"`

	Action     string `json:"action" gorm:"size:50;not null"`
	FromStatus string `json:"from_status" gorm:"size:20"`
	ToStatus   string `json:"to_status" gorm:"size:20"`

	Content  string `json:"content" gorm:"type:text"`
	Metadata JSONB  `json:"metadata" gorm:"type:jsonb"`

	OperatorID string    `json:"operator_id" gorm:"size:64"`
	CreatedAt  time.Time `json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "srm_activity_logs"
}

// 操作类型
const (
	EntityTypePO      = "po"
	EntityTypeCatalog = "catalog"

	ActionCreate       = "create"
	ActionUpdateHeader = "update_header"
	ActionAddLine      = "add_line"
	ActionUpdateLine   = "update_line"
	ActionRemoveLine   = "remove_line"
	ActionStatusChange = "status_change"
	ActionAnnotate     = "annotate"
	ActionImport       = "import"
)
