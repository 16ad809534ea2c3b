package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// CatalogItem 设备目录项（采购核心只读）
type CatalogItem struct {
	ID           string          `json:"id" gorm:"primaryKey;size:100"`
	Name         string          `json:"name" gorm:"size:255;not null"`
	Category     string          `json:"category" gorm:"size:100;index"`
	Supplier     string          `json:"supplier" gorm:"size:255;not null;index"`
	Manufacturer string          `json:"manufacturer" gorm:"size:255"`
	Model        string          `json:"model" gorm:"size:255"`
	Description  string          `json:"description" gorm:"type:text"`
	PriceUSD     decimal.Decimal `json:"price_usd" gorm:"type:decimal(12,2);not null"`
	LeadTimeDays int             `json:"lead_time_days"`
	InStock      bool            `json:"in_stock"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (CatalogItem) TableName() string {
	return "srm_catalog_items"
}

// Snapshot 当前价格与供应商
func (c CatalogItem) Snapshot() ItemSnapshot {
	return ItemSnapshot{
		ItemID:    c.ID,
		Name:      c.Name,
		Supplier:  c.Supplier,
		UnitPrice: c.PriceUSD,
	}
}
