package entity

import "gorm.io/gorm"

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&CatalogItem{},
		&PurchaseOrder{},
		&POLineItem{},
		&POStatusEntry{},
		&ActivityLog{},
	)
}
