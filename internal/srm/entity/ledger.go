package entity

import (
	"github.com/google/uuid"
	"github.com/haseebsahi/refinery-po-system/internal/shared/apperr"
	"github.com/shopspring/decimal"
)

// 行项账本：每个目录项最多一行，数量上限 MaxLineQuantity，总额只由这里重算。
// 所有规则先校验再修改，失败时 PO 保持原样。

// ValidateQuantity 数量必须是 [1, 10000] 的整数
func ValidateQuantity(qty int) error {
	if qty < MinLineQuantity || qty > MaxLineQuantity {
		return apperr.Validation("quantity must be an integer between %d and %d", MinLineQuantity, MaxLineQuantity)
	}
	return nil
}

// MaxUnitPrice 单价上限，与目录和行项的 decimal(12,2) 列一致
var MaxUnitPrice = decimal.RequireFromString("9999999999.99")

// NormalizeUnitPrice 单价保留两位小数，不能为负或超过 MaxUnitPrice
func NormalizeUnitPrice(price decimal.Decimal) (decimal.Decimal, error) {
	rounded := price.Round(2)
	if price.IsNegative() || rounded.GreaterThan(MaxUnitPrice) {
		return decimal.Zero, apperr.Validation("unit price must be between 0 and %s", MaxUnitPrice.StringFixed(2))
	}
	return rounded, nil
}

// FindLine 按行ID查找
func (po *PurchaseOrder) FindLine(lineID string) *POLineItem {
	for i := range po.LineItems {
		if po.LineItems[i].ID == lineID {
			return &po.LineItems[i]
		}
	}
	return nil
}

// FindLineByItem 按目录项查找
func (po *PurchaseOrder) FindLineByItem(itemID string) *POLineItem {
	for i := range po.LineItems {
		if po.LineItems[i].CatalogItemID == itemID {
			return &po.LineItems[i]
		}
	}
	return nil
}

// AddLine 加入目录项。已有同一目录项时合并数量；created 表示是否新建了行。
func (po *PurchaseOrder) AddLine(item ItemSnapshot, qty int) (line *POLineItem, created bool, err error) {
	if err := ValidateQuantity(qty); err != nil {
		return nil, false, err
	}
	if err := po.EnsureDraft("add lines to"); err != nil {
		return nil, false, err
	}
	price, err := NormalizeUnitPrice(item.UnitPrice)
	if err != nil {
		return nil, false, err
	}
	if po.SupplierLocked && item.Supplier != po.Supplier {
		return nil, false, apperr.New(apperr.KindSupplierMismatch,
			"Supplier mismatch: PO is locked to %q but item %s belongs to %q", po.Supplier, item.ItemID, item.Supplier)
	}

	if existing := po.FindLineByItem(item.ItemID); existing != nil {
		merged := existing.Quantity + qty
		if merged > MaxLineQuantity {
			return nil, false, apperr.New(apperr.KindQuantityExceeded,
				"Total quantity cannot exceed %d (line has %d, adding %d)", MaxLineQuantity, existing.Quantity, qty)
		}
		existing.Quantity = merged
		po.RecomputeTotal()
		return existing, false, nil
	}

	if !po.SupplierLocked {
		po.Supplier = item.Supplier
		po.SupplierLocked = true
	}
	po.LineItems = append(po.LineItems, POLineItem{
		ID:            uuid.New().String(),
		POID:          po.ID,
		CatalogItemID: item.ItemID,
		ItemName:      item.Name,
		Supplier:      item.Supplier,
		Quantity:      qty,
		UnitPrice:     price,
		SortOrder:     po.nextSortOrder(),
	})
	po.RecomputeTotal()
	return &po.LineItems[len(po.LineItems)-1], true, nil
}

// SetLineQuantity 修改行数量
func (po *PurchaseOrder) SetLineQuantity(lineID string, qty int) (*POLineItem, error) {
	if err := ValidateQuantity(qty); err != nil {
		return nil, err
	}
	if err := po.EnsureDraft("modify"); err != nil {
		return nil, err
	}
	line := po.FindLine(lineID)
	if line == nil {
		return nil, apperr.NotFound("Line item not found")
	}
	line.Quantity = qty
	po.RecomputeTotal()
	return line, nil
}

// RemoveLine 删除行；删除最后一行时解除供应商锁
func (po *PurchaseOrder) RemoveLine(lineID string) (POLineItem, error) {
	if err := po.EnsureDraft("modify"); err != nil {
		return POLineItem{}, err
	}
	idx := -1
	for i := range po.LineItems {
		if po.LineItems[i].ID == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return POLineItem{}, apperr.NotFound("Line item not found")
	}

	removed := po.LineItems[idx]
	po.LineItems = append(po.LineItems[:idx], po.LineItems[idx+1:]...)
	if len(po.LineItems) == 0 {
		po.SupplierLocked = false
	}
	po.RecomputeTotal()
	return removed, nil
}

// RecomputeTotal 总额 = Σ 数量×单价
func (po *PurchaseOrder) RecomputeTotal() {
	total := decimal.Zero
	for _, l := range po.LineItems {
		total = total.Add(l.LineTotal())
	}
	po.TotalAmount = total
}

func (po *PurchaseOrder) nextSortOrder() int {
	next := 1
	for _, l := range po.LineItems {
		if l.SortOrder >= next {
			next = l.SortOrder + 1
		}
	}
	return next
}
