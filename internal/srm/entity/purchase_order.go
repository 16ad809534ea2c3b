package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/haseebsahi/refinery-po-system/internal/shared/apperr"
	"github.com/shopspring/decimal"
)

// PurchaseOrder 采购订单（一致性边界：抬头、行项、金额、状态都经由它修改）
type PurchaseOrder struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	PONumber string `json:"po_number" gorm:"size:32;uniqueIndex;not null"`

	// 供应商锁：有行项时不可变更；行项清空后解除
	Supplier       string `json:"supplier" gorm:"size:255;not null;index"`
	SupplierLocked bool   `json:"supplier_locked" gorm:"not null"`

	// 抬头
	Requestor    string  `json:"requestor" gorm:"size:255;not null"`
	CostCenter   string  `json:"cost_center" gorm:"size:100"`
	NeededByDate *string `json:"needed_by_date" gorm:"size:10"` // YYYY-MM-DD
	PaymentTerms string  `json:"payment_terms" gorm:"size:50;not null"`

	CurrentStatus POStatus        `json:"current_status" gorm:"size:20;not null;index"`
	TotalAmount   decimal.Decimal `json:"total_amount" gorm:"type:decimal(20,2);not null"`

	IdempotencyKey *string `json:"idempotency_key,omitempty" gorm:"size:64;uniqueIndex"`

	CreatedBy string    `json:"created_by" gorm:"size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	LineItems     []POLineItem    `json:"line_items" gorm:"foreignKey:POID"`
	StatusHistory []POStatusEntry `json:"status_history" gorm:"foreignKey:POID"`
}

func (PurchaseOrder) TableName() string {
	return "srm_purchase_orders"
}

// POLineItem PO行项，单价在加入时从目录快照
type POLineItem struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	POID          string          `json:"po_id" gorm:"size:36;not null;uniqueIndex:idx_po_line_catalog_item"`
	CatalogItemID string          `json:"catalog_item_id" gorm:"size:100;not null;uniqueIndex:idx_po_line_catalog_item"`
	ItemName      string          `json:"item_name" gorm:"size:255"`
	Supplier      string          `json:"supplier" gorm:"size:255;not null"`
	Quantity      int             `json:"quantity" gorm:"not null"`
	UnitPrice     decimal.Decimal `json:"unit_price" gorm:"type:decimal(12,2);not null"`
	SortOrder     int             `json:"sort_order" gorm:"default:0"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (POLineItem) TableName() string {
	return "srm_po_line_items"
}

// LineTotal 行金额
func (l POLineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// POStatusEntry 状态历史，只追加
type POStatusEntry struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	POID           string    `json:"po_id" gorm:"size:36;not null;index"`
	Seq            int       `json:"seq" gorm:"not null"`
	Status         POStatus  `json:"status" gorm:"size:20;not null"`
	Note           *string   `json:"note" gorm:"size:1000"`
	OperatorID     string    `json:"operator_id" gorm:"size:64"`
	TransitionedAt time.Time `json:"transitioned_at" gorm:"not null"`
}

func (POStatusEntry) TableName() string {
	return "srm_po_status_history"
}

// ItemSnapshot 目录项在某一时刻的快照
type ItemSnapshot struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	Supplier  string          `json:"supplier"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Header 抬头字段
type Header struct {
	Requestor    string
	CostCenter   string
	NeededByDate *string
	PaymentTerms string
}

// HeaderPatch 仅包含请求中出现的字段
type HeaderPatch struct {
	Requestor    *string
	CostCenter   *string
	NeededByDate *string // 空字符串表示清除
	PaymentTerms *string
}

// IsEmpty 没有任何字段
func (p HeaderPatch) IsEmpty() bool {
	return p.Requestor == nil && p.CostCenter == nil && p.NeededByDate == nil && p.PaymentTerms == nil
}

const (
	MinLineQuantity     = 1
	MaxLineQuantity     = 10000
	DefaultPaymentTerms = "Net 30"
)

// NewDraftPO 新建草稿PO，供应商在创建时锁定，历史以 Draft 开始
func NewDraftPO(supplier string, h Header, operatorID string, at time.Time) *PurchaseOrder {
	po := &PurchaseOrder{
		ID:             uuid.New().String(),
		Supplier:       supplier,
		SupplierLocked: true,
		Requestor:      h.Requestor,
		CostCenter:     h.CostCenter,
		NeededByDate:   h.NeededByDate,
		PaymentTerms:   h.PaymentTerms,
		CurrentStatus:  POStatusDraft,
		TotalAmount:    decimal.Zero,
		CreatedBy:      operatorID,
	}
	if po.PaymentTerms == "" {
		po.PaymentTerms = DefaultPaymentTerms
	}
	po.appendHistory(POStatusDraft, nil, operatorID, at)
	return po
}

// IsDraft 是否草稿
func (po *PurchaseOrder) IsDraft() bool {
	return po.CurrentStatus == POStatusDraft
}

// EnsureDraft 抬头与行项只能在草稿状态修改
func (po *PurchaseOrder) EnsureDraft(action string) error {
	if !po.IsDraft() {
		return apperr.New(apperr.KindInvalidState, "Can only %s Draft POs (status is %s)", action, po.CurrentStatus)
	}
	return nil
}

// ApplyHeader 应用抬头修改（字段已校验）
func (po *PurchaseOrder) ApplyHeader(p HeaderPatch) error {
	if err := po.EnsureDraft("update"); err != nil {
		return err
	}
	if p.Requestor != nil {
		po.Requestor = *p.Requestor
	}
	if p.CostCenter != nil {
		po.CostCenter = *p.CostCenter
	}
	if p.NeededByDate != nil {
		if *p.NeededByDate == "" {
			po.NeededByDate = nil
		} else {
			d := *p.NeededByDate
			po.NeededByDate = &d
		}
	}
	if p.PaymentTerms != nil {
		po.PaymentTerms = *p.PaymentTerms
		if po.PaymentTerms == "" {
			po.PaymentTerms = DefaultPaymentTerms
		}
	}
	return nil
}

// LatestEntry 最近一条历史
func (po *PurchaseOrder) LatestEntry() *POStatusEntry {
	var latest *POStatusEntry
	for i := range po.StatusHistory {
		if latest == nil || po.StatusHistory[i].Seq > latest.Seq {
			latest = &po.StatusHistory[i]
		}
	}
	return latest
}

func (po *PurchaseOrder) appendHistory(status POStatus, note *string, operatorID string, at time.Time) *POStatusEntry {
	seq := 1
	if latest := po.LatestEntry(); latest != nil {
		seq = latest.Seq + 1
	}
	po.StatusHistory = append(po.StatusHistory, POStatusEntry{
		ID:             uuid.New().String(),
		POID:           po.ID,
		Seq:            seq,
		Status:         status,
		Note:           note,
		OperatorID:     operatorID,
		TransitionedAt: at,
	})
	return &po.StatusHistory[len(po.StatusHistory)-1]
}
