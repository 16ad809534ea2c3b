package service

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/haseebsahi/refinery-po-system/internal/shared/apperr"
	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
)

// 字段长度上限
const (
	MaxSupplierLen      = 255
	MaxRequestorLen     = 255
	MaxCostCenterLen    = 100
	MaxPaymentTermsLen  = 50
	MaxNoteLen          = 1000
	MaxCatalogItemIDLen = 100
)

func checkLen(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return apperr.Validation("%s must be <= %d chars", field, max)
	}
	return nil
}

// ValidateDate YYYY-MM-DD 且为真实日期
func ValidateDate(field, value string) error {
	d, err := time.Parse("2006-01-02", value)
	if err != nil || d.Format("2006-01-02") != value {
		return apperr.Validation("%s must be a valid date in YYYY-MM-DD format", field)
	}
	return nil
}

// ValidateIdempotencyKey 幂等键必须是UUID
func ValidateIdempotencyKey(key string) error {
	if _, err := uuid.Parse(key); err != nil || len(key) != 36 {
		return apperr.Validation("x-idempotency-key must be a valid UUID")
	}
	return nil
}

// ParseStatus 解析目标状态
func ParseStatus(value string) (entity.POStatus, error) {
	s := entity.POStatus(strings.TrimSpace(value))
	if !s.Valid() {
		return "", apperr.Validation("status must be one of Draft, Submitted, Approved, Rejected, Fulfilled")
	}
	return s, nil
}

// normalizeNote 去首尾空白；空备注视为未提供
func normalizeNote(note *string) (*string, error) {
	if note == nil {
		return nil, nil
	}
	if err := checkLen("note", *note, MaxNoteLen); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil, nil
	}
	return &trimmed, nil
}

func (r *CreatePORequest) validate() (string, entity.Header, error) {
	supplier := strings.TrimSpace(r.Supplier)
	if supplier == "" {
		return "", entity.Header{}, apperr.Validation("supplier is required (max %d chars)", MaxSupplierLen)
	}
	if err := checkLen("supplier", supplier, MaxSupplierLen); err != nil {
		return "", entity.Header{}, err
	}

	h := entity.Header{
		Requestor:    strings.TrimSpace(r.Requestor),
		CostCenter:   strings.TrimSpace(r.CostCenter),
		PaymentTerms: strings.TrimSpace(r.PaymentTerms),
	}
	if err := checkLen("requestor", h.Requestor, MaxRequestorLen); err != nil {
		return "", entity.Header{}, err
	}
	if err := checkLen("cost_center", h.CostCenter, MaxCostCenterLen); err != nil {
		return "", entity.Header{}, err
	}
	if err := checkLen("payment_terms", h.PaymentTerms, MaxPaymentTermsLen); err != nil {
		return "", entity.Header{}, err
	}
	if r.NeededByDate != nil {
		if d := strings.TrimSpace(*r.NeededByDate); d != "" {
			if err := ValidateDate("needed_by_date", d); err != nil {
				return "", entity.Header{}, err
			}
			h.NeededByDate = &d
		}
	}
	return supplier, h, nil
}

// OptionalString 区分字段缺失、显式 null 与字符串值
type OptionalString struct {
	Set   bool    // 请求中出现了该字段
	Value *string // 显式 null 时为 nil
}

// OptionalOf 带值的字段
func OptionalOf(v string) OptionalString {
	return OptionalString{Set: true, Value: &v}
}

// OptionalNull 显式 null
func OptionalNull() OptionalString {
	return OptionalString{Set: true}
}

func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// trimmed null 视为空串
func (o OptionalString) trimmed() string {
	if o.Value == nil {
		return ""
	}
	return strings.TrimSpace(*o.Value)
}

func (r *UpdatePOHeaderRequest) validate() (entity.HeaderPatch, error) {
	var p entity.HeaderPatch
	if r.Requestor.Set {
		v := r.Requestor.trimmed()
		if v == "" {
			return p, apperr.Validation("requestor must be non-empty (max %d chars)", MaxRequestorLen)
		}
		if err := checkLen("requestor", v, MaxRequestorLen); err != nil {
			return p, err
		}
		p.Requestor = &v
	}
	if r.CostCenter.Set {
		v := r.CostCenter.trimmed()
		if err := checkLen("cost_center", v, MaxCostCenterLen); err != nil {
			return p, err
		}
		p.CostCenter = &v
	}
	if r.NeededByDate.Set {
		v := r.NeededByDate.trimmed()
		if v != "" {
			if err := ValidateDate("needed_by_date", v); err != nil {
				return p, err
			}
		}
		p.NeededByDate = &v
	}
	if r.PaymentTerms.Set {
		v := r.PaymentTerms.trimmed()
		if err := checkLen("payment_terms", v, MaxPaymentTermsLen); err != nil {
			return p, err
		}
		p.PaymentTerms = &v
	}
	if p.IsEmpty() {
		return p, apperr.Validation("no fields to update")
	}
	return p, nil
}

func validateCatalogItemID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", apperr.Validation("catalog_item_id is required")
	}
	if err := checkLen("catalog_item_id", id, MaxCatalogItemIDLen); err != nil {
		return "", err
	}
	return id, nil
}
