package entity

import (
	"time"

	"github.com/haseebsahi/refinery-po-system/internal/shared/apperr"
)

// POStatus PO状态
type POStatus string

const (
	POStatusDraft     POStatus = "Draft"
	POStatusSubmitted POStatus = "Submitted"
	POStatusApproved  POStatus = "Approved"
	POStatusRejected  POStatus = "Rejected"
	POStatusFulfilled POStatus = "Fulfilled"
)

// AllPOStatuses 按生命周期顺序
var AllPOStatuses = []POStatus{
	POStatusDraft,
	POStatusSubmitted,
	POStatusApproved,
	POStatusRejected,
	POStatusFulfilled,
}

// 合法状态迁移；Rejected、Fulfilled 为终态
var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:     {POStatusSubmitted},
	POStatusSubmitted: {POStatusApproved, POStatusRejected},
	POStatusApproved:  {POStatusFulfilled},
	POStatusRejected:  {},
	POStatusFulfilled: {},
}

// Valid 是否为已知状态
func (s POStatus) Valid() bool {
	_, ok := poTransitions[s]
	return ok
}

// IsTerminal 终态不再有出边
func (s POStatus) IsTerminal() bool {
	next, ok := poTransitions[s]
	return ok && len(next) == 0
}

// CanTransition 检查 from -> to 是否在白名单内
func CanTransition(from, to POStatus) bool {
	for _, s := range poTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowedTransitions 返回 from 的所有合法目标状态
func AllowedTransitions(from POStatus) []POStatus {
	allowed := poTransitions[from]
	result := make([]POStatus, len(allowed))
	copy(result, allowed)
	return result
}

// Transition 执行状态迁移并追加历史。备注随迁移一起写入。
func (po *PurchaseOrder) Transition(to POStatus, note *string, operatorID string, at time.Time) (*POStatusEntry, error) {
	if !CanTransition(po.CurrentStatus, to) {
		return nil, apperr.New(apperr.KindInvalidTransition,
			"Invalid status transition from %s to %s", po.CurrentStatus, to)
	}
	if to == POStatusSubmitted && len(po.LineItems) == 0 {
		return nil, apperr.New(apperr.KindEmptyOrder, "Cannot submit PO with no line items")
	}

	po.CurrentStatus = to
	return po.appendHistory(to, note, operatorID, at), nil
}

// AnnotateStatus 兼容旧接口：把备注写到该状态最近的一条历史上（多次调用后写覆盖）
func (po *PurchaseOrder) AnnotateStatus(status POStatus, note string) (*POStatusEntry, error) {
	var target *POStatusEntry
	for i := range po.StatusHistory {
		e := &po.StatusHistory[i]
		if e.Status != status {
			continue
		}
		if target == nil || e.Seq > target.Seq {
			target = e
		}
	}
	if target == nil {
		return nil, apperr.NotFound("No %s entry in status history", status)
	}
	n := note
	target.Note = &n
	return target, nil
}
