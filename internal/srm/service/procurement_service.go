package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haseebsahi/refinery-po-system/internal/shared/apperr"
	"github.com/haseebsahi/refinery-po-system/internal/shared/lock"
	"github.com/haseebsahi/refinery-po-system/internal/srm/archive"
	"github.com/haseebsahi/refinery-po-system/internal/srm/catalog"
	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"github.com/haseebsahi/refinery-po-system/internal/srm/repository"
	"github.com/haseebsahi/refinery-po-system/internal/srm/sse"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// PO编号冲突时的重试次数（多实例且无共享锁时才会发生）
	maxCreateAttempts = 5
	poNumberLockKey   = "po-number"
)

// ProcurementService 采购订单服务：所有订单写操作都经由这里，按订单ID串行
type ProcurementService struct {
	repos    *repository.Repositories
	resolver catalog.Resolver
	locker   lock.Locker
	logger   *zap.Logger

	hub      *sse.Hub
	archiver archive.Archiver

	lockWait            time.Duration
	defaultPaymentTerms string
	now                 func() time.Time

	creates   singleflight.Group
	archiveWG sync.WaitGroup
}

func NewProcurementService(repos *repository.Repositories, resolver catalog.Resolver, locker lock.Locker, logger *zap.Logger) *ProcurementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcurementService{
		repos:               repos,
		resolver:            resolver,
		locker:              locker,
		logger:              logger,
		lockWait:            5 * time.Second,
		defaultPaymentTerms: entity.DefaultPaymentTerms,
		now:                 time.Now,
	}
}

// SetHub 注入事件广播
func (s *ProcurementService) SetHub(hub *sse.Hub) {
	s.hub = hub
}

// SetArchiver 注入提交归档存储
func (s *ProcurementService) SetArchiver(a archive.Archiver) {
	s.archiver = a
}

// SetLockWait 等锁上限
func (s *ProcurementService) SetLockWait(d time.Duration) {
	if d > 0 {
		s.lockWait = d
	}
}

// SetDefaultPaymentTerms 默认付款条件
func (s *ProcurementService) SetDefaultPaymentTerms(terms string) {
	if terms != "" {
		s.defaultPaymentTerms = terms
	}
}

// === 请求结构 ===

// CreatePORequest 创建PO请求
type CreatePORequest struct {
	Supplier     string  `json:"supplier"`
	Requestor    string  `json:"requestor"`
	CostCenter   string  `json:"cost_center"`
	NeededByDate *string `json:"needed_by_date"`
	PaymentTerms string  `json:"payment_terms"`
}

// UpdatePOHeaderRequest 更新抬头请求，只修改出现的字段；null 与空串都表示清除
type UpdatePOHeaderRequest struct {
	Requestor    OptionalString `json:"requestor"`
	CostCenter   OptionalString `json:"cost_center"`
	NeededByDate OptionalString `json:"needed_by_date"`
	PaymentTerms OptionalString `json:"payment_terms"`
}

// AddLineItemRequest 加入行项请求
type AddLineItemRequest struct {
	CatalogItemID string `json:"catalog_item_id"`
	Quantity      int    `json:"quantity"`
}

// ListPOQuery 列表查询
type ListPOQuery struct {
	Status   string
	Supplier string
	Page     int
	PageSize int
}

// === 查询 ===

// GetPO 获取PO详情（含行项与状态历史）
func (s *ProcurementService) GetPO(ctx context.Context, id string) (*entity.PurchaseOrder, error) {
	po, err := s.repos.PO.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, "Purchase order not found")
	}
	return po, nil
}

// ListPOs 获取PO列表
func (s *ProcurementService) ListPOs(ctx context.Context, q ListPOQuery) ([]entity.PurchaseOrder, int64, error) {
	filter := repository.POFilter{Supplier: q.Supplier}
	if q.Status != "" {
		status, err := ParseStatus(q.Status)
		if err != nil {
			return nil, 0, err
		}
		filter.Status = string(status)
	}
	if err := checkLen("supplier", q.Supplier, MaxSupplierLen); err != nil {
		return nil, 0, err
	}

	items, total, err := s.repos.PO.FindAll(ctx, q.Page, q.PageSize, filter)
	if err != nil {
		return nil, 0, s.internal(err, "list purchase orders")
	}
	return items, total, nil
}

// GetCatalogItem 目录项预览
func (s *ProcurementService) GetCatalogItem(ctx context.Context, itemID string) (catalog.Snapshot, error) {
	id, err := validateCatalogItemID(itemID)
	if err != nil {
		return catalog.Snapshot{}, err
	}
	snap, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return catalog.Snapshot{}, apperr.NotFound("Catalog item not found: %s", id)
		}
		return catalog.Snapshot{}, s.internal(err, "resolve catalog item")
	}
	return snap, nil
}

// === 创建（幂等） ===

// CreatePO 创建采购订单。带幂等键时，同一键只会建出一张PO；created=false 表示返回的是已有订单。
func (s *ProcurementService) CreatePO(ctx context.Context, userID string, req *CreatePORequest, idempotencyKey string) (*entity.PurchaseOrder, bool, error) {
	supplier, header, err := req.validate()
	if err != nil {
		return nil, false, err
	}
	if header.PaymentTerms == "" {
		header.PaymentTerms = s.defaultPaymentTerms
	}

	if idempotencyKey == "" {
		return s.createPO(ctx, userID, supplier, header, nil)
	}
	if err := ValidateIdempotencyKey(idempotencyKey); err != nil {
		return nil, false, err
	}

	type result struct {
		po      *entity.PurchaseOrder
		created bool
	}
	v, err, _ := s.creates.Do(idempotencyKey, func() (interface{}, error) {
		unlock, err := s.lock(ctx, "idem:"+idempotencyKey)
		if err != nil {
			return nil, err
		}
		defer unlock()

		existing, err := s.repos.PO.FindByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			return result{po: existing}, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, s.internal(err, "lookup idempotency key")
		}

		key := idempotencyKey
		po, created, err := s.createPO(ctx, userID, supplier, header, &key)
		if err != nil {
			return nil, err
		}
		return result{po: po, created: created}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(result)
	if !res.created {
		s.logger.Info("Idempotent create replayed",
			zap.String("po_id", res.po.ID), zap.String("idempotency_key", idempotencyKey))
	}
	return res.po, res.created, nil
}

func (s *ProcurementService) createPO(ctx context.Context, userID, supplier string, header entity.Header, key *string) (*entity.PurchaseOrder, bool, error) {
	unlock, err := s.lock(ctx, poNumberLockKey)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		now := s.now()
		code, err := s.repos.PO.GenerateCode(ctx, now)
		if err != nil {
			return nil, false, s.internal(err, "生成PO编码失败")
		}

		po := entity.NewDraftPO(supplier, header, userID, now)
		po.PONumber = code
		po.IdempotencyKey = key

		err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
			if err := tx.PO.Create(ctx, po); err != nil {
				return err
			}
			return tx.ActivityLog.LogActivity(ctx, po, entity.ActionCreate, "", string(po.CurrentStatus),
				fmt.Sprintf("创建采购订单 %s", po.PONumber), userID, entity.JSONB{"supplier": po.Supplier})
		})
		if err == nil {
			s.logger.Info("PO created", zap.String("po_id", po.ID), zap.String("po_number", po.PONumber),
				zap.String("supplier", po.Supplier))
			s.publish(sse.EventPOCreated, po, entity.ActionCreate, "")
			return po, true, nil
		}
		if !repository.IsDuplicateKey(err) {
			return nil, false, s.internal(err, "create purchase order")
		}

		// 唯一约束兜底：幂等键冲突说明并发请求已建单
		if key != nil {
			if existing, findErr := s.repos.PO.FindByIdempotencyKey(ctx, *key); findErr == nil {
				return existing, false, nil
			}
		}
		lastErr = err
		s.logger.Warn("PO number collision, retrying", zap.String("po_number", code), zap.Int("attempt", attempt+1))
	}
	return nil, false, s.internal(lastErr, "allocate PO number")
}

// === 抬头 ===

// UpdateHeader 修改抬头（仅草稿）
func (s *ProcurementService) UpdateHeader(ctx context.Context, userID, poID string, req *UpdatePOHeaderRequest) (*entity.PurchaseOrder, error) {
	patch, err := req.validate()
	if err != nil {
		return nil, err
	}
	if patch.PaymentTerms != nil && *patch.PaymentTerms == "" {
		terms := s.defaultPaymentTerms
		patch.PaymentTerms = &terms
	}

	po, err := s.mutate(ctx, poID, func(tx *repository.Repositories, po *entity.PurchaseOrder) error {
		if err := po.ApplyHeader(patch); err != nil {
			return err
		}
		if err := tx.PO.Update(ctx, po); err != nil {
			return err
		}
		return tx.ActivityLog.LogActivity(ctx, po, entity.ActionUpdateHeader, "", "", "修改订单抬头", userID, nil)
	})
	if err != nil {
		return nil, err
	}
	s.publish(sse.EventPOUpdated, po, entity.ActionUpdateHeader, "")
	return po, nil
}

// === 行项 ===

// AddLineItem 加入目录项；同一目录项合并数量
func (s *ProcurementService) AddLineItem(ctx context.Context, userID, poID string, req *AddLineItemRequest) (*entity.POLineItem, error) {
	itemID, err := validateCatalogItemID(req.CatalogItemID)
	if err != nil {
		return nil, err
	}
	if err := entity.ValidateQuantity(req.Quantity); err != nil {
		return nil, err
	}

	// 目录查询在订单锁外进行；先做一次无锁检查，避免为已提交订单查目录
	current, err := s.repos.PO.FindByID(ctx, poID)
	if err != nil {
		return nil, s.translate(err, "Purchase order not found")
	}
	if err := current.EnsureDraft("add lines to"); err != nil {
		return nil, err
	}

	snap, err := s.resolver.Resolve(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrItemNotFound) {
			return nil, apperr.NotFound("Catalog item not found: %s", itemID)
		}
		return nil, s.internal(err, "resolve catalog item")
	}

	var result entity.POLineItem
	po, err := s.mutate(ctx, poID, func(tx *repository.Repositories, po *entity.PurchaseOrder) error {
		line, created, err := po.AddLine(snap, req.Quantity)
		if err != nil {
			return err
		}
		if created {
			err = tx.PO.CreateLine(ctx, line)
		} else {
			err = tx.PO.UpdateLine(ctx, line)
		}
		if err != nil {
			return err
		}
		if err := tx.PO.Update(ctx, po); err != nil {
			return err
		}
		result = *line
		return tx.ActivityLog.LogActivity(ctx, po, entity.ActionAddLine, "", "",
			fmt.Sprintf("加入 %s x%d", itemID, req.Quantity), userID,
			entity.JSONB{"catalog_item_id": itemID, "quantity": line.Quantity, "unit_price": line.UnitPrice.String()})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("PO line added", zap.String("po_id", po.ID), zap.String("catalog_item_id", itemID),
		zap.Int("quantity", result.Quantity), zap.String("total", po.TotalAmount.String()))
	s.publish(sse.EventPOUpdated, po, entity.ActionAddLine, "")
	return &result, nil
}

// UpdateLineItemQuantity 修改行数量
func (s *ProcurementService) UpdateLineItemQuantity(ctx context.Context, userID, poID, lineID string, quantity int) (*entity.POLineItem, error) {
	if err := entity.ValidateQuantity(quantity); err != nil {
		return nil, err
	}

	var result entity.POLineItem
	po, err := s.mutate(ctx, poID, func(tx *repository.Repositories, po *entity.PurchaseOrder) error {
		line, err := po.SetLineQuantity(lineID, quantity)
		if err != nil {
			return err
		}
		if err := tx.PO.UpdateLine(ctx, line); err != nil {
			return err
		}
		if err := tx.PO.Update(ctx, po); err != nil {
			return err
		}
		result = *line
		return tx.ActivityLog.LogActivity(ctx, po, entity.ActionUpdateLine, "", "",
			fmt.Sprintf("修改 %s 数量为 %d", line.CatalogItemID, quantity), userID,
			entity.JSONB{"line_id": lineID, "quantity": quantity})
	})
	if err != nil {
		return nil, err
	}
	s.publish(sse.EventPOUpdated, po, entity.ActionUpdateLine, "")
	return &result, nil
}

// RemoveLineItem 删除行；删除最后一行时解除供应商锁
func (s *ProcurementService) RemoveLineItem(ctx context.Context, userID, poID, lineID string) error {
	po, err := s.mutate(ctx, poID, func(tx *repository.Repositories, po *entity.PurchaseOrder) error {
		removed, err := po.RemoveLine(lineID)
		if err != nil {
			return err
		}
		if err := tx.PO.DeleteLine(ctx, po.ID, removed.ID); err != nil {
			return err
		}
		if err := tx.PO.Update(ctx, po); err != nil {
			return err
		}
		return tx.ActivityLog.LogActivity(ctx, po, entity.ActionRemoveLine, "", "",
			fmt.Sprintf("删除 %s", removed.CatalogItemID), userID,
			entity.JSONB{"line_id": removed.ID, "supplier_locked": po.SupplierLocked})
	})
	if err != nil {
		return err
	}
	s.publish(sse.EventPOUpdated, po, entity.ActionRemoveLine, "")
	return nil
}

// === 状态 ===

// Submit 提交（Draft→Submitted）
func (s *ProcurementService) Submit(ctx context.Context, userID, poID string, note *string) (*entity.PurchaseOrder, error) {
	return s.Transition(ctx, userID, poID, entity.POStatusSubmitted, note)
}

// Transition 状态迁移，备注与迁移一起写入历史
func (s *ProcurementService) Transition(ctx context.Context, userID, poID string, to entity.POStatus, note *string) (*entity.PurchaseOrder, error) {
	if !to.Valid() {
		return nil, apperr.Validation("unknown status %q", to)
	}
	note, err := normalizeNote(note)
	if err != nil {
		return nil, err
	}

	var from entity.POStatus
	po, err := s.mutate(ctx, poID, func(tx *repository.Repositories, po *entity.PurchaseOrder) error {
		from = po.CurrentStatus
		entry, err := po.Transition(to, note, userID, s.now())
		if err != nil {
			return err
		}
		if err := tx.PO.CreateHistory(ctx, entry); err != nil {
			return err
		}
		if err := tx.PO.Update(ctx, po); err != nil {
			return err
		}
		content := fmt.Sprintf("状态变更 %s → %s", from, to)
		return tx.ActivityLog.LogActivity(ctx, po, entity.ActionStatusChange, string(from), string(to), content, userID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("PO status changed", zap.String("po_id", po.ID), zap.String("po_number", po.PONumber),
		zap.String("from", string(from)), zap.String("to", string(to)))
	s.publish(sse.EventPOStatusChanged, po, entity.ActionStatusChange, string(from))
	if to == entity.POStatusSubmitted {
		s.archiveAsync(po)
	}
	return po, nil
}

// AnnotateStatus 兼容旧接口：给该状态最近一条历史补写备注
func (s *ProcurementService) AnnotateStatus(ctx context.Context, userID, poID string, status entity.POStatus, note string) (*entity.PurchaseOrder, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown status %q", status)
	}
	normalized, err := normalizeNote(&note)
	if err != nil {
		return nil, err
	}
	if normalized == nil {
		return nil, apperr.Validation("note is required")
	}

	po, err := s.mutate(ctx, poID, func(tx *repository.Repositories, po *entity.PurchaseOrder) error {
		entry, err := po.AnnotateStatus(status, *normalized)
		if err != nil {
			return err
		}
		if err := tx.PO.UpdateHistoryNote(ctx, entry); err != nil {
			return err
		}
		return tx.ActivityLog.LogActivity(ctx, po, entity.ActionAnnotate, "", string(status), *normalized, userID,
			entity.JSONB{"history_id": entry.ID})
	})
	if err != nil {
		return nil, err
	}
	s.publish(sse.EventPOUpdated, po, entity.ActionAnnotate, "")
	return po, nil
}

// WaitArchives 等待进行中的归档（关闭与测试时使用）
func (s *ProcurementService) WaitArchives() {
	s.archiveWG.Wait()
}

// === 内部 ===

// mutate 在订单锁与事务内读-改-写。事务内重新读取订单，状态检查基于最新数据。
func (s *ProcurementService) mutate(ctx context.Context, poID string, fn func(tx *repository.Repositories, po *entity.PurchaseOrder) error) (*entity.PurchaseOrder, error) {
	unlock, err := s.lock(ctx, "po:"+poID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *entity.PurchaseOrder
	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		po, err := tx.PO.FindForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if err := fn(tx, po); err != nil {
			return err
		}
		result = po
		return nil
	})
	if err != nil {
		return nil, s.translate(err, "Purchase order not found")
	}
	return result, nil
}

func (s *ProcurementService) lock(ctx context.Context, key string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, key)
	if err != nil {
		return nil, s.internal(err, "acquire lock "+key)
	}
	return unlock, nil
}

// translate 仓库错误转业务错误
func (s *ProcurementService) translate(err error, notFoundMsg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("%s", notFoundMsg)
	}
	return s.internal(err, "purchase order operation")
}

func (s *ProcurementService) internal(err error, msg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	s.logger.Error(msg, zap.Error(err))
	return apperr.Internal(err, msg)
}

func (s *ProcurementService) publish(eventType string, po *entity.PurchaseOrder, action, fromStatus string) {
	if s.hub == nil {
		return
	}
	s.hub.PublishPO(eventType, sse.POEvent{
		POID:       po.ID,
		PONumber:   po.PONumber,
		Action:     action,
		Status:     string(po.CurrentStatus),
		FromStatus: fromStatus,
	})
}

// archiveAsync 提交后异步归档；失败只记日志
func (s *ProcurementService) archiveAsync(po *entity.PurchaseOrder) {
	if s.archiver == nil {
		return
	}
	s.archiveWG.Add(1)
	go func() {
		defer s.archiveWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		f, err := RenderPO(po)
		if err != nil {
			s.logger.Error("Render PO archive failed", zap.String("po_id", po.ID), zap.Error(err))
			return
		}
		defer f.Close()
		buf, err := f.WriteToBuffer()
		if err != nil {
			s.logger.Error("Write PO archive failed", zap.String("po_id", po.ID), zap.Error(err))
			return
		}

		objectName := archive.ObjectName(po.PONumber)
		if err := s.archiver.Put(ctx, objectName, buf.Bytes()); err != nil {
			s.logger.Error("Archive PO failed", zap.String("po_id", po.ID), zap.String("object", objectName), zap.Error(err))
			return
		}
		s.logger.Info("PO archived", zap.String("po_id", po.ID), zap.String("object", objectName))
	}()
}
