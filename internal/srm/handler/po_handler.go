package handler

import (
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/haseebsahi/refinery-po-system/internal/middleware"
	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"github.com/haseebsahi/refinery-po-system/internal/srm/service"
	"go.uber.org/zap"
)

// IdempotencyHeader 创建PO的幂等键请求头
const IdempotencyHeader = middleware.IdempotencyHeader

// 需要额外权限的目标状态
var transitionPermissions = map[entity.POStatus]string{
	entity.POStatusApproved:  "po:approve",
	entity.POStatusRejected:  "po:approve",
	entity.POStatusFulfilled: "po:fulfill",
}

// POHandler 采购订单处理器
type POHandler struct {
	svc    *service.ProcurementService
	export *service.ExportService
	logger *zap.Logger
}

func NewPOHandler(svc *service.ProcurementService, export *service.ExportService, logger *zap.Logger) *POHandler {
	return &POHandler{svc: svc, export: export, logger: logger}
}

// UpdateQuantityRequest 修改行项数量
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// TransitionRequest 状态迁移
type TransitionRequest struct {
	Status string  `json:"status"`
	Note   *string `json:"note"`
}

// NoteRequest 备注
type NoteRequest struct {
	Note *string `json:"note"`
}

// ListPOs 采购订单列表
// GET /api/v1/procurement/orders?status=xxx&supplier=xxx&page=1&limit=20
func (h *POHandler) ListPOs(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.ListPOs(c.Request.Context(), service.ListPOQuery{
		Status:   c.Query("status"),
		Supplier: strings.TrimSpace(c.Query("supplier")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		HandleError(c, err)
		return
	}

	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages(total, pageSize),
		},
	})
}

// GetPO 采购订单详情
// GET /api/v1/procurement/orders/:id
func (h *POHandler) GetPO(c *gin.Context) {
	id, ok := poIDParam(c)
	if !ok {
		return
	}
	po, err := h.svc.GetPO(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, po)
}

// CreatePO 创建采购订单；同一幂等键重复提交返回200和已有订单
// POST /api/v1/procurement/orders
func (h *POHandler) CreatePO(c *gin.Context) {
	var req service.CreatePORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Requestor) == "" {
		req.Requestor = GetUserName(c)
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyHeader))
	po, created, err := h.svc.CreatePO(c.Request.Context(), GetUserID(c), &req, key)
	if err != nil {
		HandleError(c, err)
		return
	}
	middleware.SetPOID(c, po.ID)
	if created {
		Created(c, po)
		return
	}
	Success(c, po)
}

// UpdateHeader 修改抬头（仅草稿）
// PATCH /api/v1/procurement/orders/:id
func (h *POHandler) UpdateHeader(c *gin.Context) {
	id, ok := poIDParam(c)
	if !ok {
		return
	}
	var req service.UpdatePOHeaderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	po, err := h.svc.UpdateHeader(c.Request.Context(), GetUserID(c), id, &req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, po)
}

// AddLineItem 加入行项，同一目录项合并数量
// POST /api/v1/procurement/orders/:id/lines
func (h *POHandler) AddLineItem(c *gin.Context) {
	id, ok := poIDParam(c)
	if !ok {
		return
	}
	var req service.AddLineItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	line, err := h.svc.AddLineItem(c.Request.Context(), GetUserID(c), id, &req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, line)
}

// UpdateLineItem 修改行项数量
// PATCH /api/v1/procurement/orders/:id/lines/:lineId
func (h *POHandler) UpdateLineItem(c *gin.Context) {
	id, ok := poIDParam(c)
	if !ok {
		return
	}
	lineID, ok := lineIDParam(c)
	if !ok {
		return
	}
	var req UpdateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	line, err := h.svc.UpdateLineItemQuantity(c.Request.Context(), GetUserID(c), id, lineID, req.Quantity)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, line)
}

// RemoveLineItem 删除行项
// DELETE /api/v1/procurement/orders/:id/lines/:lineId
func (h *POHandler) RemoveLineItem(c *gin.Context) {
	id, ok := poIDParam(c)
	if !ok {
		return
	}
	lineID, ok := lineIDParam(c)
	if !ok {
		return
	}
	if err := h.svc.RemoveLineItem(c.Request.Context(), GetUserID(c), id, lineID); err != nil {
		HandleError(c, err)
		return
	}
	Success(c, nil)
}

// Submit 提交审批
// POST /api/v1/procurement/orders/:id/submit
func (h *POHandler) Submit(c *gin.Context) {
	id, ok := poIDParam(c)
	if !ok {
		return
	}
	var req NoteRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}

	po, err := h.svc.Submit(c.Request.Context(), GetUserID(c), id, req.Note)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, po)
}

// Transition 状态迁移（审批/驳回/完成）
// POST /api/v1/procurement/orders/:id/status
func (h *POHandler) Transition(c *gin.Context) {
	id, ok := poIDParam(c)
	if !ok {
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	status, err := service.ParseStatus(req.Status)
	if err != nil {
		HandleError(c, err)
		return
	}
	if perm, ok := transitionPermissions[status]; ok && !middleware.HasPermission(c, perm) {
		h.logger.Warn("PO transition denied", zap.String("user_id", GetUserID(c)),
			zap.String("po_id", id), zap.String("to", string(status)))
		Error(c, 40302, "Permission denied: "+perm)
		return
	}

	po, err := h.svc.Transition(c.Request.Context(), GetUserID(c), id, status, req.Note)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, po)
}

// AnnotateStatus 给某状态最近一条历史补写备注（旧接口）
// PUT /api/v1/procurement/orders/:id/history/:status/note
func (h *POHandler) AnnotateStatus(c *gin.Context) {
	id, ok := poIDParam(c)
	if !ok {
		return
	}
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	status, err := service.ParseStatus(c.Param("status"))
	if err != nil {
		HandleError(c, err)
		return
	}
	note := ""
	if req.Note != nil {
		note = *req.Note
	}

	po, err := h.svc.AnnotateStatus(c.Request.Context(), GetUserID(c), id, status, note)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, po)
}

// ExportPO 导出xlsx
// GET /api/v1/procurement/orders/:id/export
func (h *POHandler) ExportPO(c *gin.Context) {
	id, ok := poIDParam(c)
	if !ok {
		return
	}
	f, filename, err := h.export.ExportPO(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		h.logger.Error("Write PO export failed", zap.String("po_id", id), zap.Error(err))
	}
}

// bindOptionalJSON 请求体可为空
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// poIDParam 校验路径中的订单ID并记入访问日志
func poIDParam(c *gin.Context) (string, bool) {
	id, ok := uuidParam(c, "id", "Invalid PO ID")
	if ok {
		middleware.SetPOID(c, id)
	}
	return id, ok
}

func lineIDParam(c *gin.Context) (string, bool) {
	id, ok := uuidParam(c, "lineId", "Invalid line ID")
	if ok {
		middleware.SetLineID(c, id)
	}
	return id, ok
}

// uuidParam 非UUID直接400，不查库
func uuidParam(c *gin.Context, name, message string) (string, bool) {
	u, err := uuid.Parse(c.Param(name))
	if err != nil {
		BadRequest(c, message)
		return "", false
	}
	return u.String(), true
}
