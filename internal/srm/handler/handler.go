package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/haseebsahi/refinery-po-system/internal/middleware"
	"github.com/haseebsahi/refinery-po-system/internal/shared/apperr"
	"github.com/haseebsahi/refinery-po-system/internal/srm/service"
	"github.com/haseebsahi/refinery-po-system/internal/srm/sse"
	"go.uber.org/zap"
)

// Handlers 采购处理器集合
type Handlers struct {
	PO      *POHandler
	Catalog *CatalogHandler
	SSE     *SSEHandler
}

// NewHandlers 创建采购处理器集合
func NewHandlers(
	procurementSvc *service.ProcurementService,
	exportSvc *service.ExportService,
	importSvc *service.CatalogImportService,
	hub *sse.Hub,
	logger *zap.Logger,
) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		PO:      NewPOHandler(procurementSvc, exportSvc, logger),
		Catalog: NewCatalogHandler(procurementSvc, importSvc),
		SSE:     NewSSEHandler(hub),
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Kind    string      `json:"kind,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	middleware.SetErrorKind(c, string(apperr.KindValidation))
	c.JSON(http.StatusBadRequest, Response{
		Code:    40001,
		Message: message,
		Kind:    string(apperr.KindValidation),
	})
}

func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// errorCodes 错误类别 → 业务码（HTTP状态 = 业务码/100）
var errorCodes = map[apperr.Kind]int{
	apperr.KindValidation:        40001,
	apperr.KindQuantityExceeded:  40002,
	apperr.KindNotFound:          40401,
	apperr.KindSupplierMismatch:  40901,
	apperr.KindInvalidState:      42201,
	apperr.KindInvalidTransition: 42202,
	apperr.KindEmptyOrder:        42203,
	apperr.KindInternal:          50000,
}

// HandleError 按错误类别输出响应；内部错误只返回通用信息
func HandleError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	code, ok := errorCodes[kind]
	if !ok {
		kind, code = apperr.KindInternal, 50000
	}
	middleware.SetErrorKind(c, string(kind))
	c.JSON(code/100, Response{
		Code:    code,
		Message: apperr.MessageOf(err),
		Kind:    string(kind),
	})
}

func GetUserID(c *gin.Context) string {
	return middleware.UserID(c)
}

func GetUserName(c *gin.Context) string {
	return middleware.UserName(c)
}

// GetPagination 页码限制在[1,1000]，每页[1,100]，默认20
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil {
			page = clamp(v, 1, 1000)
		}
	}

	ps := c.Query("limit")
	if ps == "" {
		ps = c.Query("page_size")
	}
	if ps != "" {
		if v, err := strconv.Atoi(ps); err == nil {
			pageSize = clamp(v, 1, 100)
		}
	}

	return page, pageSize
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func totalPages(total int64, pageSize int) int {
	pages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		pages++
	}
	return pages
}
