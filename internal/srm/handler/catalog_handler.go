package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/haseebsahi/refinery-po-system/internal/srm/service"
)

// CatalogHandler 设备目录处理器
type CatalogHandler struct {
	svc      *service.ProcurementService
	importer *service.CatalogImportService
}

func NewCatalogHandler(svc *service.ProcurementService, importer *service.CatalogImportService) *CatalogHandler {
	return &CatalogHandler{svc: svc, importer: importer}
}

// GetItem 目录项（价格与供应商预览）
// GET /api/v1/procurement/catalog/items/:id
func (h *CatalogHandler) GetItem(c *gin.Context) {
	item, err := h.svc.GetCatalogItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, item)
}

// Import 从Excel导入目录
// POST /api/v1/procurement/catalog/import
func (h *CatalogHandler) Import(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传Excel文件")
		return
	}
	defer file.Close()

	result, err := h.importer.ImportXLSX(c.Request.Context(), GetUserID(c), file)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, result)
}
