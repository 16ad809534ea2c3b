package handler

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/haseebsahi/refinery-po-system/internal/middleware"
)

// APIPrefix 采购接口前缀
const APIPrefix = "/api/v1/procurement"

// RegisterRoutes 注册采购路由（除健康检查外均需JWT）
func RegisterRoutes(r *gin.Engine, h *Handlers, auth middleware.AuthConfig) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group(APIPrefix, middleware.JWTAuth(auth))
	// SSE 需要逐条 flush，不压缩
	api.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{APIPrefix + "/events"})))
	{
		orders := api.Group("/orders")
		{
			orders.GET("", h.PO.ListPOs)
			orders.POST("", h.PO.CreatePO)
			orders.GET("/:id", h.PO.GetPO)
			orders.PATCH("/:id", h.PO.UpdateHeader)
			orders.POST("/:id/lines", h.PO.AddLineItem)
			orders.PATCH("/:id/lines/:lineId", h.PO.UpdateLineItem)
			orders.DELETE("/:id/lines/:lineId", h.PO.RemoveLineItem)
			orders.POST("/:id/submit", h.PO.Submit)
			orders.POST("/:id/status", h.PO.Transition)
			orders.PUT("/:id/history/:status/note", h.PO.AnnotateStatus)
			orders.GET("/:id/export", h.PO.ExportPO)
		}

		catalog := api.Group("/catalog")
		{
			catalog.GET("/items/:id", h.Catalog.GetItem)
			catalog.POST("/import", middleware.RequirePermission("catalog:write"), h.Catalog.Import)
		}

		api.GET("/events", h.SSE.Stream)
	}
}
