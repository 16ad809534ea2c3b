package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 请求头
const (
	HeaderRequestID   = "X-Request-ID"
	IdempotencyHeader = "X-Idempotency-Key"
)

// gin.Context 中的键
const (
	CtxRequestID   = "request_id"
	CtxUserID      = "user_id"
	CtxUserName    = "user_name"
	CtxPermissions = "permissions"
	CtxPOID        = "po_id"
	CtxLineID      = "line_id"
	CtxErrorKind   = "error_kind"
)

const maxRequestIDLen = 64

// SetPOID 记录本次请求操作的订单，访问日志会带上
func SetPOID(c *gin.Context, id string) { c.Set(CtxPOID, id) }

// SetLineID 记录本次请求操作的行项
func SetLineID(c *gin.Context, id string) { c.Set(CtxLineID, id) }

// SetErrorKind 记录业务错误类别
func SetErrorKind(c *gin.Context, kind string) { c.Set(CtxErrorKind, kind) }

// AccessLog 访问日志。4xx 记 Warn，5xx 记 Error。
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", c.GetString(CtxRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		for _, kv := range [][2]string{
			{"user_id", c.GetString(CtxUserID)},
			{"po_id", c.GetString(CtxPOID)},
			{"line_id", c.GetString(CtxLineID)},
			{"idempotency_key", c.GetHeader(IdempotencyHeader)},
			{"error_kind", c.GetString(CtxErrorKind)},
		} {
			if kv[1] != "" {
				fields = append(fields, zap.String(kv[0], kv[1]))
			}
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("Request failed", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("Request rejected", fields...)
		default:
			logger.Info("Request", fields...)
		}
	}
}

// CORS 浏览器端需要携带令牌与幂等键；SSE 断线重连会带 Last-Event-ID
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept, Last-Event-ID, "+HeaderRequestID+", "+IdempotencyHeader)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", HeaderRequestID)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID 沿用调用方的请求ID，缺失或过长时生成新的
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.New().String()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}
