// Package apperr 定义采购核心的错误分类，供服务层返回、处理器层映射HTTP状态。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别（对调用方可区分）
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindNotFound          Kind = "NotFound"
	KindSupplierMismatch  Kind = "SupplierMismatch"
	KindQuantityExceeded  Kind = "QuantityExceeded"
	KindInvalidState      Kind = "InvalidState"
	KindInvalidTransition Kind = "InvalidTransition"
	KindEmptyOrder        Kind = "EmptyOrder"
	KindInternal          Kind = "Internal"
)

// 用于 errors.Is 的哨兵值，只比较 Kind
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrSupplierMismatch  = &Error{Kind: KindSupplierMismatch}
	ErrQuantityExceeded  = &Error{Kind: KindQuantityExceeded}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrEmptyOrder        = &Error{Kind: KindEmptyOrder}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error 业务错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同类别即视为匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New 创建指定类别的错误
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装底层错误
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func Internal(err error, message string) *Error {
	return Wrap(KindInternal, err, message)
}

// KindOf 返回错误类别，非业务错误一律视为 Internal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf 返回可以展示给调用方的消息；Internal 不暴露细节
func MessageOf(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindInternal {
		return "Internal server error"
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}
