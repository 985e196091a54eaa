package models

import "errors"

var (
	// ErrValidation 规范模型校验失败（缺少 id/type 等）
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 设备/实体不存在
	ErrNotFound = errors.New("not found")
	// ErrNotConnected 存储适配器尚未连接
	ErrNotConnected = errors.New("storage not connected")
	// ErrUnavailable 存储不可用（连接、超时、查询失败）
	ErrUnavailable = errors.New("storage unavailable")
)

// ValidationError 字段级校验错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError 创建字段校验错误
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
