package repository

import (
	"errors"
	"fmt"

	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
)

// StorageError 存储操作失败，带引擎和操作名
// 除校验错误外都视为 models.ErrUnavailable（连接、超时、查询失败）
type StorageError struct {
	Engine string
	Op     string
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, models.ErrUnavailable) 对连接类错误成立
func (e *StorageError) Is(target error) bool {
	if target != models.ErrUnavailable {
		return false
	}
	return !errors.Is(e.Err, models.ErrValidation)
}

// ErrorHook 存储错误回调，在错误返回给调用方之前调用
type ErrorHook func(engine, op string, err error)
