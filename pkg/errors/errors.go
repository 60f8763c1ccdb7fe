// Package errors 提供统一错误辅助，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误：各层按此分类传播，HTTP 层据此映射状态码
var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidState       = errors.New("invalid state")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// ProcessingError 单次处理尝试失败（可由队列退避重试）；Stage 为失败阶段名
type ProcessingError struct {
	Stage string
	Err   error
}

// NewProcessingError 创建处理错误
func NewProcessingError(stage string, err error) *ProcessingError {
	return &ProcessingError{Stage: stage, Err: err}
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("processing failed at stage %s", e.Stage)
	}
	return fmt.Sprintf("processing failed at stage %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
