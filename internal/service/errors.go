package service

import (
	"errors"
	"fmt"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码或 ws error 事件。
var (
	ErrValidation  = errors.New("validation failed")
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence unavailable")
	// ErrDelivery 只在进程内流转：推送失败会被记录并吞掉，不会返回给调用方。
	ErrDelivery = errors.New("delivery failed")

	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrProjectNotFound      = fmt.Errorf("project %w", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("notification %w", ErrNotFound)
)

func validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
