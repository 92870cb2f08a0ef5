package services

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingQueue      = errors.New("sync queue is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingClient     = errors.New("api client is required")
	errMissingTitle      = errors.New("title is required")
	errMissingName       = errors.New("name is required")
	errMissingHabitID    = errors.New("habit id is required")
	errInvalidPriority   = errors.New("priority must be low, medium or high")
	errInvalidStatus     = errors.New("status must be pending, in_progress or completed")
	errInvalidFrequency  = errors.New("frequency must be daily, weekly or monthly")
	errInvalidRange      = errors.New("range end precedes start")
	errInvalidPercentage = errors.New("completion percentage must be within 0..100")
	errInvalidTarget     = errors.New("target count must be positive")
	errEmptyServerRecord = errors.New("server returned an empty record")
)

// ServiceError carries a stable code of the form <operation>.<reason>.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ErrorCode extracts the ServiceError code from err, or "".
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	logger.Error("service operation failed", allFields...)
}
