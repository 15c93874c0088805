package util

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("resource not found")
	ErrItemNotFound          = fmt.Errorf("%w: question does not belong to this assessment", ErrNotFound)
	ErrInvalidState          = errors.New("operation not allowed in current status")
	ErrAlreadyInProgress     = errors.New("an attempt is already in progress")
	ErrQuotaExceeded         = errors.New("usage quota exceeded for current billing period")
	ErrAttemptExpired        = errors.New("attempt time limit has passed")
	ErrEvaluationUnavailable = errors.New("evaluation service unavailable")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrDefinitionPublished   = errors.New("published assessment cannot be modified")
	ErrInvalidInput          = errors.New("invalid input")
	ErrNoActiveSubscription  = errors.New("no active subscription")
)

// AlreadyInProgressError 携带已存在的进行中尝试 ID
type AlreadyInProgressError struct {
	AttemptID uint
}

func (e *AlreadyInProgressError) Error() string {
	return fmt.Sprintf("%s (id=%d)", ErrAlreadyInProgress.Error(), e.AttemptID)
}

func (e *AlreadyInProgressError) Is(target error) bool {
	return target == ErrAlreadyInProgress
}
