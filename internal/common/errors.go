package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")

	// ErrConflict is returned by record stores when a record for the same
	// case and schema version already exists. Records are never overwritten.
	ErrConflict = errors.New("record already exists")

	ErrSchemaNotFound       = errors.New("schema not found")
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrAttemptCeiling       = errors.New("attempt ceiling reached")

	// ErrRegistryLoad is pipeline-fatal: nothing can be validated without schemas.
	ErrRegistryLoad = errors.New("schema registry failed to load")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsCaseFatal reports errors that abort a single case but leave sibling
// cases running.
func IsCaseFatal(err error) bool {
	return errors.Is(err, ErrRetryBudgetExhausted) ||
		errors.Is(err, ErrAttemptCeiling) ||
		errors.Is(err, ErrSchemaNotFound) ||
		errors.Is(err, ErrConflict)
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func AlreadyExistsError(message string) error {
	return status.Error(codes.AlreadyExists, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

// ToStatus maps domain errors onto gRPC status errors.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return InvalidArgumentError(err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrSchemaNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, ErrConflict):
		return AlreadyExistsError(err.Error())
	case errors.Is(err, ErrRetryBudgetExhausted), errors.Is(err, ErrAttemptCeiling):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return InternalError(err.Error())
}
