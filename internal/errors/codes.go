package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode identifies the kind of an index failure
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument   ErrorCode = 1000
	ErrCodeMissingDocumentID ErrorCode = 1001
	ErrCodeSchemaMissing     ErrorCode = 1002
	ErrCodeUpdateNotFound    ErrorCode = 1003

	// Server errors
	ErrCodeInternal        ErrorCode = 2000
	ErrCodeStoreFailed     ErrorCode = 2001
	ErrCodeCommitLogFailed ErrorCode = 2002
	ErrCodeCorruptedData   ErrorCode = 2003
	ErrCodeChecksumFailed  ErrorCode = 2004
	ErrCodeUnavailable     ErrorCode = 2005
)

// IndexError is a failure with a code and structured context
type IndexError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *IndexError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *IndexError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts the error to a gRPC status for an API layer
func (e *IndexError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *IndexError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument, ErrCodeMissingDocumentID:
		return codes.InvalidArgument
	case ErrCodeSchemaMissing:
		return codes.FailedPrecondition
	case ErrCodeUpdateNotFound:
		return codes.NotFound
	case ErrCodeChecksumFailed, ErrCodeCorruptedData:
		return codes.DataLoss
	case ErrCodeUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// NewIndexError creates a new IndexError
func NewIndexError(code ErrorCode, message string, cause error) *IndexError {
	return &IndexError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *IndexError) WithDetail(key string, value interface{}) *IndexError {
	e.Details[key] = value
	return e
}

func InvalidArgument(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeInvalidArgument, message, cause)
}

func MissingDocumentID(identifier string) *IndexError {
	return NewIndexError(ErrCodeMissingDocumentID, fmt.Sprintf("document has no identifier field %q", identifier), nil).
		WithDetail("identifier", identifier)
}

func SchemaMissing() *IndexError {
	return NewIndexError(ErrCodeSchemaMissing, "no schema is configured for the index", nil)
}

func UpdateNotFound(updateID uint64) *IndexError {
	return NewIndexError(ErrCodeUpdateNotFound, fmt.Sprintf("update %d not found", updateID), nil).
		WithDetail("update_id", updateID)
}

func InternalError(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeInternal, message, cause)
}

func StoreFailed(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeStoreFailed, message, cause)
}

func CommitLogFailed(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeCommitLogFailed, message, cause)
}

func CorruptedData(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeCorruptedData, message, cause)
}

func ChecksumFailed(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeChecksumFailed, message, cause)
}

func Unavailable(message string, cause error) *IndexError {
	return NewIndexError(ErrCodeUnavailable, message, cause)
}

// IsIndexError checks if err is or wraps an IndexError
func IsIndexError(err error) bool {
	var ie *IndexError
	return stderrors.As(err, &ie)
}

// AsIndexError returns the IndexError err is or wraps
func AsIndexError(err error) (*IndexError, bool) {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// GetCode extracts the error code from err, looking through wrapping
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries code
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
