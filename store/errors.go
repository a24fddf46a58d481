package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// ErrorKind classifies failures independently of the provider.
type ErrorKind int

const (
	Unknown ErrorKind = iota
	InvalidArgument
	NotFound
	AlreadyExists
	ResourceExhausted
	TransactionFailed
	Closed
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case NotFound:
		return "ResourceNotFound"
	case AlreadyExists:
		return "ResourceAlreadyExists"
	case ResourceExhausted:
		return "ResourceExhausted"
	case TransactionFailed:
		return "TransactionFailed"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

var (
	// ErrInvalidArgument is returned for malformed queries or actions, missing
	// key fields, disallowed scans and scans with an ordering requirement.
	ErrInvalidArgument = errors.New("docstore: invalid argument")

	// ErrNotFound is returned when a document doesn't exist or a revision
	// precondition failed.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrAlreadyExists is returned when Create finds an existing document.
	ErrAlreadyExists = errors.New("docstore: document already exists")

	// ErrResourceExhausted is returned when the provider throttles requests.
	ErrResourceExhausted = errors.New("docstore: resource exhausted")

	// ErrTransactionFailed is returned when an atomic write group is cancelled.
	ErrTransactionFailed = errors.New("docstore: transaction failed")

	// ErrUnknown is returned for provider errors with no mapping.
	ErrUnknown = errors.New("docstore: unknown error")

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("docstore: store is closed")
)

var kindSentinels = map[ErrorKind]error{
	Unknown:           ErrUnknown,
	InvalidArgument:   ErrInvalidArgument,
	NotFound:          ErrNotFound,
	AlreadyExists:     ErrAlreadyExists,
	ResourceExhausted: ErrResourceExhausted,
	TransactionFailed: ErrTransactionFailed,
	Closed:            ErrClosed,
}

// Error is a classified failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("docstore: %s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("docstore: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e's kind, so errors.Is(err, ErrNotFound)
// works on classified errors.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func newError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or Unknown if err was never classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return Unknown
}

// ActionError reports which action of a RunActions call failed.
type ActionError struct {
	Index int
	Kind  ActionKind
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// errorCodes maps provider error codes to kinds. Codes not listed map to
// Unknown.
var errorCodes = map[string]ErrorKind{
	"ConditionalCheckFailedException":        NotFound,
	"ResourceNotFoundException":              NotFound,
	"ProvisionedThroughputExceededException": ResourceExhausted,
	"RequestLimitExceeded":                   ResourceExhausted,
	"ThrottlingException":                    ResourceExhausted,
	"LimitExceededException":                 ResourceExhausted,
	"TransactionCanceledException":           TransactionFailed,
	"TransactionConflictException":           TransactionFailed,
	"TransactionInProgressException":         TransactionFailed,
	"IdempotentParameterMismatchException":   InvalidArgument,
	"ValidationException":                    InvalidArgument,
}

// classifyError translates a provider error into a *Error. Errors that are
// already classified are returned unchanged.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Unknown, Op: op, Err: err}
	}
	kind := Unknown
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if k, ok := errorCodes[apiErr.ErrorCode()]; ok {
			kind = k
		}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// classifyWriteError is classifyError with conditional-check failures
// attributed to the caller's action kind.
func classifyWriteError(op string, kind ActionKind, err error) error {
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if kind == Create {
			return &Error{Kind: AlreadyExists, Op: op, Err: err}
		}
		return &Error{Kind: NotFound, Op: op, Err: err}
	}
	return classifyError(op, err)
}

// IsThrottlingError reports whether err is a provider capacity error.
func IsThrottlingError(err error) bool {
	return KindOf(classifyError("", err)) == ResourceExhausted
}
