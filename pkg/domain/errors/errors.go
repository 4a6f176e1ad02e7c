package errors

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Message safe to display verbatim
	Metadata map[string]string // Numeric and identity context
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata creates a domain error with metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is matching by code.
var (
	ErrInvalidArgument     = New(CodeInvalidArgument, "invalid argument")
	ErrInvalidTransition   = New(CodeInvalidTransition, "invalid transition")
	ErrOverconsumption     = New(CodeOverconsumption, "overconsumption")
	ErrExclusivityConflict = New(CodeExclusivityConflict, "exclusivity conflict")
	ErrDependencyProtected = New(CodeDependencyProtected, "dependency protected")
)

// OverconsumptionError reports a write that would leave a negative remaining.
type OverconsumptionError struct {
	Owner           entities.Ref
	Consumer        entities.Ref
	Available       decimal.Decimal
	Consumed        decimal.Decimal
	Requested       decimal.Decimal
	Overconsumption decimal.Decimal
}

// NewOverconsumptionError builds the error from the quantities of the scope.
// Overconsumption is consumed + requested - available.
func NewOverconsumptionError(owner, consumer entities.Ref, available, consumed, requested decimal.Decimal) *OverconsumptionError {
	return &OverconsumptionError{
		Owner:           owner,
		Consumer:        consumer,
		Available:       available,
		Consumed:        consumed,
		Requested:       requested,
		Overconsumption: consumed.Add(requested).Sub(available),
	}
}

func (e *OverconsumptionError) Error() string {
	return fmt.Sprintf(
		"overconsumption of %s by %s: available %s, already consumed %s, requested %s, overconsumption %s",
		e.Consumer, e.Owner, e.Available, e.Consumed, e.Requested, e.Overconsumption,
	)
}

// Code returns CodeOverconsumption.
func (e *OverconsumptionError) Code() Code { return CodeOverconsumption }

// Is matches the coded sentinel.
func (e *OverconsumptionError) Is(target error) bool { return isCode(target, CodeOverconsumption) }

// Metadata returns the display context.
func (e *OverconsumptionError) Metadata() map[string]string {
	return map[string]string{
		"owner":           e.Owner.String(),
		"consumer":        e.Consumer.String(),
		"available":       e.Available.String(),
		"consumed":        e.Consumed.String(),
		"requested":       e.Requested.String(),
		"overconsumption": e.Overconsumption.String(),
	}
}

// ExclusivityConflictError reports a binary claim on a consumer already held by a sibling.
type ExclusivityConflictError struct {
	Edge        entities.EdgeKey
	Conflicting entities.EdgeKey
	ConflictID  int64
}

func (e *ExclusivityConflictError) Error() string {
	return fmt.Sprintf("%s is already affected to %s (edge %d); cannot also affect it to %s",
		e.Edge.Consumer, e.Conflicting.Owner, e.ConflictID, e.Edge.Owner)
}

// Code returns CodeExclusivityConflict.
func (e *ExclusivityConflictError) Code() Code { return CodeExclusivityConflict }

// Is matches the coded sentinel.
func (e *ExclusivityConflictError) Is(target error) bool {
	return isCode(target, CodeExclusivityConflict)
}

// DependencyProtectionError reports a delete or zero-out blocked by an affected dependent.
type DependencyProtectionError struct {
	Edge        entities.EdgeKey
	Dependent   entities.EdgeKey
	DependentID int64
	Reason      string
}

func (e *DependencyProtectionError) Error() string {
	msg := fmt.Sprintf("cannot retract %s: dependent %s (edge %d) is affected",
		e.Edge, e.Dependent, e.DependentID)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Code returns CodeDependencyProtected.
func (e *DependencyProtectionError) Code() Code { return CodeDependencyProtected }

// Is matches the coded sentinel.
func (e *DependencyProtectionError) Is(target error) bool {
	return isCode(target, CodeDependencyProtected)
}

func isCode(target error, code Code) bool {
	t, ok := target.(*Error)
	return ok && t.Code == code
}

type coded interface {
	Code() Code
}

// CodeOf returns the code of the first domain error in err's chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Code
		case coded:
			return e.Code()
		}
		err = unwrap(err)
	}
	return CodeUnknown
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}
