// Package exception provides the error types used by the chunk engine.
// Every failure raised by a reader, processor or writer is classified into an
// ErrorKind so that the skip and retry policies can decide what to do with it.
package exception

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ErrorKind classifies a batch failure.
type ErrorKind string

const (
	// KindUnknown is used for errors raised outside the item pipeline.
	KindUnknown ErrorKind = "Unknown"
	// ReaderTransient is retryable and does not advance the checkpoint.
	ReaderTransient ErrorKind = "ReaderTransient"
	// ReaderFatal aborts the step.
	ReaderFatal ErrorKind = "ReaderFatal"
	// ProcessorFiltered is an expected outcome, not an error.
	ProcessorFiltered ErrorKind = "ProcessorFiltered"
	// ProcessorInvalid is a validation failure, skipped or fatal depending on policy.
	ProcessorInvalid ErrorKind = "ProcessorInvalid"
	// WriterTransient triggers a bounded retry of the same chunk.
	WriterTransient ErrorKind = "WriterTransient"
	// WriterFatal aborts the step and rolls back the current chunk only.
	WriterFatal ErrorKind = "WriterFatal"
	// WriterRejected marks single items refused by the sink.
	WriterRejected ErrorKind = "WriterRejected"
	// SkipLimitExceeded escalates a skippable error into a fatal one.
	SkipLimitExceeded ErrorKind = "SkipLimitExceeded"
)

var (
	errorRegistry = make(map[string]error)
	registryMutex sync.RWMutex
)

// RegisterErrorType registers a named sentinel error so configuration can refer to it
// (for example in skippable_exceptions). It panics on an empty name or nil prototype.
func RegisterErrorType(name string, prototype error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if name == "" {
		panic("error type name cannot be empty")
	}
	if prototype == nil {
		panic(fmt.Sprintf("cannot register nil prototype for name: %s", name))
	}
	errorRegistry[name] = prototype
}

// IsErrorTypeRegistered reports whether name is known to the registry.
func IsErrorTypeRegistered(name string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, ok := errorRegistry[name]
	return ok
}

// BatchError is the error type raised by chunkflow components.
type BatchError struct {
	// Module is the component that raised the error ("reader", "processor", "writer", ...).
	Module string
	// Message is a concise description of the failure.
	Message string
	// Kind is the classification used by the skip and retry policies.
	Kind ErrorKind
	// OriginalErr is the wrapped cause.
	OriginalErr error

	isRetryable bool
	isSkippable bool
}

// NewBatchError creates a BatchError with explicit skip and retry flags.
// The kind is derived from the module and flags.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		Kind:        deriveKind(module, isSkippable, isRetryable),
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
	}
}

// NewBatchErrorf creates a non-skippable, non-retryable BatchError from a format string.
// A trailing error argument is used as the wrapped cause.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	if len(a) > 0 {
		if err, ok := a[len(a)-1].(error); ok && strings.Count(format, "%") < len(a) {
			originalErr = err
			a = a[:len(a)-1]
		}
	}
	return NewBatchError(module, fmt.Sprintf(format, a...), originalErr, false, false)
}

// NewKindError creates a BatchError of the given kind with the flags that kind implies.
func NewKindError(kind ErrorKind, message string, originalErr error) *BatchError {
	e := &BatchError{
		Module:      moduleForKind(kind),
		Message:     message,
		Kind:        kind,
		OriginalErr: originalErr,
	}
	switch kind {
	case ReaderTransient, WriterTransient:
		e.isRetryable = true
	case ProcessorFiltered, ProcessorInvalid, WriterRejected:
		e.isSkippable = true
	}
	return e
}

// ReaderTransientError wraps err as a retryable read failure.
func ReaderTransientError(message string, err error) *BatchError {
	return NewKindError(ReaderTransient, message, err)
}

// ReaderFatalError wraps err as a fatal read failure.
func ReaderFatalError(message string, err error) *BatchError {
	return NewKindError(ReaderFatal, message, err)
}

// WriterTransientError wraps err as a retryable write failure.
func WriterTransientError(message string, err error) *BatchError {
	return NewKindError(WriterTransient, message, err)
}

// WriterFatalError wraps err as a fatal write failure.
func WriterFatalError(message string, err error) *BatchError {
	return NewKindError(WriterFatal, message, err)
}

// WriterRejectedError marks err as an item-level rejection by the sink.
func WriterRejectedError(message string, err error) *BatchError {
	return NewKindError(WriterRejected, message, err)
}

// InvalidItemError reports a validation failure for a single item.
func InvalidItemError(reason string) *BatchError {
	return NewKindError(ProcessorInvalid, reason, nil)
}

// SkipLimitExceededError reports that the configured skip limit has been passed.
func SkipLimitExceededError(limit int, cause error) *BatchError {
	return NewKindError(SkipLimitExceeded, fmt.Sprintf("skip limit of %d exceeded", limit), cause)
}

func deriveKind(module string, skippable, retryable bool) ErrorKind {
	switch module {
	case "reader":
		if retryable {
			return ReaderTransient
		}
		return ReaderFatal
	case "processor":
		if skippable {
			return ProcessorInvalid
		}
	case "writer":
		if retryable {
			return WriterTransient
		}
		if skippable {
			return WriterRejected
		}
		return WriterFatal
	}
	return KindUnknown
}

func moduleForKind(kind ErrorKind) string {
	switch kind {
	case ReaderTransient, ReaderFatal:
		return "reader"
	case ProcessorFiltered, ProcessorInvalid:
		return "processor"
	case WriterTransient, WriterFatal, WriterRejected:
		return "writer"
	case SkipLimitExceeded:
		return "step"
	}
	return "batch"
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the error may be retried.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable reports whether the failing item may be skipped.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// AsBatchError returns the first BatchError in err's chain.
func AsBatchError(err error) (*BatchError, bool) {
	var be *BatchError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// KindOf returns the kind of the first BatchError in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	if be, ok := AsBatchError(err); ok {
		return be.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTemporary reports whether err looks transient. A BatchError's retry flag wins.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := AsBatchError(err); ok {
		return be.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused")
}

// IsFatal reports whether err can be neither retried nor skipped.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if be, ok := AsBatchError(err); ok {
		return !be.IsRetryable() && !be.IsSkippable()
	}
	return true
}

// IsErrorOfType reports whether err matches a registered error name, a message substring,
// or a Go type name anywhere in its chain.
func IsErrorOfType(err error, errorTypeName string) bool {
	if err == nil || errorTypeName == "" {
		return false
	}

	registryMutex.RLock()
	target, ok := errorRegistry[errorTypeName]
	registryMutex.RUnlock()
	if ok && errors.Is(err, target) {
		return true
	}

	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if be, ok := cur.(*BatchError); ok && string(be.Kind) == errorTypeName {
			return true
		}
		if strings.Contains(cur.Error(), errorTypeName) {
			return true
		}
		t := reflect.TypeOf(cur)
		if t.String() == errorTypeName || (t.Kind() == reflect.Ptr && t.Elem().String() == errorTypeName) {
			return true
		}
	}
	return false
}

// OptimisticLockingFailureException names the optimistic locking sentinel.
const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// ErrOptimisticLockingFailure signals a concurrent modification of a versioned record.
var ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)

// NewOptimisticLockingFailureException creates a fatal BatchError wrapping ErrOptimisticLockingFailure.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	cause := ErrOptimisticLockingFailure
	if originalErr != nil {
		cause = errors.Join(ErrOptimisticLockingFailure, originalErr)
	}
	return NewBatchError(module, message, cause, false, false)
}

// IsOptimisticLockingFailure reports whether err wraps ErrOptimisticLockingFailure.
func IsOptimisticLockingFailure(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLockingFailure)
}

// ExtractErrorMessage returns the BatchError message, or err.Error() for other errors.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if be, ok := AsBatchError(err); ok {
		return be.Message
	}
	return err.Error()
}

func init() {
	RegisterErrorType(OptimisticLockingFailureException, ErrOptimisticLockingFailure)
	RegisterErrorType("context.DeadlineExceeded", context.DeadlineExceeded)
	RegisterErrorType("context.Canceled", context.Canceled)
	RegisterErrorType("sql.ErrNoRows", sql.ErrNoRows)
	RegisterErrorType("sql.ErrConnDone", sql.ErrConnDone)
	RegisterErrorType("sql.ErrTxDone", sql.ErrTxDone)
}
