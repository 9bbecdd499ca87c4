package semantic

import (
	"errors"
	"fmt"
	"log/slog"
)

// Error is a failure detected by the semantic layer.
//
// Storage failures keep their own types (storage.DuplicateKeyError,
// storage.OptimisticLockError, storage.ErrNotFound) and are wrapped rather
// than converted, so both families can be tested with errors.As.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Name is the descriptor, package or collection the error concerns.
	Name string

	// ID is the affected entity or predicate, when known.
	ID string

	Err error
}

// ErrorCode categorizes semantic errors.
type ErrorCode string

const (
	// ErrCodeUnknownDescriptor: a type name is not registered in the ontology.
	ErrCodeUnknownDescriptor ErrorCode = "UNKNOWN_DESCRIPTOR"

	// ErrCodeDuplicateDescriptor: two different descriptors share a name.
	ErrCodeDuplicateDescriptor ErrorCode = "DUPLICATE_DESCRIPTOR"

	// ErrCodeTypeMismatch: an id encodes a different type than the descriptor.
	ErrCodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// ErrCodeCircularParent: a parent assignment would close a cycle.
	ErrCodeCircularParent ErrorCode = "CIRCULAR_PARENT"

	// ErrCodeMissingID: an operation needs an id and none was supplied.
	ErrCodeMissingID ErrorCode = "MISSING_ID"

	// ErrCodeBadSelfKey: a predicate self-key collides with a record field.
	ErrCodeBadSelfKey ErrorCode = "BAD_SELF_KEY"

	// ErrCodeUnknownPackage: no semantic package is registered under a name.
	ErrCodeUnknownPackage ErrorCode = "UNKNOWN_PACKAGE"

	// ErrCodeCollectionConflict: one collection name is used for two kinds
	// of collection.
	ErrCodeCollectionConflict ErrorCode = "COLLECTION_CONFLICT"

	// ErrCodeInvalidName: a package or descriptor name cannot be used in ids.
	ErrCodeInvalidName ErrorCode = "INVALID_NAME"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ID != "" {
		msg += fmt.Sprintf(" (id=%s)", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// logged records err at construction and returns it.
func logged(logger *slog.Logger, err *Error) *Error {
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"code", string(err.Code)}
	if err.Name != "" {
		attrs = append(attrs, "name", err.Name)
	}
	if err.ID != "" {
		attrs = append(attrs, "id", err.ID)
	}
	logger.Error(err.Message, attrs...)
	return err
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsUnknownDescriptor reports whether err is an unknown-descriptor error.
func IsUnknownDescriptor(err error) bool {
	return hasCode(err, ErrCodeUnknownDescriptor)
}

// IsDuplicateDescriptor reports whether err is a duplicate-descriptor error.
func IsDuplicateDescriptor(err error) bool {
	return hasCode(err, ErrCodeDuplicateDescriptor)
}

// IsTypeMismatch reports whether err is a type-mismatch error.
func IsTypeMismatch(err error) bool {
	return hasCode(err, ErrCodeTypeMismatch)
}

// IsCircularParent reports whether err is a circular-parent error.
func IsCircularParent(err error) bool {
	return hasCode(err, ErrCodeCircularParent)
}

// IsMissingID reports whether err is a missing-id error.
func IsMissingID(err error) bool {
	return hasCode(err, ErrCodeMissingID)
}

// IsBadSelfKey reports whether err is a self-key collision.
func IsBadSelfKey(err error) bool {
	return hasCode(err, ErrCodeBadSelfKey)
}

// IsUnknownPackage reports whether err is an unknown-package error.
func IsUnknownPackage(err error) bool {
	return hasCode(err, ErrCodeUnknownPackage)
}

// Code returns the semantic error code carried by err, or "".
func Code(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
