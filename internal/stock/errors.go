package stock

import (
	"errors"
	"fmt"
)

// Error categories. Every *Error unwraps to exactly one of these.
var (
	// ErrValidation is returned for malformed input. It never touches storage.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced item or room does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStateConflict is returned when the request is well formed but the
	// current state does not allow it.
	ErrStateConflict = errors.New("state conflict")

	// ErrConcurrency is returned when the target item could not be locked in
	// time or was changed underneath the movement. Retrying may succeed.
	ErrConcurrency = errors.New("concurrent modification")
)

// Code identifies a specific movement failure.
type Code string

// Failure codes.
const (
	CodeInvalidQuantity         Code = "invalid_quantity"
	CodeSameRoomTransfer        Code = "same_room_transfer"
	CodeMissingActor            Code = "missing_actor"
	CodeMissingRoom             Code = "missing_room"
	CodeItemNotFound            Code = "item_not_found"
	CodeRoomNotFound            Code = "room_not_found"
	CodeRoomInactive            Code = "room_inactive"
	CodeDestinationRoomInactive Code = "destination_room_inactive"
	CodeRoomMismatch            Code = "room_mismatch"
	CodeInsufficientQuantity    Code = "insufficient_quantity"
	CodeBusy                    Code = "busy"
	CodeConflict                Code = "conflict"
)

// category maps each code to its error category.
func (c Code) category() error {
	switch c {
	case CodeInvalidQuantity, CodeSameRoomTransfer, CodeMissingActor, CodeMissingRoom:
		return ErrValidation
	case CodeItemNotFound, CodeRoomNotFound:
		return ErrNotFound
	case CodeRoomInactive, CodeDestinationRoomInactive, CodeRoomMismatch, CodeInsufficientQuantity:
		return ErrStateConflict
	case CodeBusy, CodeConflict:
		return ErrConcurrency
	}
	return nil
}

// Error is a typed movement failure.
//
// errors.Is matches both the per-code sentinels below and the category the
// code belongs to:
//
//	errors.Is(err, stock.ErrInsufficientQuantity) // the exact failure
//	errors.Is(err, stock.ErrStateConflict)        // its category
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the error's category.
func (e *Error) Unwrap() error {
	return e.Code.category()
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Per-code sentinels for use with errors.Is.
var (
	ErrInvalidQuantity         = &Error{Code: CodeInvalidQuantity}
	ErrSameRoomTransfer        = &Error{Code: CodeSameRoomTransfer}
	ErrMissingActor            = &Error{Code: CodeMissingActor}
	ErrMissingRoom             = &Error{Code: CodeMissingRoom}
	ErrItemNotFound            = &Error{Code: CodeItemNotFound}
	ErrRoomNotFound            = &Error{Code: CodeRoomNotFound}
	ErrRoomInactive            = &Error{Code: CodeRoomInactive}
	ErrDestinationRoomInactive = &Error{Code: CodeDestinationRoomInactive}
	ErrRoomMismatch            = &Error{Code: CodeRoomMismatch}
	ErrInsufficientQuantity    = &Error{Code: CodeInsufficientQuantity}
	ErrBusy                    = &Error{Code: CodeBusy}
	ErrConflict                = &Error{Code: CodeConflict}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the failure code carried by err, or "" if err is not a
// movement failure.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable returns true if the same request might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}

// IsClientError returns true if the request itself must change to succeed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrStateConflict)
}

// IsNotFound returns true if the error indicates a missing item or room.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
