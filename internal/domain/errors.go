package domain

import (
	"errors"
	"fmt"
)

// AppError is the error type surfaced to the user. Code identifies the failure class and is what
// errors.Is compares, so wrapped instances still match the predefined values below.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// WithMessage returns a copy with a more specific message and the same code.
func (e *AppError) WithMessage(format string, args ...any) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: fmt.Sprintf(format, args...),
		Err:     e.Err,
	}
}

var (
	ErrImageLoad = &AppError{
		Code:    "IMAGE_LOAD",
		Message: "Image is missing or not a decodable format",
	}

	ErrStoreNotFound = &AppError{
		Code:    "STORE_NOT_FOUND",
		Message: "No encodings found, run training first (--train)",
	}

	ErrStoreCorrupt = &AppError{
		Code:    "STORE_CORRUPT",
		Message: "Encodings file is corrupt",
	}

	ErrInvalidArgument = &AppError{
		Code:    "INVALID_ARGUMENT",
		Message: "Invalid arguments",
	}

	ErrDetector = &AppError{
		Code:    "DETECTOR",
		Message: "Face detector failed",
	}
)

// Code returns the AppError code carried by err, or "" if there is none.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
