package models

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrNotEnrolled   = errors.New("not enrolled")
	ErrConflict      = errors.New("conflict")
	ErrInvalidWeight = errors.New("invalid weight")
	ErrInvalid       = errors.New("invalid input")
)
