package domain

import "errors"

var (
	ErrInvalidSample      = errors.New("invalid location sample")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrParcelNotFound     = errors.New("parcel not found")
	ErrParcelExists       = errors.New("parcel already tracked")
	ErrDriverNotFound     = errors.New("driver has no active session")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
)
