package dealroom_errors

import (
	"errors"
)

// Messaging core errors
var (
	ErrNotAMember                 = errors.New("not a member of this room")
	ErrInvalidSeenID              = errors.New("invalid seen id")
	ErrIllegalContractTransition  = errors.New("illegal contract transition")
	ErrAlreadyRegistered          = errors.New("identity already has a live session")
	ErrStoreUnavailable           = errors.New("store unavailable")
	ErrMalformedFrame             = errors.New("malformed frame")
	ErrUnknownMethod              = errors.New("unknown method")
	ErrDuplicateNonce             = errors.New("nonce already pending")
	ErrSessionClosed              = errors.New("session closed")
	ErrInvalidContractProposition = errors.New("invalid contract proposition")
)

// Common errors
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRateLimited   = errors.New("rate limited")
	ErrQueueFull     = errors.New("queue full")
	ErrAlreadyExists = errors.New("already exists")
)
