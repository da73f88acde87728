package services

import (
	"errors"

	dealroom_errors "dealroom-chat/pkg/errors"
)

// Wire codes carried in failure responses.
const (
	CodeNotAMember                 = "NOT_A_MEMBER"
	CodeInvalidSeenID              = "INVALID_SEEN_ID"
	CodeIllegalContractTransition  = "ILLEGAL_CONTRACT_TRANSITION"
	CodeInvalidContractProposition = "INVALID_CONTRACT_PROPOSITION"
	CodeAlreadyRegistered          = "ALREADY_REGISTERED"
	CodeStoreUnavailable           = "STORE_UNAVAILABLE"
	CodeMalformedFrame             = "MALFORMED_FRAME"
	CodeUnknownMethod              = "UNKNOWN_METHOD"
	CodeDuplicateNonce             = "DUPLICATE_NONCE"
	CodeInvalidInput               = "INVALID_INPUT"
	CodeNotFound                   = "NOT_FOUND"
	CodeForbidden                  = "FORBIDDEN"
	CodeUnauthorized               = "UNAUTHORIZED"
	CodeRateLimited                = "RATE_LIMITED"
	CodeQueueFull                  = "QUEUE_FULL"
	CodeConflict                   = "CONFLICT"
	CodeInternal                   = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{dealroom_errors.ErrNotAMember, CodeNotAMember},
	{dealroom_errors.ErrInvalidSeenID, CodeInvalidSeenID},
	{dealroom_errors.ErrIllegalContractTransition, CodeIllegalContractTransition},
	{dealroom_errors.ErrInvalidContractProposition, CodeInvalidContractProposition},
	{dealroom_errors.ErrAlreadyRegistered, CodeAlreadyRegistered},
	{dealroom_errors.ErrStoreUnavailable, CodeStoreUnavailable},
	{dealroom_errors.ErrMalformedFrame, CodeMalformedFrame},
	{dealroom_errors.ErrUnknownMethod, CodeUnknownMethod},
	{dealroom_errors.ErrDuplicateNonce, CodeDuplicateNonce},
	{dealroom_errors.ErrInvalidInput, CodeInvalidInput},
	{dealroom_errors.ErrNotFound, CodeNotFound},
	{dealroom_errors.ErrForbidden, CodeForbidden},
	{dealroom_errors.ErrUnauthorized, CodeUnauthorized},
	{dealroom_errors.ErrRateLimited, CodeRateLimited},
	{dealroom_errors.ErrQueueFull, CodeQueueFull},
	{dealroom_errors.ErrAlreadyExists, CodeConflict},
}

// ErrorCode maps an error to its wire code. Unrecognised errors are INTERNAL.
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeInternal
}

// PublicMessage is the text sent to clients. Backend details are not echoed.
func PublicMessage(err error) string {
	switch ErrorCode(err) {
	case CodeInternal:
		return "internal error"
	case CodeStoreUnavailable:
		return dealroom_errors.ErrStoreUnavailable.Error()
	}
	return err.Error()
}
