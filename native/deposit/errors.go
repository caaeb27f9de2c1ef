package deposit

import (
	"errors"

	"dework/native/common"
	"dework/native/pool"
	"dework/native/positiontoken"
	"dework/native/token"
	"dework/native/yield"
)

var (
	errNilState = errors.New("deposit engine: state not configured")

	ErrParamsNotInitialised = errors.New("deposit engine: params not initialised")

	ErrInvalidAmount        = errors.New("deposit engine: principal must be positive")
	ErrInvalidDuration      = errors.New("deposit engine: duration must be positive")
	ErrInvalidSharePercent  = errors.New("deposit engine: interest share above 100")
	ErrInvalidLandlord      = errors.New("deposit engine: invalid landlord")
	ErrInvalidAddress       = errors.New("deposit engine: invalid address")
	ErrPositionNotFound     = errors.New("deposit engine: position not found")
	ErrInvalidFeePercent    = errors.New("deposit engine: platform fee above 30")
	ErrInvalidDisputeWindow = errors.New("deposit engine: dispute window outside 1-30 days")
	ErrMetadataTooLong      = errors.New("deposit engine: metadata uri too long")

	ErrUnauthorized = errors.New("deposit engine: unauthorized caller")
	ErrNotVerified  = errors.New("deposit engine: tenant identity not verified")

	ErrNotActive           = errors.New("deposit engine: position not active")
	ErrLeaseNotEnded       = errors.New("deposit engine: lease has not ended")
	ErrReleaseNotReached   = errors.New("deposit engine: release time not reached")
	ErrDisputeWindowClosed = errors.New("deposit engine: dispute window closed")
	ErrInDispute           = errors.New("deposit engine: position in dispute")
	ErrNotInDispute        = errors.New("deposit engine: position not in dispute")

	ErrReentrantCall = common.ErrReentrantCall
)

// Kind groups engine errors by how a transport should report them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindAuthorization Kind = "authorization"
	KindTiming        Kind = "timing"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Classify maps err to its Kind. Unknown errors are internal.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPositionNotFound), errors.Is(err, positiontoken.ErrTokenNotFound):
		return KindNotFound
	case isAny(err, ErrUnauthorized, ErrNotVerified, pool.ErrUnauthorized):
		return KindAuthorization
	case isAny(err, ErrLeaseNotEnded, ErrReleaseNotReached, ErrDisputeWindowClosed):
		return KindTiming
	case isAny(err, ErrNotActive, ErrInDispute, ErrNotInDispute, ErrReentrantCall,
		common.ErrModulePaused, pool.ErrDrained, pool.ErrSameVenue):
		return KindConflict
	case isAny(err, ErrInvalidAmount, ErrInvalidDuration, ErrInvalidSharePercent, ErrInvalidLandlord,
		ErrInvalidAddress, ErrInvalidFeePercent, ErrInvalidDisputeWindow, ErrMetadataTooLong,
		token.ErrInsufficientAllowance, token.ErrInsufficientBalance, token.ErrOverflow,
		token.ErrInvalidAmount, token.ErrZeroAddress, yield.ErrUnknownVenue):
		return KindValidation
	default:
		return KindInternal
	}
}
