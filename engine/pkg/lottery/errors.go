package lottery

import (
	"errors"

	"github.com/malbeclabs/lottery/engine/pkg/ledger"
	"github.com/malbeclabs/lottery/engine/pkg/randomness"
)

var (
	ErrInvalidRoundType        = errors.New("invalid roundType")
	ErrRoundTypePaused         = errors.New("paused")
	ErrRoundTypeUnpaused       = errors.New("unpaused")
	ErrZeroTicketsAmount       = ledger.ErrZeroTicketsAmount
	ErrTicketsAmountExceeded   = ledger.ErrTicketsAmountExceeded
	ErrInvalidLotteryIDsLength = errors.New("invalid lotteryIds length")
	ErrInvalidLotteryID        = errors.New("invalid lotteryId")
	ErrAlreadyClaimed          = errors.New("claimed")
	ErrTooSoon                 = errors.New("too soon")
	ErrZeroAddress             = errors.New("zero address")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrStoredFeeAbsent         = errors.New("storedFee absent")
	ErrExcessAbsent            = errors.New("excess absent")
	ErrUnauthorized            = errors.New("caller is not the owner")
	ErrExceededMaxValue        = errors.New("exceeded max value")
	ErrRefillNotConfigured     = errors.New("auto refill executor not configured")

	ErrRequestNotFound     = randomness.ErrRequestNotFound
	ErrNotFulfilledRequest = randomness.ErrNotFulfilledRequest
	ErrInvalidRandomValue  = randomness.ErrInvalidRandomValue
)
