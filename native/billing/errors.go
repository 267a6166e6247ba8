package billing

import (
	"errors"

	"ticketledger/native/fees"
)

var (
	errNilState = errors.New("billing engine: state not configured")

	ErrUnauthorized      = errors.New("billing: unauthorized")
	ErrUnknownEvent      = errors.New("billing: unknown event")
	ErrUnknownTicket     = errors.New("billing: unknown ticket")
	ErrInvalidRules      = fees.ErrInvalidRules
	ErrInsufficientFunds = errors.New("billing: insufficient funds")
	ErrAlreadyRefunded   = errors.New("billing: ticket already refunded")

	ErrAlreadyRegistered = errors.New("billing: event already registered")
	ErrAlreadyAllocated  = errors.New("billing: ticket already allocated")
	ErrCurrencyMismatch  = errors.New("billing: currency does not match event")
	ErrInvalidPercentage = errors.New("billing: percentage exceeds 1000000 ppm")
	ErrInvalidAmount     = fees.ErrAmountOutOfRange
	ErrIndexOutOfRange   = errors.New("billing: event index out of range")

	// ErrRefundUnconfirmed reports a committed refund that the ticket manager
	// did not acknowledge. Retry with ConfirmRefund.
	ErrRefundUnconfirmed = errors.New("billing: refund not acknowledged by ticket manager")
)
