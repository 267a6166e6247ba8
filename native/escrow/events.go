package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"ticketledger/core/types"
	"ticketledger/crypto"
)

const (
	EventTypeEscrowCredited = "escrow.credited"
	EventTypeEscrowClawback = "escrow.clawback"
	EventTypeEscrowReturned = "escrow.returned"
	EventTypeEscrowUnlocked = "escrow.unlocked"
)

// NewCreditedEvent returns the canonical payload for a new escrow contribution.
func NewCreditedEvent(event [20]byte, ticket [32]byte, c Contribution) *types.Event {
	return newPayoutEvent(EventTypeEscrowCredited, event, ticket, Payout{
		Beneficiary: c.Beneficiary,
		Kind:        c.Kind,
		Hop:         c.Hop,
		Amount:      c.Amount,
	})
}

// NewClawbackEvent returns the payload for the requester portion taken from a
// contribution during a refund.
func NewClawbackEvent(event [20]byte, ticket [32]byte, p Payout) *types.Event {
	return newPayoutEvent(EventTypeEscrowClawback, event, ticket, p)
}

// NewReturnedEvent returns the payload for the remainder of a contribution
// handed back to its beneficiary during a refund.
func NewReturnedEvent(event [20]byte, ticket [32]byte, p Payout) *types.Event {
	return newPayoutEvent(EventTypeEscrowReturned, event, ticket, p)
}

// NewUnlockedEvent returns the payload emitted when a row is paid out in full.
func NewUnlockedEvent(event, beneficiary [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeEscrowUnlocked,
		Attributes: map[string]string{
			"event":       crypto.NewAddress(crypto.EventPrefix, event).String(),
			"beneficiary": crypto.NewAddress(crypto.AccountPrefix, beneficiary).String(),
			"amount":      cloneBigInt(amount).String(),
		},
	}
}

func newPayoutEvent(eventType string, event [20]byte, ticket [32]byte, p Payout) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"event":       crypto.NewAddress(crypto.EventPrefix, event).String(),
			"ticket":      hex.EncodeToString(ticket[:]),
			"beneficiary": crypto.NewAddress(crypto.AccountPrefix, p.Beneficiary).String(),
			"kind":        p.Kind.String(),
			"hop":         strconv.FormatUint(p.Hop, 10),
			"amount":      cloneBigInt(p.Amount).String(),
		},
	}
}
