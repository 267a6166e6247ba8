package billing

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"ticketledger/core/types"
	"ticketledger/crypto"
)

const (
	EventTypeEventRegistered   = "billing.event.registered"
	EventTypeRulesUpdated      = "billing.rules.updated"
	EventTypePolicyUpdated     = "billing.policy.updated"
	EventTypeTicketAllocated   = "billing.ticket.allocated"
	EventTypeTicketSold        = "billing.ticket.sold"
	EventTypeTicketBought      = "billing.ticket.bought"
	EventTypeTicketTransferred = "billing.ticket.transferred"
	EventTypeTicketRedeemed    = "billing.ticket.redeemed"
	EventTypeTicketRefunded    = "billing.ticket.refunded"
	EventTypeRefundUnconfirmed = "billing.ticket.refund_unconfirmed"
	EventTypePayout            = "billing.payout"
	EventTypeCharge            = "billing.charge"
)

// Flow names label payouts and charges in events and metrics.
const (
	FlowFee       = "fee"
	FlowSeller    = "seller"
	FlowOrganizer = "organizer"
	FlowReferrer  = "referrer"
	FlowRefund    = "refund"
	FlowReturned  = "escrow_returned"
	FlowUnlock    = "escrow_unlock"
	FlowBackstop  = "backstop"
	FlowPurchase  = "purchase"
	FlowDeposit   = "deposit"
)

func eventID(event [20]byte) string {
	return crypto.NewAddress(crypto.EventPrefix, event).String()
}

func accountID(account [20]byte) string {
	return crypto.NewAddress(crypto.AccountPrefix, account).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func newRegisteredEvent(record *EventRecord) *types.Event {
	return &types.Event{
		Type: EventTypeEventRegistered,
		Attributes: map[string]string{
			"event":       eventID(record.ID),
			"totalFeePpm": strconv.FormatUint(record.Rules.TotalFeePPM, 10),
			"orgGetsPpm":  strconv.FormatUint(record.Rules.OrgGetsPPM, 10),
			"refGetsPpm":  strconv.FormatUint(record.Rules.RefGetsPPM, 10),
			"policy":      record.Policy.String(),
		},
	}
}

func newRulesUpdatedEvent(record *EventRecord) *types.Event {
	evt := newRegisteredEvent(record)
	evt.Type = EventTypeRulesUpdated
	return evt
}

func newPolicyUpdatedEvent(record *EventRecord) *types.Event {
	return &types.Event{
		Type: EventTypePolicyUpdated,
		Attributes: map[string]string{
			"event":  eventID(record.ID),
			"policy": record.Policy.String(),
		},
	}
}

func newTicketEvent(eventType string, event [20]byte, ticket [32]byte, attrs map[string]string) *types.Event {
	out := map[string]string{
		"event":  eventID(event),
		"ticket": hex.EncodeToString(ticket[:]),
	}
	for k, v := range attrs {
		out[k] = v
	}
	return &types.Event{Type: eventType, Attributes: out}
}

func newPayoutEvent(account [20]byte, currency string, amount *big.Int, flow string) *types.Event {
	return &types.Event{
		Type: EventTypePayout,
		Attributes: map[string]string{
			"account":  accountID(account),
			"currency": normalizeCurrency(currency),
			"amount":   formatAmount(amount),
			"flow":     flow,
		},
	}
}

func newChargeEvent(account [20]byte, currency string, amount *big.Int, flow string) *types.Event {
	evt := newPayoutEvent(account, currency, amount, flow)
	evt.Type = EventTypeCharge
	return evt
}
