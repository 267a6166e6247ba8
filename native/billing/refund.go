package billing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"ticketledger/core/state"
	"ticketledger/native/escrow"
	"ticketledger/native/fees"
)

// OnRefund fully refunds a ticket to owner.
func (e *Engine) OnRefund(ctx context.Context, caller, event [20]byte, ticket [32]byte, currency string, owner, organizer [20]byte) (*RefundResult, error) {
	return e.Refund(ctx, RefundRequest{
		Caller:        caller,
		Event:         event,
		Ticket:        ticket,
		Currency:      currency,
		Owner:         owner,
		Organizer:     organizer,
		PercentagePPM: fees.PPMScale,
	})
}

// OnRefundPartial refunds percentagePPM of the ticket's last price to owner.
func (e *Engine) OnRefundPartial(ctx context.Context, caller, event [20]byte, ticket [32]byte, currency string, owner, organizer [20]byte, percentagePPM uint64) (*RefundResult, error) {
	return e.Refund(ctx, RefundRequest{
		Caller:        caller,
		Event:         event,
		Ticket:        ticket,
		Currency:      currency,
		Owner:         owner,
		Organizer:     organizer,
		PercentagePPM: percentagePPM,
	})
}

// Refund pays PercentagePPM of the ticket's last price back to its owner.
//
// The ticket's escrow history is drained first: each contribution sends
// PercentagePPM of itself to the owner and the rest to its beneficiary. The
// organizer's real balance funds whatever part of the refund the escrow did
// not cover; for a chain of rising resales this is exactly the first price.
// A full refund closes the ticket until it is allocated again. The ticket
// manager is told only after the ledger has committed; if it cannot be
// reached the refund stands, the result is returned together with an error
// wrapping ErrRefundUnconfirmed, and ConfirmRefund retries the notice.
func (e *Engine) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	if req.PercentagePPM > fees.PPMScale {
		return nil, ErrInvalidPercentage
	}
	if e == nil || e.state == nil {
		return nil, errNilState
	}

	releaseTicket := e.locks.acquire(ticketLock(req.Event, req.Ticket))
	defer releaseTicket()

	var record *escrow.TicketRecord
	if err := e.view(func(tx *state.Tx) error {
		var err error
		record, err = escrow.NewLedger(tx).Record(req.Event, req.Ticket)
		return err
	}); err != nil {
		return nil, err
	}
	keys := []lockKey{
		eventLock(req.Event),
		statsLock(req.Event),
		accountLock(req.Currency, req.Owner),
		accountLock(req.Currency, req.Organizer),
	}
	for _, c := range record.Contributions {
		keys = append(keys,
			escrowRowLock(req.Event, c.Beneficiary),
			accountLock(req.Currency, c.Beneficiary),
		)
	}
	releaseRows := e.locks.acquire(keys...)
	defer releaseRows()

	var result *RefundResult
	err := e.commit("refund", func(tx *txn) error {
		eventRecord, err := authorizeHook(tx.Tx, req.Caller, req.Event)
		if err != nil {
			return err
		}
		if err := bindCurrency(tx.Tx, eventRecord, req.Currency); err != nil {
			return err
		}
		currency := eventRecord.Currency
		ts, err := loadTicket(tx.Tx, req.Event, req.Ticket)
		if err != nil {
			return err
		}
		if ts.Refunded {
			return ErrAlreadyRefunded
		}
		lastPrice, err := e.resolveTicket(ctx, req, ts)
		if err != nil {
			return err
		}

		res := &RefundResult{
			RefundAmount: fees.ApplyPPM(lastPrice, req.PercentagePPM),
			Returned:     big.NewInt(0),
			Full:         req.PercentagePPM == fees.PPMScale,
		}
		release, err := escrow.NewLedger(tx.Tx).Release(req.Event, req.Ticket, req.PercentagePPM, res.RefundAmount)
		if err != nil {
			return err
		}
		res.Clawback = release.ToRequester
		res.Backstop = new(big.Int).Sub(res.RefundAmount, release.ToRequester)

		if err := tx.burn(currency, req.Organizer, res.Backstop, FlowBackstop); err != nil {
			return err
		}
		if err := tx.mint(currency, req.Owner, res.RefundAmount, FlowRefund); err != nil {
			return err
		}
		for _, p := range release.Clawed {
			tx.emit(escrow.NewClawbackEvent(req.Event, req.Ticket, p))
		}
		for _, p := range release.Returned {
			if err := tx.mint(currency, p.Beneficiary, p.Amount, FlowReturned); err != nil {
				return err
			}
			res.Returned.Add(res.Returned, p.Amount)
			tx.emit(escrow.NewReturnedEvent(req.Event, req.Ticket, p))
		}

		stats, err := loadStats(tx.Tx, req.Event)
		if err != nil {
			return err
		}
		stats.Refunded.Add(stats.Refunded, res.RefundAmount)
		if !ts.Counted {
			stats.RefundedCount++
			ts.Counted = true
		}
		if err := storeStats(tx.Tx, req.Event, stats); err != nil {
			return err
		}
		if res.Full {
			ts.Refunded = true
			ts.NoticePending = e.directory != nil
		}
		if err := storeTicket(tx.Tx, req.Event, req.Ticket, ts); err != nil {
			return err
		}

		tx.emit(newTicketEvent(EventTypeTicketRefunded, req.Event, req.Ticket, map[string]string{
			"owner":         accountID(req.Owner),
			"organizer":     accountID(req.Organizer),
			"currency":      currency,
			"percentagePpm": strconv.FormatUint(req.PercentagePPM, 10),
			"amount":        formatAmount(res.RefundAmount),
			"clawback":      formatAmount(res.Clawback),
			"backstop":      formatAmount(res.Backstop),
		}))

		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("billing: ticket refunded",
		"event", eventID(req.Event),
		"percentagePpm", req.PercentagePPM,
		"amount", result.RefundAmount.String(),
		"backstop", result.Backstop.String())
	if result.Full && e.directory != nil {
		if err := e.notifyRefunded(ctx, req.Event, req.Ticket); err != nil {
			return result, err
		}
	}
	return result, nil
}

// ConfirmRefund delivers a full refund that the ticket manager has not yet
// acknowledged. It is a no-op when nothing is pending.
func (e *Engine) ConfirmRefund(ctx context.Context, caller, event [20]byte, ticket [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	release := e.locks.acquire(ticketLock(event, ticket))
	defer release()

	var pending bool
	if err := e.view(func(tx *state.Tx) error {
		if _, err := authorizeHook(tx, caller, event); err != nil {
			return err
		}
		ts, err := loadTicket(tx, event, ticket)
		if err != nil {
			return err
		}
		pending = ts.NoticePending
		return nil
	}); err != nil {
		return err
	}
	if !pending || e.directory == nil {
		return nil
	}
	return e.notifyRefunded(ctx, event, ticket)
}

// notifyRefunded tells the ticket manager about a committed full refund and
// clears the pending flag once it has accepted. Callers hold the ticket lock.
func (e *Engine) notifyRefunded(ctx context.Context, event [20]byte, ticket [32]byte) error {
	if err := e.directory.MarkRefunded(ctx, event, ticket); err != nil {
		e.logger.Warn("billing: refund not acknowledged by ticket manager",
			"event", eventID(event),
			"error", err)
		e.emit(newTicketEvent(EventTypeRefundUnconfirmed, event, ticket, map[string]string{
			"reason": err.Error(),
		}))
		return fmt.Errorf("%w: %v", ErrRefundUnconfirmed, err)
	}
	return e.commit("refund_notice", func(tx *txn) error {
		ts, err := loadTicket(tx.Tx, event, ticket)
		if err != nil {
			return err
		}
		if !ts.NoticePending {
			return nil
		}
		ts.NoticePending = false
		return storeTicket(tx.Tx, event, ticket, ts)
	})
}

// resolveTicket returns the last price of the ticket, checking that the
// request names the ticket's current owner.
func (e *Engine) resolveTicket(ctx context.Context, req RefundRequest, ts *ticketState) (*big.Int, error) {
	if e.directory == nil {
		if !ts.Allocated {
			return nil, ErrUnknownTicket
		}
		if ts.Owner != req.Owner {
			return nil, ErrUnauthorized
		}
		return cloneBigInt(ts.LastPrice), nil
	}
	_, last, err := e.directory.TicketPrices(ctx, req.Event, req.Ticket)
	if err != nil {
		if errors.Is(err, ErrUnknownTicket) {
			return nil, ErrUnknownTicket
		}
		return nil, fmt.Errorf("billing: query ticket prices: %w", err)
	}
	owner, err := e.directory.TicketOwner(ctx, req.Event, req.Ticket)
	if err != nil {
		if errors.Is(err, ErrUnknownTicket) {
			return nil, ErrUnknownTicket
		}
		return nil, fmt.Errorf("billing: query ticket owner: %w", err)
	}
	if owner != req.Owner {
		return nil, ErrUnauthorized
	}
	if err := fees.CheckAmount(last); err != nil {
		return nil, err
	}
	return cloneBigInt(last), nil
}
