package billing

import (
	"errors"
	"math/big"

	"ticketledger/core/state"
	"ticketledger/native/escrow"
	"ticketledger/native/fees"
)

var errIndexChanged = errors.New("billing: escrow index changed")

// maxUnlockAttempts bounds the retries when sales keep adding tickets to the
// beneficiary's index between the read and the lock.
const maxUnlockAttempts = 8

// EscrowBalance returns the escrow row of beneficiary within event.
func (e *Engine) EscrowBalance(event, beneficiary [20]byte) (*big.Int, error) {
	var out *big.Int
	err := e.view(func(tx *state.Tx) error {
		if _, err := loadEvent(tx, event); err != nil {
			return err
		}
		var err error
		out, err = escrow.NewLedger(tx).Balance(event, beneficiary)
		return err
	})
	return out, err
}

// UnlockEscrow pays the whole escrow row of beneficiary out to it and drops the
// beneficiary from every ticket's escrow history. It succeeds on empty rows.
func (e *Engine) UnlockEscrow(caller [20]byte, currency string, event, beneficiary [20]byte) (*big.Int, error) {
	if err := e.requireOwner(caller, "unlock_escrow"); err != nil {
		return nil, err
	}
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	for attempt := 0; attempt < maxUnlockAttempts; attempt++ {
		amount, err := e.tryUnlock(currency, event, beneficiary)
		if errors.Is(err, errIndexChanged) {
			continue
		}
		if err != nil {
			return nil, err
		}
		e.logger.Info("billing: escrow unlocked",
			"event", eventID(event),
			"amount", amount.String())
		return amount, nil
	}
	return nil, errIndexChanged
}

func (e *Engine) tryUnlock(currency string, event, beneficiary [20]byte) (*big.Int, error) {
	var tickets [][32]byte
	if err := e.view(func(tx *state.Tx) error {
		var err error
		tickets, err = escrow.NewLedger(tx).Tickets(event, beneficiary)
		return err
	}); err != nil {
		return nil, err
	}
	locked := make(map[[32]byte]struct{}, len(tickets))
	keys := make([]lockKey, 0, len(tickets)+3)
	for _, ticket := range tickets {
		locked[ticket] = struct{}{}
		keys = append(keys, ticketLock(event, ticket))
	}
	keys = append(keys,
		eventLock(event),
		escrowRowLock(event, beneficiary),
		accountLock(currency, beneficiary),
	)

	var amount *big.Int
	err := e.execute("unlock_escrow", keys, func(tx *txn) error {
		record, err := loadEvent(tx.Tx, event)
		if err != nil {
			return err
		}
		ledger := escrow.NewLedger(tx.Tx)
		current, err := ledger.Tickets(event, beneficiary)
		if err != nil {
			return err
		}
		for _, ticket := range current {
			if _, ok := locked[ticket]; !ok {
				return errIndexChanged
			}
		}
		paid, _, err := ledger.Unlock(event, beneficiary)
		if err != nil {
			return err
		}
		if paid.Sign() > 0 {
			if err := bindCurrency(tx.Tx, record, currency); err != nil {
				return err
			}
			if err := tx.mint(record.Currency, beneficiary, paid, FlowUnlock); err != nil {
				return err
			}
		}
		tx.emit(escrow.NewUnlockedEvent(event, beneficiary, paid))
		amount = paid
		return nil
	})
	return amount, err
}

// Stats returns the running totals of a registered event.
func (e *Engine) Stats(event [20]byte) (*Stats, error) {
	var out *Stats
	err := e.view(func(tx *state.Tx) error {
		if _, err := loadEvent(tx, event); err != nil {
			return err
		}
		var err error
		out, err = loadStats(tx, event)
		return err
	})
	return out, err
}

// Balance returns the token balance of account.
func (e *Engine) Balance(currency string, account [20]byte) (*big.Int, error) {
	var out *big.Int
	err := e.view(func(tx *state.Tx) error {
		var err error
		out, err = tx.Balance(currency, account)
		return err
	})
	return out, err
}

// Deposit credits account with amount. It is the operator's bridge from the
// external token system and is restricted to the owner.
func (e *Engine) Deposit(caller [20]byte, currency string, account [20]byte, amount *big.Int) error {
	if err := e.requireOwner(caller, "deposit"); err != nil {
		return err
	}
	if err := fees.CheckAmount(amount); err != nil {
		return err
	}
	if normalizeCurrency(currency) == "" {
		return ErrCurrencyMismatch
	}
	return e.execute("deposit", []lockKey{accountLock(currency, account)}, func(tx *txn) error {
		return tx.mint(currency, account, amount, FlowDeposit)
	})
}
