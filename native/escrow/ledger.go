package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"ticketledger/native/fees"
)

var (
	errNilState = errors.New("escrow ledger: state not configured")

	// ErrInvalidAmount is returned when crediting a non-positive amount.
	ErrInvalidAmount = errors.New("escrow ledger: amount must be positive")
	// ErrRowUnderflow signals that a row holds less than the history it backs.
	ErrRowUnderflow = errors.New("escrow ledger: row balance below recorded contributions")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	rowPrefix    = []byte("escrow/row/")
	ticketPrefix = []byte("escrow/ticket/")
	indexPrefix  = []byte("escrow/index/")
)

func compositeKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// RowKey returns the state key of the (event, beneficiary) balance row.
func RowKey(event, beneficiary [20]byte) []byte {
	return compositeKey(rowPrefix, event[:], beneficiary[:])
}

// TicketKey returns the state key of a ticket's escrow history.
func TicketKey(event [20]byte, ticket [32]byte) []byte {
	return compositeKey(ticketPrefix, event[:], ticket[:])
}

// IndexKey returns the state key listing tickets that hold escrow for a
// beneficiary within an event.
func IndexKey(event, beneficiary [20]byte) []byte {
	return compositeKey(indexPrefix, event[:], beneficiary[:])
}

// Ledger applies escrow bookkeeping against a single state transaction.
type Ledger struct {
	state ledgerState
}

// NewLedger binds a ledger to the provided state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

// Balance returns the row balance for (event, beneficiary). Rows that were
// never credited hold zero.
func (l *Ledger) Balance(event, beneficiary [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	amount := new(big.Int)
	ok, err := l.state.KVGet(RowKey(event, beneficiary), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (l *Ledger) setBalance(event, beneficiary [20]byte, amount *big.Int) error {
	return l.state.KVPut(RowKey(event, beneficiary), cloneBigInt(amount))
}

// Record loads the escrow history of a ticket. A ticket with no history yields
// an empty record.
func (l *Ledger) Record(event [20]byte, ticket [32]byte) (*TicketRecord, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	record := new(TicketRecord)
	ok, err := l.state.KVGet(TicketKey(event, ticket), record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &TicketRecord{Event: event, Ticket: ticket}, nil
	}
	return record, nil
}

func (l *Ledger) storeRecord(record *TicketRecord) error {
	return l.state.KVPut(TicketKey(record.Event, record.Ticket), record)
}

// Tickets lists the tickets that currently hold escrow for beneficiary.
func (l *Ledger) Tickets(event, beneficiary [20]byte) ([][32]byte, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := l.state.KVGetList(IndexKey(event, beneficiary), &raw); err != nil {
		return nil, err
	}
	out := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		var id [32]byte
		copy(id[:], entry)
		out = append(out, id)
	}
	return out, nil
}

// Credit escrows amount for beneficiary and appends it to the ticket history.
func (l *Ledger) Credit(event [20]byte, ticket [32]byte, hop uint64, kind Kind, beneficiary [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.Balance(event, beneficiary)
	if err != nil {
		return err
	}
	if err := l.setBalance(event, beneficiary, balance.Add(balance, amount)); err != nil {
		return err
	}
	record, err := l.Record(event, ticket)
	if err != nil {
		return err
	}
	record.Contributions = append(record.Contributions, Contribution{
		Hop:         hop,
		Kind:        kind,
		Beneficiary: beneficiary,
		Amount:      cloneBigInt(amount),
	})
	if err := l.storeRecord(record); err != nil {
		return err
	}
	return l.state.KVAppend(IndexKey(event, beneficiary), ticket[:])
}

// Release drains the ticket's escrow history. Each contribution gives
// ApplyPPM(amount, ppm) to the requester and the remainder back to its
// beneficiary. When limit is non-nil the requester total never exceeds it and
// anything above the limit is returned to the beneficiaries instead. Every row
// is debited by the full contribution.
func (l *Ledger) Release(event [20]byte, ticket [32]byte, ppm uint64, limit *big.Int) (*Release, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if ppm > fees.PPMScale {
		return nil, fmt.Errorf("escrow ledger: percentage %d exceeds %d", ppm, fees.PPMScale)
	}
	record, err := l.Record(event, ticket)
	if err != nil {
		return nil, err
	}
	result := &Release{ToRequester: big.NewInt(0)}
	var remaining *big.Int
	if limit != nil {
		remaining = cloneBigInt(limit)
	}
	for _, c := range record.Contributions {
		amount := cloneBigInt(c.Amount)
		if amount.Sign() == 0 {
			continue
		}
		claw := fees.ApplyPPM(amount, ppm)
		if claw.Cmp(amount) > 0 {
			claw.Set(amount)
		}
		if remaining != nil {
			if claw.Cmp(remaining) > 0 {
				claw.Set(remaining)
			}
			remaining.Sub(remaining, claw)
		}
		rest := new(big.Int).Sub(amount, claw)

		balance, err := l.Balance(event, c.Beneficiary)
		if err != nil {
			return nil, err
		}
		if balance.Cmp(amount) < 0 {
			return nil, fmt.Errorf("%w: beneficiary %x holds %s, contribution %s", ErrRowUnderflow, c.Beneficiary, balance, amount)
		}
		if err := l.setBalance(event, c.Beneficiary, balance.Sub(balance, amount)); err != nil {
			return nil, err
		}

		if claw.Sign() > 0 {
			result.ToRequester.Add(result.ToRequester, claw)
			result.Clawed = append(result.Clawed, Payout{Beneficiary: c.Beneficiary, Kind: c.Kind, Hop: c.Hop, Amount: claw})
		}
		if rest.Sign() > 0 {
			result.Returned = append(result.Returned, Payout{Beneficiary: c.Beneficiary, Kind: c.Kind, Hop: c.Hop, Amount: rest})
		}
	}
	record.Contributions = nil
	if err := l.storeRecord(record); err != nil {
		return nil, err
	}
	return result, nil
}

// Unlock pays out and zeroes the (event, beneficiary) row. The beneficiary's
// contributions are removed from every ticket history so that a later refund
// cannot release the same funds twice. The returned tickets are the ones whose
// history was touched.
func (l *Ledger) Unlock(event, beneficiary [20]byte) (*big.Int, [][32]byte, error) {
	if l == nil || l.state == nil {
		return nil, nil, errNilState
	}
	amount, err := l.Balance(event, beneficiary)
	if err != nil {
		return nil, nil, err
	}
	tickets, err := l.Tickets(event, beneficiary)
	if err != nil {
		return nil, nil, err
	}
	for _, ticket := range tickets {
		record, err := l.Record(event, ticket)
		if err != nil {
			return nil, nil, err
		}
		kept := record.Contributions[:0]
		for _, c := range record.Contributions {
			if c.Beneficiary == beneficiary {
				continue
			}
			kept = append(kept, c)
		}
		record.Contributions = kept
		if err := l.storeRecord(record); err != nil {
			return nil, nil, err
		}
	}
	if err := l.setBalance(event, beneficiary, big.NewInt(0)); err != nil {
		return nil, nil, err
	}
	if err := l.state.KVPut(IndexKey(event, beneficiary), [][]byte{}); err != nil {
		return nil, nil, err
	}
	return amount, tickets, nil
}
