package billing

import (
	"context"
	"math/big"
	"sync"
)

// TicketDirectory is the read side of the external ticket manager. The core
// never owns ticket identity, ownership or prices; it asks the directory.
// Implementations return ErrUnknownTicket (optionally wrapped) for tickets
// they do not know.
type TicketDirectory interface {
	TicketPrices(ctx context.Context, event [20]byte, ticket [32]byte) (first, last *big.Int, err error)
	TicketOwner(ctx context.Context, event [20]byte, ticket [32]byte) ([20]byte, error)
	IsEventRegistered(ctx context.Context, event [20]byte) (bool, error)
	MarkRefunded(ctx context.Context, event [20]byte, ticket [32]byte) error
}

type staticTicket struct {
	owner    [20]byte
	first    *big.Int
	last     *big.Int
	refunded bool
}

type staticTicketKey struct {
	event  [20]byte
	ticket [32]byte
}

// StaticDirectory is an in-memory TicketDirectory for embedding the core in a
// single process.
type StaticDirectory struct {
	mu      sync.RWMutex
	events  map[[20]byte]struct{}
	tickets map[staticTicketKey]*staticTicket
}

// NewStaticDirectory returns an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		events:  make(map[[20]byte]struct{}),
		tickets: make(map[staticTicketKey]*staticTicket),
	}
}

// AddEvent marks event as known to the ticket manager.
func (d *StaticDirectory) AddEvent(event [20]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[event] = struct{}{}
}

// SetTicket records (or replaces) a ticket's owner and prices.
func (d *StaticDirectory) SetTicket(event [20]byte, ticket [32]byte, owner [20]byte, first, last *big.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tickets[staticTicketKey{event, ticket}] = &staticTicket{
		owner: owner,
		first: cloneBigInt(first),
		last:  cloneBigInt(last),
	}
}

// Refunded reports whether MarkRefunded was called for the ticket.
func (d *StaticDirectory) Refunded(event [20]byte, ticket [32]byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.tickets[staticTicketKey{event, ticket}]
	return ok && entry.refunded
}

func (d *StaticDirectory) TicketPrices(_ context.Context, event [20]byte, ticket [32]byte) (*big.Int, *big.Int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.tickets[staticTicketKey{event, ticket}]
	if !ok {
		return nil, nil, ErrUnknownTicket
	}
	return cloneBigInt(entry.first), cloneBigInt(entry.last), nil
}

func (d *StaticDirectory) TicketOwner(_ context.Context, event [20]byte, ticket [32]byte) ([20]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.tickets[staticTicketKey{event, ticket}]
	if !ok {
		return [20]byte{}, ErrUnknownTicket
	}
	return entry.owner, nil
}

func (d *StaticDirectory) IsEventRegistered(_ context.Context, event [20]byte) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.events[event]
	return ok, nil
}

func (d *StaticDirectory) MarkRefunded(_ context.Context, event [20]byte, ticket [32]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.tickets[staticTicketKey{event, ticket}]
	if !ok {
		return ErrUnknownTicket
	}
	entry.refunded = true
	return nil
}
