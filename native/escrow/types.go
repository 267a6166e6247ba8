package escrow

import (
	"math/big"
)

// Kind records why an amount was escrowed.
type Kind uint8

const (
	KindOrganizer Kind = iota + 1
	KindSeller
)

func (k Kind) String() string {
	switch k {
	case KindOrganizer:
		return "organizer"
	case KindSeller:
		return "seller"
	default:
		return "unknown"
	}
}

// Contribution is a single escrowed markup share. Hop is the resale number
// within the ticket's current allocation, starting at 1.
type Contribution struct {
	Hop         uint64
	Kind        Kind
	Beneficiary [20]byte
	Amount      *big.Int
}

// TicketRecord is the ordered escrow history of one ticket. Refunds consume it
// front to back.
type TicketRecord struct {
	Event         [20]byte
	Ticket        [32]byte
	Contributions []Contribution
}

// Clone returns a deep copy of the record so callers can safely mutate the copy
// without affecting the stored instance.
func (r *TicketRecord) Clone() *TicketRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Contributions = make([]Contribution, len(r.Contributions))
	for i, c := range r.Contributions {
		c.Amount = cloneBigInt(c.Amount)
		clone.Contributions[i] = c
	}
	return &clone
}

// Outstanding sums the amounts still held for the ticket.
func (r *TicketRecord) Outstanding() *big.Int {
	total := big.NewInt(0)
	if r == nil {
		return total
	}
	for _, c := range r.Contributions {
		if c.Amount != nil {
			total.Add(total, c.Amount)
		}
	}
	return total
}

// Payout is an amount leaving escrow toward a single party.
type Payout struct {
	Beneficiary [20]byte
	Kind        Kind
	Hop         uint64
	Amount      *big.Int
}

// Release summarises a refund-driven drain of a ticket's escrow history.
type Release struct {
	// ToRequester is the total clawed back for the refund requester.
	ToRequester *big.Int
	// Clawed lists the requester portion taken from each contribution.
	Clawed []Payout
	// Returned lists the remainder handed to the original beneficiaries.
	Returned []Payout
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
