package billing

import (
	"fmt"
	"math/big"
	"strings"

	"ticketledger/native/fees"
)

// Policy selects how positive markup shares are settled for an event.
type Policy uint8

const (
	// PolicyImmediate pays every markup share out at sale time.
	PolicyImmediate Policy = iota
	// PolicyEscrowed holds the organizer and seller markup shares in escrow
	// until they are unlocked or clawed back by a refund.
	PolicyEscrowed
)

func (p Policy) String() string {
	switch p {
	case PolicyImmediate:
		return "immediate"
	case PolicyEscrowed:
		return "escrowed"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy maps a configuration string onto a Policy.
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "immediate":
		return PolicyImmediate, nil
	case "escrowed", "escrow":
		return PolicyEscrowed, nil
	default:
		return 0, fmt.Errorf("billing: unknown policy %q", raw)
	}
}

// EventRecord is the persisted per-event configuration.
type EventRecord struct {
	ID           [20]byte
	Rules        fees.Rules
	Policy       Policy
	Currency     string
	RegisteredAt uint64
}

// Stats are the running per-event totals.
type Stats struct {
	Sold          *big.Int
	SoldCount     uint64
	Resold        *big.Int
	ResoldCount   uint64
	Refunded      *big.Int
	RefundedCount uint64
}

func newStats() *Stats {
	return &Stats{Sold: big.NewInt(0), Resold: big.NewInt(0), Refunded: big.NewInt(0)}
}

// Clone returns a deep copy of the stats.
func (s *Stats) Clone() *Stats {
	if s == nil {
		return newStats()
	}
	clone := *s
	clone.Sold = cloneBigInt(s.Sold)
	clone.Resold = cloneBigInt(s.Resold)
	clone.Refunded = cloneBigInt(s.Refunded)
	return &clone
}

func (s *Stats) sanitize() {
	if s.Sold == nil {
		s.Sold = big.NewInt(0)
	}
	if s.Resold == nil {
		s.Resold = big.NewInt(0)
	}
	if s.Refunded == nil {
		s.Refunded = big.NewInt(0)
	}
}

// ticketState is the core's own view of a ticket's lifecycle. Prices are
// mirrored from the sale hooks and only consulted when no TicketDirectory is
// configured.
type ticketState struct {
	Allocated  bool
	Refunded   bool
	Counted    bool
	Hops       uint64
	Owner      [20]byte
	FirstPrice *big.Int
	LastPrice  *big.Int
	// NoticePending marks a full refund the ticket manager has not accepted.
	NoticePending bool `rlp:"optional"`
}

// AllocateInput describes a primary sale.
type AllocateInput struct {
	Caller     [20]byte
	Event      [20]byte
	Ticket     [32]byte
	Currency   string
	Buyer      [20]byte
	Organizer  [20]byte
	FirstPrice *big.Int
}

// SaleInput describes a resale from Seller to Buyer.
type SaleInput struct {
	Caller    [20]byte
	Event     [20]byte
	Ticket    [32]byte
	Currency  string
	Seller    [20]byte
	Buyer     [20]byte
	Organizer [20]byte
	LastPrice *big.Int
	NewPrice  *big.Int
	// ChargeBuyer burns the buyer's final price in the same transaction.
	ChargeBuyer bool
}

// BuyInput charges a buyer the final price of a listing.
type BuyInput struct {
	Caller   [20]byte
	Event    [20]byte
	Ticket   [32]byte
	Currency string
	Buyer    [20]byte
	Price    *big.Int
}

// MoveInput describes a transfer or a redemption. To is ignored on redeem.
type MoveInput struct {
	Caller [20]byte
	Event  [20]byte
	Ticket [32]byte
	From   [20]byte
	To     [20]byte
}

// RefundRequest describes a full or partial refund. PercentagePPM of
// 1,000,000 is a full refund.
type RefundRequest struct {
	Caller        [20]byte
	Event         [20]byte
	Ticket        [32]byte
	Currency      string
	Owner         [20]byte
	Organizer     [20]byte
	PercentagePPM uint64
}

// SaleResult reports the money movements of a resale.
type SaleResult struct {
	Split         fees.Split
	Fee           *big.Int
	FinalPrice    *big.Int
	SellerPaid    *big.Int
	OrganizerPaid *big.Int
	ReferrerPaid  *big.Int
	SellerEscrow  *big.Int
	OrgEscrow     *big.Int
}

// RefundResult reports the money movements of a refund.
type RefundResult struct {
	RefundAmount *big.Int
	Clawback     *big.Int
	Backstop     *big.Int
	Returned     *big.Int
	Full         bool
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
