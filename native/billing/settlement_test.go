package billing

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"ticketledger/native/fees"
)

func expectInt(t *testing.T, label string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: got %v want %d", label, got, want)
	}
}

func TestImmediateResaleWithoutReferrer(t *testing.T) {
	engine := newTestEngine(t, PolicyImmediate)
	ticket := ticketID(1)
	seller, buyer := addr(0x10), addr(0x11)
	allocate(t, engine, ticket, seller, 1_000_000)

	res := sell(t, engine, ticket, seller, buyer, 1_000_000, 2_000_000)

	expectInt(t, "fee", res.Fee, 460_000)
	expectInt(t, "final price", res.FinalPrice, 2_460_000)
	expectInt(t, "org channel", res.Split.OrgChannel, 500_000)
	expectBalance(t, engine, organizer, 500_000)
	expectBalance(t, engine, seller, 1_500_000)
	expectBalance(t, engine, platform, 460_000)
	expectEscrow(t, engine, organizer, 0)
	expectEscrow(t, engine, seller, 0)

	stats, err := engine.Stats(eventAddr)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	expectInt(t, "sold", stats.Sold, 1_000_000)
	expectInt(t, "resold", stats.Resold, 1_000_000)
	if stats.SoldCount != 1 || stats.ResoldCount != 1 {
		t.Fatalf("unexpected counts %+v", stats)
	}
}

func TestImmediateResaleWithReferrer(t *testing.T) {
	engine := newTestEngine(t, PolicyImmediate)
	ticket := ticketID(1)
	seller, buyer := addr(0x10), addr(0x11)
	allocate(t, engine, ticket, seller, 1_000_000)

	res, err := engine.OnSellWithRef(sale(ticket, seller, buyer, 1_000_000, 2_000_000), referrer)
	if err != nil {
		t.Fatalf("sell with ref: %v", err)
	}
	expectInt(t, "referrer paid", res.ReferrerPaid, 100_000)
	expectBalance(t, engine, organizer, 400_000)
	expectBalance(t, engine, referrer, 100_000)
	expectBalance(t, engine, seller, 1_500_000)
	expectBalance(t, engine, platform, 460_000)
}

func TestEscrowedResaleWithReferrer(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	ticket := ticketID(1)
	seller, buyer := addr(0x10), addr(0x11)
	allocate(t, engine, ticket, seller, 1_000_000)

	res, err := engine.OnSellWithRef(sale(ticket, seller, buyer, 1_000_000, 2_000_000), referrer)
	if err != nil {
		t.Fatalf("sell with ref: %v", err)
	}
	expectInt(t, "seller paid", res.SellerPaid, 1_000_000)
	expectInt(t, "seller escrow", res.SellerEscrow, 500_000)
	expectInt(t, "org escrow", res.OrgEscrow, 400_000)

	expectBalance(t, engine, seller, 1_000_000)
	expectBalance(t, engine, referrer, 100_000)
	expectBalance(t, engine, platform, 460_000)
	expectBalance(t, engine, organizer, 0)
	expectEscrow(t, engine, organizer, 400_000)
	expectEscrow(t, engine, seller, 500_000)
}

func TestResaleAtLossPaysSellerOnly(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	ticket := ticketID(1)
	seller, buyer := addr(0x10), addr(0x11)
	allocate(t, engine, ticket, seller, 2_000)

	res := sell(t, engine, ticket, seller, buyer, 2_000, 1_000)
	expectInt(t, "markup", res.Split.Markup, 0)
	expectInt(t, "fee", res.Fee, 230)
	expectBalance(t, engine, seller, 1_000)
	expectBalance(t, engine, organizer, 0)
	expectEscrow(t, engine, organizer, 0)
	expectEscrow(t, engine, seller, 0)
}

func TestPartialRefundSplitsEscrow(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	ticket := ticketID(1)
	first, second := addr(0x10), addr(0x11)
	deposit(t, engine, organizer, 1_000_000)
	allocate(t, engine, ticket, first, 1_000_000)
	sell(t, engine, ticket, first, second, 1_000_000, 2_000_000)

	res, err := refund(engine, ticket, second, 500_000)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	expectInt(t, "refund amount", res.RefundAmount, 1_000_000)
	expectInt(t, "clawback", res.Clawback, 500_000)
	expectInt(t, "backstop", res.Backstop, 500_000)
	expectInt(t, "returned", res.Returned, 500_000)
	if res.Full {
		t.Fatalf("partial refund reported as full")
	}

	expectBalance(t, engine, second, 1_000_000)
	expectBalance(t, engine, organizer, 750_000)
	expectBalance(t, engine, first, 1_250_000)
	expectEscrow(t, engine, organizer, 0)
	expectEscrow(t, engine, first, 0)

	stats, err := engine.Stats(eventAddr)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	expectInt(t, "refunded", stats.Refunded, 1_000_000)
	if stats.RefundedCount != 1 {
		t.Fatalf("refunded count = %d", stats.RefundedCount)
	}

	// A later full refund still works and does not count the ticket twice.
	deposit(t, engine, organizer, 1_250_000)
	res, err = refund(engine, ticket, second, fees.PPMScale)
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	expectInt(t, "backstop", res.Backstop, 2_000_000)
	stats, _ = engine.Stats(eventAddr)
	expectInt(t, "refunded", stats.Refunded, 3_000_000)
	if stats.RefundedCount != 1 {
		t.Fatalf("refunded count = %d", stats.RefundedCount)
	}
}

func TestPartialRefundWithoutEscrow(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	ticket := ticketID(1)
	holder := addr(0x10)
	deposit(t, engine, organizer, 1_000)
	allocate(t, engine, ticket, holder, 1_000)

	res, err := refund(engine, ticket, holder, 500_000)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	expectInt(t, "backstop", res.Backstop, 500)
	expectBalance(t, engine, organizer, 500)
	expectBalance(t, engine, holder, 500)
}

func TestFullRefundAfterTwoHops(t *testing.T) {
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, PolicyEscrowed)
	engine.SetEmitter(emitter)
	ticket := ticketID(1)
	a, b, c := addr(0x10), addr(0x11), addr(0x12)
	deposit(t, engine, organizer, 1_000)
	allocate(t, engine, ticket, a, 1_000)
	sell(t, engine, ticket, a, b, 1_000, 2_000)
	sell(t, engine, ticket, b, c, 2_000, 4_000)

	expectEscrow(t, engine, organizer, 1_500)
	expectEscrow(t, engine, a, 500)
	expectEscrow(t, engine, b, 1_000)

	res, err := engine.OnRefund(context.Background(), eventAddr, eventAddr, ticket, currency, c, organizer)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	expectInt(t, "clawback", res.Clawback, 3_000)
	expectInt(t, "backstop", res.Backstop, 1_000)
	if !res.Full {
		t.Fatalf("expected a full refund")
	}

	expectBalance(t, engine, c, 4_000)
	expectBalance(t, engine, organizer, 0)
	expectBalance(t, engine, a, 1_000)
	expectBalance(t, engine, b, 2_000)
	expectBalance(t, engine, platform, 460+920)
	expectEscrow(t, engine, organizer, 0)
	expectEscrow(t, engine, a, 0)
	expectEscrow(t, engine, b, 0)

	stats, _ := engine.Stats(eventAddr)
	expectInt(t, "refunded", stats.Refunded, 4_000)
	if stats.RefundedCount != 1 {
		t.Fatalf("refunded count = %d", stats.RefundedCount)
	}
	if emitter.count(EventTypeTicketRefunded) != 1 {
		t.Fatalf("expected one refund event")
	}

	if _, err := engine.OnRefund(context.Background(), eventAddr, eventAddr, ticket, currency, c, organizer); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
	if _, err := engine.OnSell(sale(ticket, c, a, 4_000, 5_000)); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded on resale, got %v", err)
	}
}

func TestRefundAfterPriceDropThenRise(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	ticket := ticketID(1)
	a, b, c := addr(0x10), addr(0x11), addr(0x12)
	deposit(t, engine, organizer, 500)
	allocate(t, engine, ticket, a, 1_000)
	sell(t, engine, ticket, a, b, 1_000, 500)
	sell(t, engine, ticket, b, c, 500, 2_000)

	expectEscrow(t, engine, organizer, 750)
	expectEscrow(t, engine, b, 750)

	res, err := refund(engine, ticket, c, fees.PPMScale)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	expectInt(t, "backstop", res.Backstop, 500)
	expectBalance(t, engine, c, 2_000)
	expectBalance(t, engine, organizer, 0)
	expectBalance(t, engine, a, 500)
	expectBalance(t, engine, b, 500)
}

func TestZeroPercentRefundReleasesEscrow(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	ticket := ticketID(1)
	a, b := addr(0x10), addr(0x11)
	allocate(t, engine, ticket, a, 1_000)
	sell(t, engine, ticket, a, b, 1_000, 2_000)

	res, err := refund(engine, ticket, b, 0)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	expectInt(t, "refund amount", res.RefundAmount, 0)
	expectInt(t, "returned", res.Returned, 1_000)
	expectBalance(t, engine, b, 0)
	expectBalance(t, engine, organizer, 500)
	expectBalance(t, engine, a, 1_500)
	expectEscrow(t, engine, organizer, 0)
	expectEscrow(t, engine, a, 0)

	stats, _ := engine.Stats(eventAddr)
	expectInt(t, "refunded", stats.Refunded, 0)
	if stats.RefundedCount != 1 {
		t.Fatalf("refunded count = %d", stats.RefundedCount)
	}
}

func TestRefundFailsWhenOrganizerUnfunded(t *testing.T) {
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, PolicyEscrowed)
	engine.SetEmitter(emitter)
	ticket := ticketID(1)
	a, b := addr(0x10), addr(0x11)
	allocate(t, engine, ticket, a, 1_000)
	sell(t, engine, ticket, a, b, 1_000, 2_000)
	before := len(emitter.events)

	if _, err := refund(engine, ticket, b, fees.PPMScale); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(emitter.events) != before {
		t.Fatalf("failed refund emitted events")
	}
	expectBalance(t, engine, b, 0)
	expectEscrow(t, engine, organizer, 500)
	expectEscrow(t, engine, a, 500)
	stats, _ := engine.Stats(eventAddr)
	if stats.Refunded.Sign() != 0 || stats.RefundedCount != 0 {
		t.Fatalf("failed refund touched stats: %+v", stats)
	}

	deposit(t, engine, organizer, 1_000)
	if _, err := refund(engine, ticket, b, fees.PPMScale); err != nil {
		t.Fatalf("refund after funding: %v", err)
	}
	expectBalance(t, engine, b, 2_000)
	expectBalance(t, engine, organizer, 0)
}

func TestRefundRequiresCurrentOwner(t *testing.T) {
	engine := newTestEngine(t, PolicyImmediate)
	ticket := ticketID(1)
	a, b := addr(0x10), addr(0x11)
	deposit(t, engine, organizer, 10_000)
	allocate(t, engine, ticket, a, 1_000)
	sell(t, engine, ticket, a, b, 1_000, 2_000)

	if _, err := refund(engine, ticket, a, fees.PPMScale); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.OnTransfer(MoveInput{Caller: eventAddr, Event: eventAddr, Ticket: ticket, From: b, To: a}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, err := refund(engine, ticket, a, fees.PPMScale); err != nil {
		t.Fatalf("refund after transfer: %v", err)
	}
	expectBalance(t, engine, a, 1_500+2_000)
}

func TestReallocateAfterFullRefund(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	ticket := ticketID(1)
	a, b := addr(0x10), addr(0x11)
	deposit(t, engine, organizer, 10_000)
	allocate(t, engine, ticket, a, 1_000)
	if _, err := refund(engine, ticket, a, fees.PPMScale); err != nil {
		t.Fatalf("refund: %v", err)
	}

	allocate(t, engine, ticket, b, 3_000)
	sell(t, engine, ticket, b, a, 3_000, 4_000)
	res, err := refund(engine, ticket, a, fees.PPMScale)
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	expectInt(t, "backstop", res.Backstop, 3_000)

	stats, _ := engine.Stats(eventAddr)
	if stats.SoldCount != 2 || stats.RefundedCount != 2 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	expectInt(t, "sold", stats.Sold, 4_000)
	expectInt(t, "refunded", stats.Refunded, 5_000)
}

func TestUnlockEscrow(t *testing.T) {
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, PolicyEscrowed)
	engine.SetEmitter(emitter)
	a, b := addr(0x10), addr(0x11)
	first, second := ticketID(1), ticketID(2)
	allocate(t, engine, first, a, 1_000)
	allocate(t, engine, second, a, 1_000)
	sell(t, engine, first, a, b, 1_000, 2_000)
	sell(t, engine, second, a, b, 1_000, 3_000)
	expectEscrow(t, engine, organizer, 1_500)

	if _, err := engine.UnlockEscrow(addr(0x02), currency, eventAddr, organizer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	paid, err := engine.UnlockEscrow(owner, currency, eventAddr, organizer)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	expectInt(t, "unlocked", paid, 1_500)
	expectBalance(t, engine, organizer, 1_500)
	expectEscrow(t, engine, organizer, 0)

	paid, err = engine.UnlockEscrow(owner, currency, eventAddr, organizer)
	if err != nil {
		t.Fatalf("second unlock: %v", err)
	}
	expectInt(t, "second unlock", paid, 0)
	if emitter.count("escrow.unlocked") != 2 {
		t.Fatalf("expected two unlock events")
	}

	// Unlocked shares are gone from the ticket history; the organizer now
	// backs the refund from its real balance.
	res, err := refund(engine, first, b, fees.PPMScale)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	expectInt(t, "clawback", res.Clawback, 500)
	expectInt(t, "backstop", res.Backstop, 1_500)
	expectBalance(t, engine, organizer, 0)
	expectEscrow(t, engine, a, 1_000)
}

func TestUnlockEscrowUnknownEvent(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	if _, err := engine.UnlockEscrow(owner, currency, addr(0xE9), organizer); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := engine.EscrowBalance(addr(0xE9), organizer); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestTransferAndRedeemMoveNoMoney(t *testing.T) {
	emitter := &recordingEmitter{}
	engine := newTestEngine(t, PolicyImmediate)
	engine.SetEmitter(emitter)
	ticket := ticketID(1)
	a, b := addr(0x10), addr(0x11)
	allocate(t, engine, ticket, a, 1_000)

	if err := engine.OnTransfer(MoveInput{Caller: eventAddr, Event: eventAddr, Ticket: ticket, From: a, To: b}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := engine.OnRedeem(MoveInput{Caller: eventAddr, Event: eventAddr, Ticket: ticket, From: b}); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	expectBalance(t, engine, a, 0)
	expectBalance(t, engine, b, 0)
	if emitter.count(EventTypeTicketTransferred) != 1 || emitter.count(EventTypeTicketRedeemed) != 1 {
		t.Fatalf("missing transfer or redeem events")
	}
	if emitter.count(EventTypePayout) != 0 {
		t.Fatalf("transfer or redeem paid out")
	}
}

func TestPartialRefundsPriceEachCallOffLastPrice(t *testing.T) {
	engine := newTestEngine(t, PolicyImmediate)
	ticket := ticketID(1)
	holder := addr(0x10)
	deposit(t, engine, organizer, 2_500)
	allocate(t, engine, ticket, holder, 1_000)

	for i := 0; i < 3; i++ {
		res, err := refund(engine, ticket, holder, 500_000)
		if err != nil {
			t.Fatalf("partial refund %d: %v", i, err)
		}
		expectInt(t, "partial refund", res.RefundAmount, 500)
	}
	res, err := refund(engine, ticket, holder, fees.PPMScale)
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	expectInt(t, "full refund", res.RefundAmount, 1_000)
	expectBalance(t, engine, holder, 2_500)
	expectBalance(t, engine, organizer, 0)

	stats, err := engine.Stats(eventAddr)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	expectInt(t, "refunded", stats.Refunded, 2_500)
	if stats.RefundedCount != 1 {
		t.Fatalf("refunded count: got %d want 1", stats.RefundedCount)
	}
	if _, err := refund(engine, ticket, holder, 500_000); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}
}
