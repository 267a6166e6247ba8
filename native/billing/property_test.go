package billing

import (
	"errors"
	"math/big"
	"math/rand"
	"sync"
	"testing"

	"ticketledger/native/fees"
)

type ticketModel struct {
	id       [32]byte
	holder   [20]byte
	last     int64
	refunded bool
}

// Every unit credited to escrow either still sits in a row or left through a
// refund, a return or an unlock.
func TestEscrowIsConserved(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	engine := newTestEngine(t, PolicyEscrowed)
	deposit(t, engine, organizer, 1_000_000_000)

	holders := [][20]byte{addr(0x10), addr(0x11), addr(0x12), addr(0x13), addr(0x14)}
	beneficiaries := append([][20]byte{organizer}, holders...)
	tickets := make([]*ticketModel, 3)
	for i := range tickets {
		tickets[i] = &ticketModel{id: ticketID(byte(i + 1)), holder: holders[i], last: 1_000}
		allocate(t, engine, tickets[i].id, tickets[i].holder, tickets[i].last)
	}

	credited := big.NewInt(0)
	released := big.NewInt(0)
	percentages := []uint64{0, 250_000, 500_000, fees.PPMScale}

	for step := 0; step < 300; step++ {
		tm := tickets[rng.Intn(len(tickets))]
		if tm.refunded {
			tm.holder = holders[rng.Intn(len(holders))]
			tm.last = 1 + rng.Int63n(10_000)
			tm.refunded = false
			allocate(t, engine, tm.id, tm.holder, tm.last)
			continue
		}
		switch roll := rng.Intn(10); {
		case roll < 7:
			buyer := holders[rng.Intn(len(holders))]
			next := 1 + rng.Int63n(10_000)
			in := sale(tm.id, tm.holder, buyer, tm.last, next)
			var (
				res *SaleResult
				err error
			)
			if rng.Intn(2) == 0 {
				res, err = engine.OnSellWithRef(in, referrer)
			} else {
				res, err = engine.OnSell(in)
			}
			if err != nil {
				t.Fatalf("step %d: sell: %v", step, err)
			}
			if got := res.Split.Total(); got.Cmp(big.NewInt(next)) != 0 {
				t.Fatalf("step %d: split total %s != new price %d", step, got, next)
			}
			credited.Add(credited, res.SellerEscrow)
			credited.Add(credited, res.OrgEscrow)
			tm.holder, tm.last = buyer, next
		case roll < 9:
			ppm := percentages[rng.Intn(len(percentages))]
			res, err := refund(engine, tm.id, tm.holder, ppm)
			if err != nil {
				t.Fatalf("step %d: refund: %v", step, err)
			}
			if res.Clawback.Cmp(res.RefundAmount) > 0 {
				t.Fatalf("step %d: clawback %s exceeds refund %s", step, res.Clawback, res.RefundAmount)
			}
			released.Add(released, res.Clawback)
			released.Add(released, res.Returned)
			tm.refunded = res.Full
		default:
			who := beneficiaries[rng.Intn(len(beneficiaries))]
			paid, err := engine.UnlockEscrow(owner, currency, eventAddr, who)
			if err != nil {
				t.Fatalf("step %d: unlock: %v", step, err)
			}
			released.Add(released, paid)
		}

		held := big.NewInt(0)
		for _, who := range beneficiaries {
			row, err := engine.EscrowBalance(eventAddr, who)
			if err != nil {
				t.Fatalf("escrow balance: %v", err)
			}
			if row.Sign() < 0 {
				t.Fatalf("step %d: negative escrow row", step)
			}
			held.Add(held, row)
		}
		if total := new(big.Int).Add(held, released); total.Cmp(credited) != 0 {
			t.Fatalf("step %d: held %s + released %s != credited %s", step, held, released, credited)
		}
	}
}

func TestConcurrentSalesOnDistinctTickets(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	const workers = 16
	for i := 0; i < workers; i++ {
		allocate(t, engine, ticketID(byte(i+1)), addr(byte(0x40+i)), 1_000)
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.OnSell(sale(ticketID(byte(i+1)), addr(byte(0x40+i)), addr(byte(0x80+i)), 1_000, 2_000))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent sell: %v", err)
		}
	}

	stats, err := engine.Stats(eventAddr)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ResoldCount != workers {
		t.Fatalf("resold count = %d", stats.ResoldCount)
	}
	expectInt(t, "resold", stats.Resold, workers*1_000)
	expectEscrow(t, engine, organizer, workers*500)
	expectBalance(t, engine, platform, workers*460)
}

func TestConcurrentRefundAndUnlock(t *testing.T) {
	engine := newTestEngine(t, PolicyEscrowed)
	deposit(t, engine, organizer, 1_000_000)
	const tickets = 8
	for i := 0; i < tickets; i++ {
		id := ticketID(byte(i + 1))
		allocate(t, engine, id, addr(0x10), 1_000)
		sell(t, engine, id, addr(0x10), addr(byte(0x20+i)), 1_000, 2_000)
	}
	expectEscrow(t, engine, organizer, tickets*500)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		released = big.NewInt(0)
	)
	for i := 0; i < tickets; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := refund(engine, ticketID(byte(i+1)), addr(byte(0x20+i)), fees.PPMScale)
			if err != nil {
				t.Errorf("refund %d: %v", i, err)
				return
			}
			mu.Lock()
			released.Add(released, res.Clawback)
			released.Add(released, res.Returned)
			mu.Unlock()
		}(i)
	}
	for _, who := range [][20]byte{organizer, addr(0x10)} {
		wg.Add(1)
		go func(who [20]byte) {
			defer wg.Done()
			paid, err := engine.UnlockEscrow(owner, currency, eventAddr, who)
			if err != nil && !errors.Is(err, errIndexChanged) {
				t.Errorf("unlock: %v", err)
				return
			}
			if paid != nil {
				mu.Lock()
				released.Add(released, paid)
				mu.Unlock()
			}
		}(who)
	}
	wg.Wait()

	expectInt(t, "released", released, tickets*1_000)
	expectEscrow(t, engine, organizer, 0)
	expectEscrow(t, engine, addr(0x10), 0)
}
