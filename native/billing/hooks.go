package billing

import (
	"math/big"

	"ticketledger/native/escrow"
	"ticketledger/native/fees"
)

// OnAllocate records a primary sale. No tokens move; the sale only feeds the
// event stats and (re)starts the ticket's lifecycle. A refunded ticket may be
// allocated again.
func (e *Engine) OnAllocate(in AllocateInput) error {
	if err := fees.CheckAmount(in.FirstPrice); err != nil {
		return err
	}
	keys := []lockKey{ticketLock(in.Event, in.Ticket), eventLock(in.Event), statsLock(in.Event)}
	return e.execute("allocate", keys, func(tx *txn) error {
		record, err := authorizeHook(tx.Tx, in.Caller, in.Event)
		if err != nil {
			return err
		}
		if err := bindCurrency(tx.Tx, record, in.Currency); err != nil {
			return err
		}
		ts, err := loadTicket(tx.Tx, in.Event, in.Ticket)
		if err != nil {
			return err
		}
		if ts.Allocated && !ts.Refunded {
			return ErrAlreadyAllocated
		}
		first := cloneBigInt(in.FirstPrice)
		if err := storeTicket(tx.Tx, in.Event, in.Ticket, &ticketState{
			Allocated:  true,
			Owner:      in.Buyer,
			FirstPrice: first,
			LastPrice:  first,
		}); err != nil {
			return err
		}
		stats, err := loadStats(tx.Tx, in.Event)
		if err != nil {
			return err
		}
		stats.Sold.Add(stats.Sold, first)
		stats.SoldCount++
		if err := storeStats(tx.Tx, in.Event, stats); err != nil {
			return err
		}
		tx.emit(newTicketEvent(EventTypeTicketAllocated, in.Event, in.Ticket, map[string]string{
			"buyer":      accountID(in.Buyer),
			"organizer":  accountID(in.Organizer),
			"currency":   normalizeCurrency(in.Currency),
			"firstPrice": formatAmount(first),
		}))
		return nil
	})
}

// OnSell settles a resale without a referrer.
func (e *Engine) OnSell(in SaleInput) (*SaleResult, error) {
	return e.sell(in, nil)
}

// OnSellWithRef settles a resale and pays the referrer its carve-out of the
// organizer channel.
func (e *Engine) OnSellWithRef(in SaleInput, referrer [20]byte) (*SaleResult, error) {
	return e.sell(in, &referrer)
}

func (e *Engine) sell(in SaleInput, referrer *[20]byte) (*SaleResult, error) {
	if err := fees.CheckAmount(in.LastPrice); err != nil {
		return nil, err
	}
	if err := fees.CheckAmount(in.NewPrice); err != nil {
		return nil, err
	}
	keys := []lockKey{
		ticketLock(in.Event, in.Ticket),
		eventLock(in.Event),
		statsLock(in.Event),
		escrowRowLock(in.Event, in.Organizer),
		escrowRowLock(in.Event, in.Seller),
		accountLock(in.Currency, in.Seller),
		accountLock(in.Currency, in.Organizer),
		accountLock(in.Currency, e.feeRecipient),
	}
	if referrer != nil {
		keys = append(keys, accountLock(in.Currency, *referrer))
	}
	if in.ChargeBuyer {
		keys = append(keys, accountLock(in.Currency, in.Buyer))
	}

	var result *SaleResult
	op := "sell"
	if referrer != nil {
		op = "sell_with_ref"
	}
	err := e.execute(op, keys, func(tx *txn) error {
		record, err := authorizeHook(tx.Tx, in.Caller, in.Event)
		if err != nil {
			return err
		}
		if err := bindCurrency(tx.Tx, record, in.Currency); err != nil {
			return err
		}
		currency := record.Currency
		ts, err := loadTicket(tx.Tx, in.Event, in.Ticket)
		if err != nil {
			return err
		}
		if ts.Refunded {
			return ErrAlreadyRefunded
		}

		split := fees.SplitMarkup(record.Rules, in.LastPrice, in.NewPrice, referrer != nil)
		fee := fees.PlatformFee(record.Rules, in.NewPrice)
		res := &SaleResult{
			Split:         split,
			Fee:           fee,
			FinalPrice:    new(big.Int).Add(cloneBigInt(in.NewPrice), fee),
			SellerPaid:    big.NewInt(0),
			OrganizerPaid: big.NewInt(0),
			ReferrerPaid:  big.NewInt(0),
			SellerEscrow:  big.NewInt(0),
			OrgEscrow:     big.NewInt(0),
		}

		if in.ChargeBuyer {
			if err := tx.burn(currency, in.Buyer, res.FinalPrice, FlowPurchase); err != nil {
				return err
			}
		}

		ts.Hops++
		hop := ts.Hops
		if err := tx.mint(currency, e.feeRecipient, fee, FlowFee); err != nil {
			return err
		}
		if referrer != nil {
			res.ReferrerPaid = cloneBigInt(split.RefShare)
			if err := tx.mint(currency, *referrer, res.ReferrerPaid, FlowReferrer); err != nil {
				return err
			}
		}

		switch record.Policy {
		case PolicyEscrowed:
			res.SellerPaid = cloneBigInt(split.SellerBase)
			res.OrgEscrow = cloneBigInt(split.OrgShare)
			res.SellerEscrow = cloneBigInt(split.SellerMarkupShare)
			ledger := escrow.NewLedger(tx.Tx)
			credits := []escrow.Contribution{
				{Hop: hop, Kind: escrow.KindOrganizer, Beneficiary: in.Organizer, Amount: res.OrgEscrow},
				{Hop: hop, Kind: escrow.KindSeller, Beneficiary: in.Seller, Amount: res.SellerEscrow},
			}
			for _, c := range credits {
				if c.Amount.Sign() == 0 {
					continue
				}
				if err := ledger.Credit(in.Event, in.Ticket, c.Hop, c.Kind, c.Beneficiary, c.Amount); err != nil {
					return err
				}
				tx.emit(escrow.NewCreditedEvent(in.Event, in.Ticket, c))
			}
		default:
			res.SellerPaid = new(big.Int).Add(split.SellerBase, split.SellerMarkupShare)
			res.OrganizerPaid = cloneBigInt(split.OrgShare)
		}
		if err := tx.mint(currency, in.Seller, res.SellerPaid, FlowSeller); err != nil {
			return err
		}
		if err := tx.mint(currency, in.Organizer, res.OrganizerPaid, FlowOrganizer); err != nil {
			return err
		}

		if !ts.Allocated {
			ts.Allocated = true
			ts.FirstPrice = cloneBigInt(in.LastPrice)
		}
		ts.Owner = in.Buyer
		ts.LastPrice = cloneBigInt(in.NewPrice)
		if err := storeTicket(tx.Tx, in.Event, in.Ticket, ts); err != nil {
			return err
		}

		stats, err := loadStats(tx.Tx, in.Event)
		if err != nil {
			return err
		}
		stats.Resold.Add(stats.Resold, cloneBigInt(in.LastPrice))
		stats.ResoldCount++
		if err := storeStats(tx.Tx, in.Event, stats); err != nil {
			return err
		}

		attrs := map[string]string{
			"seller":    accountID(in.Seller),
			"buyer":     accountID(in.Buyer),
			"organizer": accountID(in.Organizer),
			"currency":  currency,
			"lastPrice": formatAmount(in.LastPrice),
			"newPrice":  formatAmount(in.NewPrice),
			"fee":       formatAmount(fee),
			"policy":    record.Policy.String(),
		}
		if referrer != nil {
			attrs["referrer"] = accountID(*referrer)
		}
		tx.emit(newTicketEvent(EventTypeTicketSold, in.Event, in.Ticket, attrs))
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// OnBuy charges the buyer the final price of a listing at Price. It returns
// the amount charged.
func (e *Engine) OnBuy(in BuyInput) (*big.Int, error) {
	if err := fees.CheckAmount(in.Price); err != nil {
		return nil, err
	}
	keys := []lockKey{ticketLock(in.Event, in.Ticket), eventLock(in.Event), accountLock(in.Currency, in.Buyer)}
	var charged *big.Int
	err := e.execute("buy", keys, func(tx *txn) error {
		record, err := authorizeHook(tx.Tx, in.Caller, in.Event)
		if err != nil {
			return err
		}
		if err := bindCurrency(tx.Tx, record, in.Currency); err != nil {
			return err
		}
		final := fees.FinalPrice(record.Rules, in.Price)
		if err := tx.burn(record.Currency, in.Buyer, final, FlowPurchase); err != nil {
			return err
		}
		tx.emit(newTicketEvent(EventTypeTicketBought, in.Event, in.Ticket, map[string]string{
			"buyer":      accountID(in.Buyer),
			"currency":   record.Currency,
			"price":      formatAmount(in.Price),
			"finalPrice": formatAmount(final),
		}))
		charged = final
		return nil
	})
	if err != nil {
		return nil, err
	}
	return charged, nil
}

// OnTransfer acknowledges a transfer between holders. No money moves.
func (e *Engine) OnTransfer(in MoveInput) error {
	keys := []lockKey{ticketLock(in.Event, in.Ticket), eventLock(in.Event)}
	return e.execute("transfer", keys, func(tx *txn) error {
		if _, err := authorizeHook(tx.Tx, in.Caller, in.Event); err != nil {
			return err
		}
		ts, err := loadTicket(tx.Tx, in.Event, in.Ticket)
		if err != nil {
			return err
		}
		if ts.Allocated {
			ts.Owner = in.To
			if err := storeTicket(tx.Tx, in.Event, in.Ticket, ts); err != nil {
				return err
			}
		}
		tx.emit(newTicketEvent(EventTypeTicketTransferred, in.Event, in.Ticket, map[string]string{
			"from": accountID(in.From),
			"to":   accountID(in.To),
		}))
		return nil
	})
}

// OnRedeem acknowledges a ticket being used at the venue. No money moves.
func (e *Engine) OnRedeem(in MoveInput) error {
	keys := []lockKey{ticketLock(in.Event, in.Ticket), eventLock(in.Event)}
	return e.execute("redeem", keys, func(tx *txn) error {
		if _, err := authorizeHook(tx.Tx, in.Caller, in.Event); err != nil {
			return err
		}
		tx.emit(newTicketEvent(EventTypeTicketRedeemed, in.Event, in.Ticket, map[string]string{
			"holder": accountID(in.From),
		}))
		return nil
	})
}
