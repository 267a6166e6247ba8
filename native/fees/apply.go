package fees

import "math/big"

// PlatformFee returns the fee charged on top of price.
func PlatformFee(rules Rules, price *big.Int) *big.Int {
	return ApplyPPM(price, rules.TotalFeePPM)
}

// FinalPrice is what a buyer pays for a ticket listed at price.
func FinalPrice(rules Rules, price *big.Int) *big.Int {
	out := cloneBigInt(price)
	return out.Add(out, PlatformFee(rules, price))
}

// Split describes how the proceeds of a resale at NewPrice are distributed
// when the ticket was previously bought at LastPrice.
type Split struct {
	// Markup is NewPrice - LastPrice and may be negative.
	Markup *big.Int
	// OrgChannel is the organizer's slice of a positive markup before the
	// referrer carve-out.
	OrgChannel *big.Int
	OrgShare   *big.Int
	RefShare   *big.Int
	// SellerMarkupShare is the remainder of the markup after the organizer
	// channel.
	SellerMarkupShare *big.Int
	// SellerBase is min(LastPrice, NewPrice) and is always paid out directly.
	SellerBase *big.Int
}

// SplitMarkup computes the markup distribution for a resale. When the markup
// is not positive every share is zero and the seller receives the full sale
// price as SellerBase.
func SplitMarkup(rules Rules, lastPrice, newPrice *big.Int, hasReferrer bool) Split {
	last := cloneBigInt(lastPrice)
	next := cloneBigInt(newPrice)
	split := Split{
		Markup:            new(big.Int).Sub(next, last),
		OrgChannel:        big.NewInt(0),
		OrgShare:          big.NewInt(0),
		RefShare:          big.NewInt(0),
		SellerMarkupShare: big.NewInt(0),
	}
	if next.Cmp(last) < 0 {
		split.SellerBase = next
	} else {
		split.SellerBase = last
	}
	if split.Markup.Sign() <= 0 {
		return split
	}
	split.OrgChannel = ApplyPPM(split.Markup, rules.OrgGetsPPM)
	split.OrgShare = new(big.Int).Set(split.OrgChannel)
	if hasReferrer {
		split.RefShare = ApplyPPM(split.Markup, rules.RefGetsPPM)
		split.OrgShare.Sub(split.OrgChannel, split.RefShare)
	}
	split.SellerMarkupShare = new(big.Int).Sub(split.Markup, split.OrgChannel)
	return split
}

// Total returns the sum of every payout in the split, which equals the sale
// price for non-negative inputs.
func (s Split) Total() *big.Int {
	total := cloneBigInt(s.SellerBase)
	total.Add(total, cloneBigInt(s.OrgShare))
	total.Add(total, cloneBigInt(s.RefShare))
	total.Add(total, cloneBigInt(s.SellerMarkupShare))
	return total
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
