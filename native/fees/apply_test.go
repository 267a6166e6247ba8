package fees

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
)

func TestUnitsToCentsTable(t *testing.T) {
	cases := map[int64]int64{
		0:      0,
		49:     0,
		50:     0,
		51:     1,
		149:    1,
		150:    2,
		151:    2,
		249:    2,
		250:    2,
		251:    3,
		2490:   25,
		2500:   25,
		2510:   25,
		2515:   25,
		10086:  101,
		500000: 5000,
	}
	for in, want := range cases {
		got := UnitsToCents(big.NewInt(in))
		if got.Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("UnitsToCents(%d) = %s, want %d", in, got, want)
		}
	}
}

func TestPlatformFeeRounding(t *testing.T) {
	rules := DefaultRules()
	cases := map[int64]int64{30: 7, 300: 69, 3000: 690}
	for price, want := range cases {
		got := PlatformFee(rules, big.NewInt(price))
		if got.Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("fee(%d) = %s, want %d", price, got, want)
		}
	}
}

func TestFinalPriceDefaults(t *testing.T) {
	rules := DefaultRules()
	cases := map[int64]int64{1000: 1230, 3000: 3690, 5000: 6150, 2_000_000: 2_460_000}
	for price, want := range cases {
		got := FinalPrice(rules, big.NewInt(price))
		if got.Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("FinalPrice(%d) = %s, want %d", price, got, want)
		}
	}
}

func TestFinalPriceZeroFee(t *testing.T) {
	got := FinalPrice(Rules{}, big.NewInt(1234))
	if got.Cmp(big.NewInt(1234)) != 0 {
		t.Fatalf("expected price unchanged with zero fee, got %s", got)
	}
}

func TestSplitMarkupNoReferrer(t *testing.T) {
	split := SplitMarkup(DefaultRules(), big.NewInt(1_000_000), big.NewInt(2_000_000), false)
	if split.OrgShare.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("org share %s", split.OrgShare)
	}
	if split.RefShare.Sign() != 0 {
		t.Fatalf("expected no referrer share, got %s", split.RefShare)
	}
	if split.SellerMarkupShare.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("seller markup share %s", split.SellerMarkupShare)
	}
	if split.SellerBase.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("seller base %s", split.SellerBase)
	}
}

func TestSplitMarkupWithReferrer(t *testing.T) {
	split := SplitMarkup(DefaultRules(), big.NewInt(1_000_000), big.NewInt(2_000_000), true)
	if split.OrgShare.Cmp(big.NewInt(400_000)) != 0 {
		t.Fatalf("org share %s", split.OrgShare)
	}
	if split.RefShare.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("ref share %s", split.RefShare)
	}
	if split.SellerMarkupShare.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("seller markup share %s", split.SellerMarkupShare)
	}
}

func TestSplitMarkupPriceDrop(t *testing.T) {
	split := SplitMarkup(DefaultRules(), big.NewInt(1000), big.NewInt(500), true)
	if split.Markup.Cmp(big.NewInt(-500)) != 0 {
		t.Fatalf("markup %s", split.Markup)
	}
	for name, v := range map[string]*big.Int{"org": split.OrgShare, "ref": split.RefShare, "seller": split.SellerMarkupShare, "channel": split.OrgChannel} {
		if v.Sign() != 0 {
			t.Fatalf("expected zero %s share, got %s", name, v)
		}
	}
	if split.SellerBase.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("seller should receive the lower price, got %s", split.SellerBase)
	}
}

func TestSplitIdentityHolds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		rules := Rules{TotalFeePPM: uint64(rng.Intn(2 * PPMScale))}
		rules.OrgGetsPPM = uint64(rng.Intn(PPMScale + 1))
		rules.RefGetsPPM = uint64(rng.Int63n(int64(rules.OrgGetsPPM) + 1))
		last := big.NewInt(rng.Int63n(10_000_000))
		next := big.NewInt(rng.Int63n(10_000_000))
		hasRef := rng.Intn(2) == 0

		split := SplitMarkup(rules, last, next, hasRef)
		shares := new(big.Int).Add(split.OrgShare, split.RefShare)
		shares.Add(shares, split.SellerMarkupShare)
		markup := new(big.Int).Sub(next, last)
		if markup.Sign() < 0 {
			markup.SetInt64(0)
		}
		if shares.Cmp(markup) != 0 {
			t.Fatalf("shares %s != max(markup,0) %s (rules=%+v last=%s next=%s)", shares, markup, rules, last, next)
		}
		if split.Total().Cmp(next) != 0 {
			t.Fatalf("payouts %s != sale price %s", split.Total(), next)
		}
		for _, v := range []*big.Int{split.OrgShare, split.RefShare, split.SellerMarkupShare, split.SellerBase} {
			if v.Sign() < 0 {
				t.Fatalf("negative share in %+v", split)
			}
		}
	}
}

func TestRulesValidate(t *testing.T) {
	if err := DefaultRules().Validate(); err != nil {
		t.Fatalf("default rules invalid: %v", err)
	}
	if err := (Rules{TotalFeePPM: 5 * PPMScale, OrgGetsPPM: PPMScale, RefGetsPPM: PPMScale}).Validate(); err != nil {
		t.Fatalf("unbounded fee should validate: %v", err)
	}
	if err := (Rules{OrgGetsPPM: PPMScale + 1}).Validate(); !errors.Is(err, ErrInvalidRules) {
		t.Fatalf("expected ErrInvalidRules for orgGets > 100%%, got %v", err)
	}
	if err := (Rules{OrgGetsPPM: 100, RefGetsPPM: 101}).Validate(); !errors.Is(err, ErrInvalidRules) {
		t.Fatalf("expected ErrInvalidRules for refGets > orgGets, got %v", err)
	}
}

func TestCheckAmount(t *testing.T) {
	if err := CheckAmount(big.NewInt(-1)); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected negative amount rejected, got %v", err)
	}
	maxWord := uint256.NewInt(0).SetAllOne().ToBig()
	if err := CheckAmount(maxWord); err != nil {
		t.Fatalf("max word should be accepted: %v", err)
	}
	if err := CheckAmount(new(big.Int).Add(maxWord, big.NewInt(1))); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected overflow rejected, got %v", err)
	}
}
