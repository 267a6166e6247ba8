package state

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
)

// ErrInsufficientBalance is returned when a burn exceeds the account balance.
var ErrInsufficientBalance = errors.New("state: insufficient balance")

var balancePrefix = []byte("balance:")

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

func balanceKey(currency string, account [20]byte) []byte {
	symbol := normalizeCurrency(currency)
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(account))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], account[:])
	return kvKey(buf)
}

// Balance returns the account balance for the currency. Unknown accounts hold
// zero.
func (tx *Tx) Balance(currency string, account [20]byte) (*big.Int, error) {
	data, err := tx.get(balanceKey(currency, account))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetBalance stores an account balance for the provided currency.
func (tx *Tx) SetBalance(currency string, account [20]byte, amount *big.Int) error {
	if normalizeCurrency(currency) == "" {
		return fmt.Errorf("currency must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	tx.put(balanceKey(currency, account), encoded)
	return nil
}

// Mint credits amount to the account.
func (tx *Tx) Mint(currency string, account [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("mint amount must not be negative")
	}
	current, err := tx.Balance(currency, account)
	if err != nil {
		return err
	}
	return tx.SetBalance(currency, account, current.Add(current, amount))
}

// Burn debits amount from the account, failing with ErrInsufficientBalance
// rather than driving the balance negative.
func (tx *Tx) Burn(currency string, account [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("burn amount must not be negative")
	}
	current, err := tx.Balance(currency, account)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return tx.SetBalance(currency, account, current.Sub(current, amount))
}

// Balance reads the committed balance outside of any transaction.
func (m *Manager) Balance(currency string, account [20]byte) (*big.Int, error) {
	var out *big.Int
	err := m.View(func(tx *Tx) error {
		var err error
		out, err = tx.Balance(currency, account)
		return err
	})
	return out, err
}
