package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering ids.
type AddressPrefix string

const (
	AccountPrefix AddressPrefix = "acct"
	EventPrefix   AddressPrefix = "evt"
)

// Address is an opaque 20-byte identifier with a display prefix. Accounts,
// organizers, referrers and events all share this representation.
type Address struct {
	prefix AddressPrefix
	bytes  [20]byte
}

func NewAddress(prefix AddressPrefix, b [20]byte) Address {
	return Address{prefix: prefix, bytes: b}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() [20]byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(conv))
	}
	var out [20]byte
	copy(out[:], conv)
	return NewAddress(AddressPrefix(prefix), out), nil
}

// ParseID accepts a bech32 address of any prefix or a 0x-prefixed hex string.
func ParseID(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	var out [20]byte
	if trimmed == "" {
		return out, fmt.Errorf("id must not be empty")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return out, fmt.Errorf("invalid hex id: %w", err)
		}
		if len(decoded) != len(out) {
			return out, fmt.Errorf("hex id must be 20 bytes long, got %d", len(decoded))
		}
		copy(out[:], decoded)
		return out, nil
	}
	addr, err := DecodeAddress(trimmed)
	if err != nil {
		return out, err
	}
	return addr.Bytes(), nil
}

// DeriveID maps an external identifier (a UUID, an email, a key fingerprint)
// onto the 20-byte id space.
func DeriveID(external string) [20]byte {
	var out [20]byte
	digest := crypto.Keccak256([]byte(strings.TrimSpace(external)))
	copy(out[:], digest[12:])
	return out
}

// ParseTicketID accepts a 0x-prefixed 32-byte hex id. Any other string is
// hashed into the ticket id space.
func ParseTicketID(raw string) [32]byte {
	trimmed := strings.TrimSpace(raw)
	var out [32]byte
	if strings.HasPrefix(trimmed, "0x") {
		if decoded, err := hex.DecodeString(trimmed[2:]); err == nil && len(decoded) == len(out) {
			copy(out[:], decoded)
			return out
		}
	}
	copy(out[:], crypto.Keccak256([]byte(trimmed)))
	return out
}

// FormatTicketID renders a ticket id as 0x-prefixed hex.
func FormatTicketID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
