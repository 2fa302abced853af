package persist

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 0x-prefixed EVM address. Addresses are compared and cached in their lowercased form.
type Address string

// NewAddress normalizes s to its lowercased form
func NewAddress(s string) Address {
	return Address(strings.ToLower(strings.TrimSpace(s)))
}

func (a Address) String() string {
	return string(a)
}

// IsValid reports whether the address is 20 bytes of hex
func (a Address) IsValid() bool {
	return common.IsHexAddress(string(a))
}

// ToHexAddress returns the address as a go-ethereum address
func (a Address) ToHexAddress() common.Address {
	return common.HexToAddress(string(a))
}

// Checksum returns the EIP-55 mixed case form of the address
func (a Address) Checksum() string {
	return a.ToHexAddress().Hex()
}

// Value implements the database/sql driver Valuer interface for the Address type
func (a Address) Value() (driver.Value, error) {
	return strings.ToLower(string(a)), nil
}

// Scan implements the database/sql Scanner interface for the Address type
func (a *Address) Scan(value interface{}) error {
	if value == nil {
		*a = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*a = NewAddress(v)
	case []byte:
		*a = NewAddress(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Address", value)
	}
	return nil
}

// ChainID is an EIP-155 chain id
type ChainID int

const (
	ChainIDEthereum ChainID = 1
	ChainIDOptimism ChainID = 10
	ChainIDBase     ChainID = 8453
	ChainIDArbitrum ChainID = 42161
)

func (c ChainID) String() string {
	return strconv.Itoa(int(c))
}

// CAIP2 returns the chain in CAIP-2 form, e.g. eip155:1
func (c ChainID) CAIP2() string {
	return "eip155:" + c.String()
}
