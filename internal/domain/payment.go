package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentMethod identifies the currency a listing, auction or offer is
// denominated in. The zero value is the chain-native currency.
type PaymentMethod struct {
	token common.Address
}

// Native is the chain-native currency.
var Native = PaymentMethod{}

// TokenMethod returns the payment method for the fungible token at addr.
func TokenMethod(addr common.Address) PaymentMethod {
	return PaymentMethod{token: addr}
}

// IsNative reports whether p is the native currency.
func (p PaymentMethod) IsNative() bool {
	return p.token == (common.Address{})
}

// Token returns the token address. It is the zero address for Native.
func (p PaymentMethod) Token() common.Address {
	return p.token
}

func (p PaymentMethod) String() string {
	if p.IsNative() {
		return "native"
	}
	return p.token.Hex()
}

// MarshalText encodes p as "native" or a hex token address.
func (p PaymentMethod) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts the forms produced by MarshalText.
func (p *PaymentMethod) UnmarshalText(text []byte) error {
	parsed, err := ParsePaymentMethod(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePaymentMethod parses "native" (or an empty string) and hex token
// addresses.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "native") {
		return Native, nil
	}
	if !common.IsHexAddress(s) {
		return PaymentMethod{}, fmt.Errorf("payment method %q: %w", s, ErrInvalidAddress)
	}
	return TokenMethod(common.HexToAddress(s)), nil
}
