package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AccountFor derives a stable address from a name, for devnet accounts
// and tests.
func AccountFor(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("marketengine:" + name))[12:])
}
