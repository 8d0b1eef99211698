package lotterytesting

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Addr returns a deterministic, non-zero test address.
func Addr(n uint64) common.Address {
	return common.BigToAddress(new(big.Int).SetUint64(0x1000 + n))
}

// Units returns n whole tokens in 18-decimal base units.
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}
