package refill

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SwapConfig addresses the venues the executor converts stored fees through.
type SwapConfig struct {
	// Router is the external exchange router used when UseInternalExchange is false.
	Router              common.Address   `json:"router" yaml:"router"`
	Path                []common.Address `json:"path" yaml:"path"`
	AmountOutMin        *big.Int         `json:"amount_out_min" yaml:"-"`
	Deadline            time.Duration    `json:"deadline" yaml:"deadline"`
	UseInternalExchange bool             `json:"use_internal_exchange" yaml:"use_internal_exchange"`
	BridgeSwap          common.Address   `json:"bridge_swap" yaml:"bridge_swap"`
	Coordinator         common.Address   `json:"coordinator" yaml:"coordinator"`
	BridgedToken        common.Address   `json:"bridged_token" yaml:"bridged_token"`
	CanonicalToken      common.Address   `json:"canonical_token" yaml:"canonical_token"`
	SubscriptionID      common.Hash      `json:"subscription_id" yaml:"subscription_id"`
}

// Clone returns a deep copy of c.
func (c SwapConfig) Clone() SwapConfig {
	out := c
	out.Path = append([]common.Address(nil), c.Path...)
	if c.AmountOutMin != nil {
		out.AmountOutMin = new(big.Int).Set(c.AmountOutMin)
	}
	return out
}
