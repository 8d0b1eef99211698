package fee

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Divisor sets the protocol fee to one tenth of the ticket cost.
const Divisor = 10

// MaxInterest is the upper bound of the fee-interest parameter forwarded to
// the treasury with every fee distribution.
const MaxInterest = 1_000_000

var divisor = big.NewInt(Divisor)

// TicketCost returns ticketsAmount * ticketPrice.
func TicketCost(ticketsAmount uint64, ticketPrice *big.Int) *big.Int {
	if ticketPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(ticketsAmount), ticketPrice)
}

// ProtocolFee returns (ticketsAmount * ticketPrice) / 10, truncated.
func ProtocolFee(ticketsAmount uint64, ticketPrice *big.Int) *big.Int {
	cost := TicketCost(ticketsAmount, ticketPrice)
	return cost.Quo(cost, divisor)
}

// Treasury receives routed protocol fees.
type Treasury interface {
	// DistributeFee pulls amount of the fee token from the given account.
	DistributeFee(ctx context.Context, from common.Address, amount *big.Int, feeInterest uint64) error
}
