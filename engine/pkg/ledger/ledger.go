// Package ledger attributes ticket indices to buyers.
//
// Each round keeps an append-only list of purchase checkpoints holding the
// cumulative number of tickets sold after that purchase. A purchase costs one
// append regardless of how many tickets it buys, and an index is resolved with
// a binary search over the cumulative counts.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Capacity is the number of tickets that fill a round.
const Capacity = 10

var (
	ErrZeroTicketsAmount     = errors.New("zero ticketsAmount")
	ErrTicketsAmountExceeded = errors.New("ticketsAmount exceeded")
	ErrUnknownRound          = errors.New("unknown round")
)

// Checkpoint records a purchase by Buyer that brought the round's sold
// ticket count to Cumulative.
type Checkpoint struct {
	Buyer      common.Address `json:"buyer"`
	Cumulative uint64         `json:"cumulative"`
}

// Participants maps every ticket slot of a round to its owner. Unsold slots
// hold the zero address.
type Participants [Capacity]common.Address

// Ledger holds the checkpoint lists of all rounds, indexed by round id.
// Round ids are dense and start at 0. It is not safe for concurrent use.
type Ledger struct {
	rounds [][]Checkpoint
}

func New() *Ledger {
	return &Ledger{}
}

// Rounds returns the number of rounds known to the ledger.
func (l *Ledger) Rounds() uint64 {
	return uint64(len(l.rounds))
}

// Purchased returns the number of tickets sold in round.
func (l *Ledger) Purchased(round uint64) uint64 {
	if round >= uint64(len(l.rounds)) {
		return 0
	}
	return purchased(l.rounds[round])
}

// Append records a purchase of amount tickets by buyer and returns the new
// cumulative total. round must be an existing round or the next unused id.
func (l *Ledger) Append(round uint64, buyer common.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, ErrZeroTicketsAmount
	}
	if round > uint64(len(l.rounds)) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRound, round)
	}

	var before uint64
	if round < uint64(len(l.rounds)) {
		before = purchased(l.rounds[round])
	}
	if amount > Capacity || before+amount > Capacity {
		return 0, ErrTicketsAmountExceeded
	}

	if round == uint64(len(l.rounds)) {
		l.rounds = append(l.rounds, nil)
	}
	total := before + amount
	l.rounds[round] = append(l.rounds[round], Checkpoint{Buyer: buyer, Cumulative: total})
	return total, nil
}

// Truncate drops every checkpoint of round past the first n. A round left
// empty at the end of the id space is removed.
func (l *Ledger) Truncate(round uint64, n int) {
	if round >= uint64(len(l.rounds)) {
		return
	}
	if n < len(l.rounds[round]) {
		l.rounds[round] = l.rounds[round][:n]
	}
	if n == 0 && round == uint64(len(l.rounds))-1 {
		l.rounds = l.rounds[:round]
	}
}

// Len returns the number of checkpoints recorded for round.
func (l *Ledger) Len(round uint64) int {
	if round >= uint64(len(l.rounds)) {
		return 0
	}
	return len(l.rounds[round])
}

// OwnerOf returns the buyer of ticket index in round. The second result is
// false when the ticket is unsold or the round does not exist.
func (l *Ledger) OwnerOf(round, index uint64) (common.Address, bool) {
	if round >= uint64(len(l.rounds)) {
		return common.Address{}, false
	}
	cps := l.rounds[round]
	if index >= purchased(cps) {
		return common.Address{}, false
	}
	i := sort.Search(len(cps), func(i int) bool {
		return cps[i].Cumulative > index
	})
	return cps[i].Buyer, true
}

// Participants resolves every slot of round.
func (l *Ledger) Participants(round uint64) Participants {
	var p Participants
	if round >= uint64(len(l.rounds)) {
		return p
	}
	var slot uint64
	for _, cp := range l.rounds[round] {
		for ; slot < cp.Cumulative; slot++ {
			p[slot] = cp.Buyer
		}
	}
	return p
}

// Checkpoints returns a copy of the checkpoint list of round.
func (l *Ledger) Checkpoints(round uint64) []Checkpoint {
	if round >= uint64(len(l.rounds)) {
		return nil
	}
	out := make([]Checkpoint, len(l.rounds[round]))
	copy(out, l.rounds[round])
	return out
}

// Holds reports whether buyer owns at least one ticket in round.
func (l *Ledger) Holds(round uint64, buyer common.Address) bool {
	if round >= uint64(len(l.rounds)) {
		return false
	}
	for _, cp := range l.rounds[round] {
		if cp.Buyer == buyer {
			return true
		}
	}
	return false
}

func purchased(cps []Checkpoint) uint64 {
	if len(cps) == 0 {
		return 0
	}
	return cps[len(cps)-1].Cumulative
}
