package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Native is the asset address used for the chain's native coin.
var Native = common.Address{}

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeAmount      = errors.New("negative amount")
	ErrUnknownSnapshot     = errors.New("unknown snapshot")
)

type balanceChange struct {
	asset  common.Address
	holder common.Address
	delta  *big.Int
}

// Ledger is an in-memory multi-asset balance book.
//
// Snapshot/RevertToSnapshot give callers all-or-nothing semantics over a
// sequence of transfers. Snapshots nest: reverting an inner snapshot undoes
// only the changes recorded after it.
//
// While a snapshot is open its holder is the only writer. Mint waits until
// every snapshot is closed, so credits from other callers never land in a
// scope that may be reverted. Transfer is reserved for the snapshot holder
// and for setup code that runs before any scope can be opened.
type Ledger struct {
	mu       sync.RWMutex
	idle     *sync.Cond
	balances map[common.Address]map[common.Address]*big.Int
	supply   map[common.Address]*big.Int

	journal   []balanceChange
	snapshots []int
}

func NewLedger() *Ledger {
	l := &Ledger{
		balances: make(map[common.Address]map[common.Address]*big.Int),
		supply:   make(map[common.Address]*big.Int),
	}
	l.idle = sync.NewCond(&l.mu)
	return l
}

func (l *Ledger) BalanceOf(asset, holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[asset][holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) TotalSupply(asset common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.supply[asset]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

// Mint credits amount of asset to holder out of thin air. It blocks while a
// snapshot is open and must not be called by the snapshot holder.
func (l *Ledger) Mint(asset, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.snapshots) > 0 {
		l.idle.Wait()
	}
	l.apply(asset, to, amount)
	l.addSupply(asset, amount)
	return nil
}

// Transfer moves amount of asset between holders. A zero amount is a no-op.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balances[asset][from]
	if bal == nil || bal.Cmp(amount) < 0 {
		have := new(big.Int)
		if bal != nil {
			have.Set(bal)
		}
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), have, amount)
	}
	l.apply(asset, from, new(big.Int).Neg(amount))
	l.apply(asset, to, amount)
	return nil
}

// Snapshot opens a revertible scope and returns its id.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := len(l.snapshots)
	l.snapshots = append(l.snapshots, len(l.journal))
	return id
}

// RevertToSnapshot undoes every change made since snapshot id and closes it
// together with any snapshot opened after it.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		panic(fmt.Errorf("%w: %d", ErrUnknownSnapshot, id))
	}
	mark := l.snapshots[id]
	for i := len(l.journal) - 1; i >= mark; i-- {
		c := l.journal[i]
		l.balances[c.asset][c.holder].Sub(l.balances[c.asset][c.holder], c.delta)
	}
	l.journal = l.journal[:mark]
	l.snapshots = l.snapshots[:id]
	l.trim()
}

// DiscardSnapshot keeps the changes made since snapshot id and closes it.
// Changes stay revertible through any enclosing snapshot.
func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		panic(fmt.Errorf("%w: %d", ErrUnknownSnapshot, id))
	}
	l.snapshots = l.snapshots[:id]
	l.trim()
}

func (l *Ledger) apply(asset, holder common.Address, delta *big.Int) {
	holders, ok := l.balances[asset]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[asset] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = new(big.Int)
		holders[holder] = bal
	}
	bal.Add(bal, delta)
	if len(l.snapshots) > 0 {
		l.journal = append(l.journal, balanceChange{asset: asset, holder: holder, delta: new(big.Int).Set(delta)})
	}
}

func (l *Ledger) addSupply(asset common.Address, amount *big.Int) {
	s, ok := l.supply[asset]
	if !ok {
		s = new(big.Int)
		l.supply[asset] = s
	}
	s.Add(s, amount)
}

// trim drops the journal and wakes blocked writers once no snapshot is open.
func (l *Ledger) trim() {
	if len(l.snapshots) == 0 {
		l.journal = nil
		l.idle.Broadcast()
	}
}
