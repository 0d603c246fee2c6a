// Package ledger owns the commit→bet mapping, the three-state bet
// lifecycle and the treasury counters. Every mutation is persisted as a
// single KV transaction, so an operation either fully applies or leaves
// no trace.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/fairstake/betledger/internal/odds"
	"github.com/fairstake/betledger/internal/sign"
	"github.com/fairstake/betledger/pkg/kvstore"
)

const (
	betKeyPrefix = "bet/"
	stateKey     = "ledger/state"
)

// Limits are the placement bounds, in base units.
type Limits struct {
	MinBet    uint64
	MaxBet    uint64
	MaxProfit uint64 // cap on winAmount - wager
}

type Ledger struct {
	kv       kvstore.KVStore
	odds     odds.Engine
	verifier *sign.Verifier
	limits   Limits
	guard    TreasuryGuard

	state State // authoritative copy, persisted on every mutation
}

// Open loads (or initialises) the ledger state from kv.
func Open(kv kvstore.KVStore, engine odds.Engine, verifier *sign.Verifier, limits Limits) (*Ledger, error) {
	l := &Ledger{
		kv:       kv,
		odds:     engine,
		verifier: verifier,
		limits:   limits,
	}

	raw, err := kv.Get(stateKey)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &l.state); err != nil {
			return nil, fmt.Errorf("decode ledger state: %w", err)
		}
	case errors.Is(err, kvstore.ErrKeyNotFound):
		// fresh ledger, zero state
	default:
		return nil, fmt.Errorf("load ledger state: %w", err)
	}

	if !l.guard.Solvent(l.state) {
		return nil, fmt.Errorf("%w: refusing to open", ErrInsolvent)
	}
	return l, nil
}

func (l *Ledger) State() State {
	return l.state
}

func (l *Ledger) Odds() odds.Engine {
	return l.odds
}

// Bet returns the record for commit. An unknown commit is a Clean
// zero-value bet, not an error.
func (l *Ledger) Bet(commit Commit) (Bet, error) {
	raw, err := l.kv.Get(betKeyPrefix + commit.Hex())
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return Bet{Commit: commit}, nil
	}
	if err != nil {
		return Bet{}, fmt.Errorf("load bet: %w", err)
	}

	var b Bet
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bet{}, fmt.Errorf("decode bet: %w", err)
	}
	return b, nil
}

// PlaceParams carries everything a placement needs. CurrentHeight is
// the chain height the caller observed; ExpiryHeight and Sig come from
// the signer's authorization of the commit.
type PlaceParams struct {
	Commit        Commit
	Selector      *big.Int
	Modulo        uint64
	ExpiryHeight  uint64
	Sig           sign.Signature
	CurrentHeight uint64
	Wager         uint64
	Bettor        string
}

// Place validates and records a bet. On success the wager joins the
// balance, the maximum payout is locked as liability and the jackpot
// fee (if any) joins the pool, all in one transaction gated by the
// solvency check.
func (l *Ledger) Place(p PlaceParams) (Bet, error) {
	existing, err := l.Bet(p.Commit)
	if err != nil {
		return Bet{}, err
	}
	if existing.Lifecycle() != Clean {
		return Bet{}, fmt.Errorf("%w: commit %s is %s", ErrState, p.Commit.Hex(), existing.Lifecycle())
	}

	if p.Wager < l.limits.MinBet || p.Wager > l.limits.MaxBet {
		return Bet{}, fmt.Errorf("%w: wager %d outside [%d, %d]", ErrInputRange, p.Wager, l.limits.MinBet, l.limits.MaxBet)
	}
	if p.Modulo < odds.MinModulo || p.Modulo > odds.MaxMaskModulo {
		return Bet{}, fmt.Errorf("%w: modulo %d outside [%d, %d]", ErrInputRange, p.Modulo, odds.MinModulo, odds.MaxMaskModulo)
	}
	if p.Bettor == "" {
		return Bet{}, fmt.Errorf("%w: bettor required", ErrInputRange)
	}
	if p.ExpiryHeight < p.CurrentHeight {
		return Bet{}, fmt.Errorf("%w: authorization expired at height %d, now %d", ErrTemporal, p.ExpiryHeight, p.CurrentHeight)
	}
	if !l.verifier.Verify(p.ExpiryHeight, [32]byte(p.Commit), p.Sig) {
		return Bet{}, fmt.Errorf("%w: signature does not recover the signer", ErrUnauthorized)
	}

	rollUnder, mask, err := odds.Decode(p.Selector, p.Modulo)
	if err != nil {
		return Bet{}, errors.Join(ErrInputRange, err)
	}
	winAmount, jackpotFee, err := l.odds.Payout(p.Wager, p.Modulo, rollUnder)
	if err != nil {
		return Bet{}, errors.Join(ErrInputRange, err)
	}
	if winAmount > p.Wager && winAmount-p.Wager > l.limits.MaxProfit {
		return Bet{}, fmt.Errorf("%w: potential profit %d exceeds cap %d", ErrInputRange, winAmount-p.Wager, l.limits.MaxProfit)
	}

	next := l.state
	next.Balance += p.Wager
	next.LockedLiability += winAmount
	next.JackpotPool += jackpotFee
	if !l.guard.Solvent(next) {
		return Bet{}, fmt.Errorf("%w: cannot cover potential payout %d", ErrInsolvent, winAmount)
	}

	b := Bet{
		Commit:    p.Commit,
		Amount:    p.Wager,
		Modulo:    p.Modulo,
		RollUnder: rollUnder,
		Bettor:    p.Bettor,
		PlacedAt:  p.CurrentHeight,
	}
	if mask != nil {
		b.Mask = mask.Bytes()
	}

	if err := l.commit(next, &b); err != nil {
		return Bet{}, err
	}
	return b, nil
}

// Take validates that commit is Active and returns its snapshot. The
// caller completes the operation with Finalize; operations are
// serialised by the service, so a taken bet cannot be settled twice.
func (l *Ledger) Take(commit Commit) (Bet, error) {
	b, err := l.Bet(commit)
	if err != nil {
		return Bet{}, err
	}
	if b.Lifecycle() != Active {
		return Bet{}, fmt.Errorf("%w: commit %s is %s, want active", ErrState, commit.Hex(), b.Lifecycle())
	}
	return b, nil
}

// Finalize transitions a taken bet to Processed and writes it together
// with the new treasury state in one transaction.
func (l *Ledger) Finalize(b Bet, next State) error {
	if !l.guard.Solvent(next) {
		return fmt.Errorf("%w: finalize would break solvency", ErrInsolvent)
	}
	b.Amount = 0 // bettor stays set: Processed, never Clean again
	return l.commit(next, &b)
}

// Credit adds deposited funds to the balance. Deposits only improve
// solvency, so no guard check is needed.
func (l *Ledger) Credit(amount uint64) error {
	next := l.state
	next.Balance += amount
	return l.commit(next)
}

// Debit removes paid-out funds from the balance. Used by the payout
// dispatcher; failure here means the transfer did not happen and the
// funds stay in the pool.
func (l *Ledger) Debit(amount uint64) error {
	if amount > l.state.Balance {
		return fmt.Errorf("%w: debit %d exceeds balance %d", ErrInsolvent, amount, l.state.Balance)
	}
	next := l.state
	next.Balance -= amount
	return l.commit(next)
}

func (l *Ledger) commit(next State, bets ...*Bet) error {
	pairs := make([]kvstore.Pair, 0, 1+len(bets))

	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode ledger state: %w", err)
	}
	pairs = append(pairs, kvstore.Pair{Key: stateKey, Value: raw})

	for _, b := range bets {
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode bet: %w", err)
		}
		pairs = append(pairs, kvstore.Pair{Key: betKeyPrefix + b.Commit.Hex(), Value: raw})
	}

	if err := l.kv.SetAll(pairs); err != nil {
		return fmt.Errorf("persist ledger mutation: %w", err)
	}
	l.state = next
	return nil
}
