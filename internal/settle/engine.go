// Package settle resolves bets: it derives the commit-reveal entropy,
// decides win/loss and the jackpot sub-game, releases the locked
// liability and hands the result to the payout dispatcher. The refund
// path shares the liability release but involves no entropy.
package settle

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/fairstake/betledger/internal/chain"
	"github.com/fairstake/betledger/internal/ledger"
	"github.com/fairstake/betledger/internal/payout"
)

type Config struct {
	// LookbackBlocks is how many blocks past placement a bet stays
	// settleable; the environment can only attest hashes that recent.
	LookbackBlocks uint64
	// JackpotModulo is the jackpot hit probability denominator.
	JackpotModulo uint64
}

type Engine struct {
	ledger     *ledger.Ledger
	dispatcher *payout.Dispatcher
	source     chain.Source
	cfg        Config
}

func NewEngine(l *ledger.Ledger, d *payout.Dispatcher, source chain.Source, cfg Config) *Engine {
	return &Engine{
		ledger:     l,
		dispatcher: d,
		source:     source,
		cfg:        cfg,
	}
}

// Outcome reports how a settlement or refund resolved.
type Outcome struct {
	Bet         ledger.Bet
	Roll        uint64
	Won         bool
	WinAmount   uint64 // actual main win, 0 on loss and on refund
	JackpotWin  uint64
	Refunded    bool
	PaidAmount  uint64 // what the dispatcher attempted to transfer
	Delivered   bool   // whether the transfer went through
}

// Entropy derives the settlement randomness. The commit (hash of
// reveal) was published before placement and the block hash was fixed
// at placement, so neither party can bias the result.
func Entropy(reveal [32]byte, blockHash [32]byte) *big.Int {
	h := sha256.New()
	h.Write(reveal[:])
	h.Write(blockHash[:])
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Settle resolves the bet whose commit is the hash of reveal. The
// caller supplies the block hash it observed at the placement height;
// it must match the environment's recorded hash, which guards against
// retroactive reordering.
func (e *Engine) Settle(ctx context.Context, reveal [32]byte, claimedBlockHash [32]byte) (Outcome, error) {
	commit := ledger.CommitOf(reveal)
	bet, err := e.ledger.Take(commit)
	if err != nil {
		return Outcome{}, err
	}

	height, err := e.source.Height(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read chain height: %w", err)
	}
	if height <= bet.PlacedAt {
		return Outcome{}, fmt.Errorf("%w: cannot settle at height %d, placed at %d", ledger.ErrTemporal, height, bet.PlacedAt)
	}
	if height > bet.PlacedAt+e.cfg.LookbackBlocks {
		return Outcome{}, fmt.Errorf("%w: settlement window of %d blocks has passed, refund instead", ledger.ErrTemporal, e.cfg.LookbackBlocks)
	}

	recorded, err := e.source.BlockHash(ctx, bet.PlacedAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("read block hash at height %d: %w", bet.PlacedAt, err)
	}
	if recorded != claimedBlockHash {
		return Outcome{}, fmt.Errorf("%w: block hash at height %d does not match", ledger.ErrTemporal, bet.PlacedAt)
	}

	entropy := Entropy(reveal, recorded)
	modulo := new(big.Int).SetUint64(bet.Modulo)
	roll := new(big.Int).Mod(entropy, modulo).Uint64()

	won := false
	if len(bet.Mask) > 0 {
		won = new(big.Int).SetBytes(bet.Mask).Bit(int(roll)) == 1
	} else {
		won = roll < bet.RollUnder
	}

	winAmount, _, err := e.ledger.Odds().Payout(bet.Amount, bet.Modulo, bet.RollUnder)
	if err != nil {
		return Outcome{}, fmt.Errorf("recompute payout: %w", err)
	}

	// Jackpot roll: a different residue class of the same entropy, so
	// it is independent of the main roll.
	var jackpotWin uint64
	next := e.ledger.State()
	if bet.Amount >= e.ledger.Odds().JackpotThreshold && e.cfg.JackpotModulo > 0 {
		jackpotRoll := new(big.Int).Div(entropy, modulo)
		jackpotRoll.Mod(jackpotRoll, new(big.Int).SetUint64(e.cfg.JackpotModulo))
		if jackpotRoll.Sign() == 0 {
			jackpotWin = next.JackpotPool
			next.JackpotPool = 0
		}
	}

	// The maximum possible liability for this bet is released no matter
	// how it resolved.
	if winAmount > next.LockedLiability {
		return Outcome{}, fmt.Errorf("%w: locked liability %d below release %d", ledger.ErrInsolvent, next.LockedLiability, winAmount)
	}
	next.LockedLiability -= winAmount

	if err := e.ledger.Finalize(bet, next); err != nil {
		return Outcome{}, err
	}

	var mainWin uint64
	if won {
		mainWin = winAmount
	}

	// A lost bet still dispatches a minimal nonzero placeholder so a
	// settlement record exists.
	total := mainWin + jackpotWin
	paid, audit := total, total
	if total == 0 {
		paid, audit = 1, 0
	}
	delivered := e.dispatcher.Send(bet.Bettor, commit, paid, audit, jackpotWin)

	return Outcome{
		Bet:        bet,
		Roll:       roll,
		Won:        won,
		WinAmount:  mainWin,
		JackpotWin: jackpotWin,
		PaidAmount: paid,
		Delivered:  delivered,
	}, nil
}

// Refund unwinds a bet whose settlement window has passed without a
// reveal: the liability is released, the jackpot fee goes back to the
// bettor out of the pool when the pool still covers it, and the full
// original wager is paid back. No entropy is involved.
func (e *Engine) Refund(ctx context.Context, commit ledger.Commit) (Outcome, error) {
	bet, err := e.ledger.Take(commit)
	if err != nil {
		return Outcome{}, err
	}

	height, err := e.source.Height(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("read chain height: %w", err)
	}
	if height <= bet.PlacedAt+e.cfg.LookbackBlocks {
		return Outcome{}, fmt.Errorf("%w: settlement window still open until height %d", ledger.ErrTemporal, bet.PlacedAt+e.cfg.LookbackBlocks)
	}

	winAmount, jackpotFee, err := e.ledger.Odds().Payout(bet.Amount, bet.Modulo, bet.RollUnder)
	if err != nil {
		return Outcome{}, fmt.Errorf("recompute payout: %w", err)
	}

	next := e.ledger.State()
	if winAmount > next.LockedLiability {
		return Outcome{}, fmt.Errorf("%w: locked liability %d below release %d", ledger.ErrInsolvent, next.LockedLiability, winAmount)
	}
	next.LockedLiability -= winAmount
	if next.JackpotPool >= jackpotFee {
		next.JackpotPool -= jackpotFee
	}

	if err := e.ledger.Finalize(bet, next); err != nil {
		return Outcome{}, err
	}

	delivered := e.dispatcher.Send(bet.Bettor, commit, bet.Amount, bet.Amount, 0)

	return Outcome{
		Bet:        bet,
		Refunded:   true,
		PaidAmount: bet.Amount,
		Delivered:  delivered,
	}, nil
}
