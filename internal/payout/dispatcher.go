// Package payout performs the value transfer at the end of settlement
// and refund. A failed transfer is recorded and reconciled externally;
// it never unwinds the state transition that preceded it.
package payout

import (
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/fairstake/betledger/internal/ledger"
	"github.com/fairstake/betledger/pkg/events"
	"github.com/fairstake/betledger/pkg/logger"
)

// Treasury releases custodied funds. Debit must be atomic: either the
// funds leave the balance or the transfer did not happen.
type Treasury interface {
	Debit(amount uint64) error
}

type Dispatcher struct {
	treasury Treasury
	emitter  events.Emitter
	decimals int32
}

func NewDispatcher(treasury Treasury, emitter events.Emitter, decimals int32) *Dispatcher {
	return &Dispatcher{
		treasury: treasury,
		emitter:  emitter,
		decimals: decimals,
	}
}

// Send attempts to transfer amount to beneficiary. auditAmount is what
// the success record carries; it differs from amount only for the
// minimal-placeholder settlement of a lost bet. jackpotAmount > 0 adds
// a JackpotPayment record. Returns whether the transfer went through.
func (d *Dispatcher) Send(beneficiary string, commit ledger.Commit, amount, auditAmount, jackpotAmount uint64) bool {
	if err := d.treasury.Debit(amount); err != nil {
		logger.Warn("payout failed, funds stay in the pool",
			"beneficiary", beneficiary, "amount", amount, "commit", commit.Hex(), "err", err)
		d.emit(d.emitter.EmitFailedPayment, beneficiary, commit, amount)
		return false
	}

	d.emit(d.emitter.EmitPayment, beneficiary, commit, auditAmount)
	if jackpotAmount > 0 {
		d.emit(d.emitter.EmitJackpotPayment, beneficiary, commit, jackpotAmount)
	}
	return true
}

func (d *Dispatcher) emit(fn func(events.Payment) error, beneficiary string, commit ledger.Commit, amount uint64) {
	ev := events.Payment{
		Beneficiary: beneficiary,
		Amount:      strconv.FormatUint(amount, 10),
		AmountCoin:  d.formatCoin(amount),
		Commit:      commit.Hex(),
	}
	if err := fn(ev); err != nil {
		// The transfer already happened; a lost audit record is an
		// operational problem, not a ledger one.
		logger.Error("emit payment record failed", "commit", commit.Hex(), "err", err)
	}
}

func (d *Dispatcher) formatCoin(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -d.decimals).String()
}
