package ledger

// State is the process-wide ledger state. All amounts are base units.
type State struct {
	Balance         uint64 `json:"balance"`          // total custodied funds
	LockedLiability uint64 `json:"locked_liability"` // sum of max payouts of Active bets
	JackpotPool     uint64 `json:"jackpot_pool"`
}

// TreasuryGuard enforces the solvency invariant
//
//	jackpotPool + lockedLiability ≤ balance
//
// It is consulted before the commit of every mutation that grows
// liabilities or the pool; a violation aborts the whole operation.
type TreasuryGuard struct{}

func (TreasuryGuard) Solvent(s State) bool {
	// compare without letting the left side overflow
	if s.JackpotPool > s.Balance {
		return false
	}
	return s.LockedLiability <= s.Balance-s.JackpotPool
}
