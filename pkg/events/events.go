package events

const (
	TypeBetPlaced      = "bet_placed"
	TypePayment        = "payment"
	TypeFailedPayment  = "failed_payment"
	TypeJackpotPayment = "jackpot_payment"
)

// Envelope wraps every audit record published by the ledger.
type Envelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// BetPlaced is emitted once a bet is stored. Source is an opaque
// caller-supplied game-source tag, recorded as-is.
type BetPlaced struct {
	Commit string `json:"commit"`
	Source string `json:"source"`
}

// Payment is emitted for every settlement or refund transfer attempt.
// Amount is in base units; AmountCoin is the human-readable form.
type Payment struct {
	Beneficiary string `json:"beneficiary"`
	Amount      string `json:"amount"`
	AmountCoin  string `json:"amount_coin"`
	Commit      string `json:"commit"`
}
