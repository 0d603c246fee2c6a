package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Commit identifies a bet: the SHA-256 of the croupier-chosen reveal
// secret, published before the bet is placed.
type Commit [32]byte

func (c Commit) Hex() string {
	return hex.EncodeToString(c[:])
}

func ParseCommit(s string) (Commit, error) {
	var c Commit
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("%w: commit: %v", ErrInputRange, err)
	}
	if len(b) != len(c) {
		return c, fmt.Errorf("%w: commit must be %d bytes", ErrInputRange, len(c))
	}
	copy(c[:], b)
	return c, nil
}

// CommitOf hashes a reveal secret into its commit.
func CommitOf(reveal [32]byte) Commit {
	return Commit(sha256.Sum256(reveal[:]))
}

// Lifecycle is derived from the Amount/Bettor fields, never stored.
type Lifecycle int

const (
	Clean Lifecycle = iota // commit never used
	Active                 // placed, awaiting settlement or refund
	Processed              // terminal; settled or refunded
)

func (l Lifecycle) String() string {
	switch l {
	case Clean:
		return "clean"
	case Active:
		return "active"
	case Processed:
		return "processed"
	}
	return "unknown"
}

type Bet struct {
	Commit    Commit `json:"commit"`
	Amount    uint64 `json:"amount"`
	Modulo    uint64 `json:"modulo"`
	RollUnder uint64 `json:"roll_under"`
	Mask      []byte `json:"mask,omitempty"` // big-endian, nil for threshold games
	Bettor    string `json:"bettor"`
	PlacedAt  uint64 `json:"placed_at"` // chain height at placement
}

func (b *Bet) Lifecycle() Lifecycle {
	switch {
	case b.Amount > 0:
		return Active
	case b.Bettor != "":
		return Processed
	default:
		return Clean
	}
}
