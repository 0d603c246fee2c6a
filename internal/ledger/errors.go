package ledger

import "errors"

// Error kinds surfaced by the ledger and the engines built on it. Every
// failure aborts its operation with no partial effect; callers match
// with errors.Is.
var (
	ErrInputRange   = errors.New("input out of range")
	ErrUnauthorized = errors.New("not authorized")
	ErrState        = errors.New("bet not in required state")
	ErrTemporal     = errors.New("outside valid height window")
	ErrInsolvent    = errors.New("liabilities exceed balance")
)
