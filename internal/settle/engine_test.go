package settle

import (
	"context"
	"crypto/sha256"
	"math/big"
	"sync"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairstake/betledger/internal/chain"
	"github.com/fairstake/betledger/internal/ledger"
	"github.com/fairstake/betledger/internal/odds"
	"github.com/fairstake/betledger/internal/payout"
	"github.com/fairstake/betledger/internal/sign"
	"github.com/fairstake/betledger/pkg/events"
	"github.com/fairstake/betledger/pkg/kvstore"
)

// captureEmitter records every audit event for assertions.
type captureEmitter struct {
	mu       sync.Mutex
	placed   []events.BetPlaced
	payments []events.Payment
	failed   []events.Payment
	jackpots []events.Payment
}

func (c *captureEmitter) EmitBetPlaced(e events.BetPlaced) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.placed = append(c.placed, e)
	return nil
}

func (c *captureEmitter) EmitPayment(e events.Payment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payments = append(c.payments, e)
	return nil
}

func (c *captureEmitter) EmitFailedPayment(e events.Payment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed = append(c.failed, e)
	return nil
}

func (c *captureEmitter) EmitJackpotPayment(e events.Payment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jackpots = append(c.jackpots, e)
	return nil
}

func (c *captureEmitter) Close() {}

// failingTreasury refuses every transfer.
type failingTreasury struct{}

func (failingTreasury) Debit(uint64) error { return ledger.ErrInsolvent }

type harness struct {
	ledger  *ledger.Ledger
	engine  *Engine
	source  *chain.MemorySource
	emitted *captureEmitter
	signer  *secp256k1.PrivateKey
}

const lookback = 250

func newHarness(t *testing.T, oddsEngine odds.Engine, jackpotModulo uint64) *harness {
	t.Helper()

	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	l, err := ledger.Open(
		kvstore.NewMemoryStore(),
		oddsEngine,
		sign.NewVerifier(sign.PubKeyAddress(priv.PubKey())),
		ledger.Limits{MinBet: 10, MaxBet: 100_000, MaxProfit: 10_000_000},
	)
	require.NoError(t, err)
	require.NoError(t, l.Credit(10_000_000))

	emitted := &captureEmitter{}
	source := chain.NewMemorySource()
	engine := NewEngine(l, payout.NewDispatcher(l, emitted, 8), source, Config{
		LookbackBlocks: lookback,
		JackpotModulo:  jackpotModulo,
	})

	return &harness{ledger: l, engine: engine, source: source, emitted: emitted, signer: priv}
}

// place puts an Active bet at height 100 with the given selector and
// returns its reveal. The placement block hash is registered with the
// chain source.
func (h *harness) place(t *testing.T, seed string, selector *big.Int, modulo, wager uint64) (reveal [32]byte, blockHash [32]byte) {
	t.Helper()

	reveal = sha256.Sum256([]byte(seed))
	commit := ledger.CommitOf(reveal)
	blockHash = sha256.Sum256([]byte(seed + "/block"))

	h.source.SetHeight(100)
	h.source.SetBlockHash(100, blockHash)

	_, err := h.ledger.Place(ledger.PlaceParams{
		Commit:        commit,
		Selector:      selector,
		Modulo:        modulo,
		ExpiryHeight:  500,
		Sig:           sign.Sign(h.signer, 500, [32]byte(commit)),
		CurrentHeight: 100,
		Wager:         wager,
		Bettor:        "bettor-1",
	})
	require.NoError(t, err)

	h.source.SetHeight(101)
	return reveal, blockHash
}

// expectedRoll recomputes the main roll the engine must produce.
func expectedRoll(reveal, blockHash [32]byte, modulo uint64) uint64 {
	e := Entropy(reveal, blockHash)
	return new(big.Int).Mod(e, new(big.Int).SetUint64(modulo)).Uint64()
}

func TestSettle_MaskWin(t *testing.T) {
	h := newHarness(t, odds.Engine{}, 1000)

	// place with a placeholder selector first to learn the roll, then
	// place the real bet whose mask selects exactly that outcome
	reveal := sha256.Sum256([]byte("win-seed"))
	blockHash := sha256.Sum256([]byte("win-seed/block"))
	roll := expectedRoll(reveal, blockHash, 6)

	mask := new(big.Int).Lsh(big.NewInt(1), uint(roll))
	gotReveal, gotHash := h.place(t, "win-seed", mask, 6, 600)
	require.Equal(t, reveal, gotReveal)
	require.Equal(t, blockHash, gotHash)

	lockedBefore := h.ledger.State().LockedLiability
	balanceBefore := h.ledger.State().Balance

	out, err := h.engine.Settle(context.Background(), reveal, blockHash)
	require.NoError(t, err)

	// winAmount = floor(600 * 6 / 1) = 3600
	assert.True(t, out.Won)
	assert.Equal(t, roll, out.Roll)
	assert.Equal(t, uint64(3600), out.WinAmount)
	assert.Equal(t, uint64(3600), out.PaidAmount)
	assert.True(t, out.Delivered)

	state := h.ledger.State()
	assert.Equal(t, lockedBefore-3600, state.LockedLiability)
	assert.Equal(t, balanceBefore-3600, state.Balance)

	require.Len(t, h.emitted.payments, 1)
	assert.Equal(t, "3600", h.emitted.payments[0].Amount)
	assert.Empty(t, h.emitted.jackpots)
}

func TestSettle_MaskLossDispatchesPlaceholder(t *testing.T) {
	h := newHarness(t, odds.Engine{}, 1000)

	reveal := sha256.Sum256([]byte("loss-seed"))
	blockHash := sha256.Sum256([]byte("loss-seed/block"))
	roll := expectedRoll(reveal, blockHash, 6)

	// mask selects every outcome except the roll
	all := new(big.Int).Lsh(big.NewInt(1), 6)
	all.Sub(all, big.NewInt(1))
	mask := new(big.Int).Xor(all, new(big.Int).Lsh(big.NewInt(1), uint(roll)))

	h.place(t, "loss-seed", mask, 6, 600)

	out, err := h.engine.Settle(context.Background(), reveal, blockHash)
	require.NoError(t, err)

	assert.False(t, out.Won)
	assert.Equal(t, uint64(0), out.WinAmount)
	assert.Equal(t, uint64(1), out.PaidAmount, "a loss still produces a settlement record")

	require.Len(t, h.emitted.payments, 1)
	assert.Equal(t, "0", h.emitted.payments[0].Amount, "audit amount is the real (zero) win")
}

func TestSettle_ThresholdGame(t *testing.T) {
	h := newHarness(t, odds.Engine{}, 1000)

	reveal := sha256.Sum256([]byte("threshold-seed"))
	blockHash := sha256.Sum256([]byte("threshold-seed/block"))
	roll := expectedRoll(reveal, blockHash, 100)

	// rollUnder chosen so the outcome is a win iff roll < 50
	h.place(t, "threshold-seed", big.NewInt(50), 100, 600)

	out, err := h.engine.Settle(context.Background(), reveal, blockHash)
	require.NoError(t, err)
	assert.Equal(t, roll < 50, out.Won)
	assert.Equal(t, roll, out.Roll)
}

func TestSettle_SecondAttemptFails(t *testing.T) {
	h := newHarness(t, odds.Engine{}, 1000)
	reveal, blockHash := h.place(t, "double-seed", big.NewInt(0b111), 6, 600)

	_, err := h.engine.Settle(context.Background(), reveal, blockHash)
	require.NoError(t, err)

	lockedAfter := h.ledger.State().LockedLiability
	paymentsAfter := len(h.emitted.payments) + len(h.emitted.failed)

	_, err = h.engine.Settle(context.Background(), reveal, blockHash)
	assert.ErrorIs(t, err, ledger.ErrState)
	assert.Equal(t, lockedAfter, h.ledger.State().LockedLiability)
	assert.Equal(t, paymentsAfter, len(h.emitted.payments)+len(h.emitted.failed), "no second dispatch")
}

func TestSettle_HeightWindow(t *testing.T) {
	h := newHarness(t, odds.Engine{}, 1000)
	reveal, blockHash := h.place(t, "window-seed", big.NewInt(0b111), 6, 600)

	// same height as placement: too early
	h.source.SetHeight(100)
	_, err := h.engine.Settle(context.Background(), reveal, blockHash)
	assert.ErrorIs(t, err, ledger.ErrTemporal)

	// beyond the lookback window: too late
	h.source.SetHeight(100 + lookback + 1)
	_, err = h.engine.Settle(context.Background(), reveal, blockHash)
	assert.ErrorIs(t, err, ledger.ErrTemporal)

	// the bet is still Active and refundable
	bet, err := h.ledger.Bet(ledger.CommitOf(reveal))
	require.NoError(t, err)
	assert.Equal(t, ledger.Active, bet.Lifecycle())
}

func TestSettle_StaleBlockHash(t *testing.T) {
	h := newHarness(t, odds.Engine{}, 1000)
	reveal, _ := h.place(t, "stale-seed", big.NewInt(0b111), 6, 600)

	wrong := sha256.Sum256([]byte("some other block"))
	_, err := h.engine.Settle(context.Background(), reveal, wrong)
	assert.ErrorIs(t, err, ledger.ErrTemporal)
}

func TestSettle_UnknownReveal(t *testing.T) {
	h := newHarness(t, odds.Engine{}, 1000)

	reveal := sha256.Sum256([]byte("never-placed"))
	_, err := h.engine.Settle(context.Background(), reveal, [32]byte{})
	assert.ErrorIs(t, err, ledger.ErrState)
}

func TestSettle_JackpotAward(t *testing.T) {
	// jackpotModulo 1 makes every eligible settlement hit the jackpot
	h := newHarness(t, odds.Engine{JackpotThreshold: 500, JackpotFee: 5}, 1)

	reveal := sha256.Sum256([]byte("jackpot-seed"))
	blockHash := sha256.Sum256([]byte("jackpot-seed/block"))
	roll := expectedRoll(reveal, blockHash, 6)

	// lose the main roll so only the jackpot pays
	all := big.NewInt(0b111111)
	mask := new(big.Int).Xor(all, new(big.Int).Lsh(big.NewInt(1), uint(roll)))
	h.place(t, "jackpot-seed", mask, 6, 600)

	pool := h.ledger.State().JackpotPool
	require.Equal(t, uint64(5), pool, "placement fee seeded the pool")

	out, err := h.engine.Settle(context.Background(), reveal, blockHash)
	require.NoError(t, err)

	assert.False(t, out.Won)
	assert.Equal(t, pool, out.JackpotWin)
	assert.Equal(t, uint64(0), h.ledger.State().JackpotPool, "pool is exactly zero after an award")

	require.Len(t, h.emitted.jackpots, 1)
	assert.Equal(t, "5", h.emitted.jackpots[0].Amount)
}

func TestSettle_IneligibleWagerSkipsJackpot(t *testing.T) {
	h := newHarness(t, odds.Engine{JackpotThreshold: 10_000, JackpotFee: 5}, 1)
	reveal, blockHash := h.place(t, "small-seed", big.NewInt(0b111), 6, 600)

	out, err := h.engine.Settle(context.Background(), reveal, blockHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), out.JackpotWin)
	assert.Empty(t, h.emitted.jackpots)
}

func TestSettle_DispatchFailureKeepsTransition(t *testing.T) {
	h := newHarness(t, odds.Engine{}, 1000)
	reveal, blockHash := h.place(t, "fail-seed", big.NewInt(0b111111), 6, 600)

	// swap in a dispatcher whose treasury refuses transfers
	h.engine.dispatcher = payout.NewDispatcher(failingTreasury{}, h.emitted, 8)

	out, err := h.engine.Settle(context.Background(), reveal, blockHash)
	require.NoError(t, err, "transfer failure must not fail the settlement")
	assert.False(t, out.Delivered)

	bet, err := h.ledger.Bet(ledger.CommitOf(reveal))
	require.NoError(t, err)
	assert.Equal(t, ledger.Processed, bet.Lifecycle(), "state transition stands")

	require.Len(t, h.emitted.failed, 1)
	assert.Empty(t, h.emitted.payments)
}

func TestRefund_OnlyAfterWindow(t *testing.T) {
	h := newHarness(t, odds.Engine{JackpotThreshold: 500, JackpotFee: 5}, 1000)
	reveal, _ := h.place(t, "refund-seed", big.NewInt(0b0101), 4, 600)
	commit := ledger.CommitOf(reveal)

	// window still open
	h.source.SetHeight(100 + lookback)
	_, err := h.engine.Refund(context.Background(), commit)
	assert.ErrorIs(t, err, ledger.ErrTemporal)

	h.source.SetHeight(100 + lookback + 1)
	lockedBefore := h.ledger.State().LockedLiability
	poolBefore := h.ledger.State().JackpotPool
	balanceBefore := h.ledger.State().Balance

	out, err := h.engine.Refund(context.Background(), commit)
	require.NoError(t, err)

	assert.True(t, out.Refunded)
	assert.Equal(t, uint64(600), out.PaidAmount, "full original wager comes back")
	assert.True(t, out.Delivered)

	state := h.ledger.State()
	// winAmount = floor((600-5)*4/2) = 1190 released
	assert.Equal(t, lockedBefore-1190, state.LockedLiability)
	assert.Equal(t, poolBefore-5, state.JackpotPool, "fee returned from the pool")
	assert.Equal(t, balanceBefore-600, state.Balance)

	// terminal: neither refundable nor settleable again
	_, err = h.engine.Refund(context.Background(), commit)
	assert.ErrorIs(t, err, ledger.ErrState)
}

func TestRefund_CleanCommitRejected(t *testing.T) {
	h := newHarness(t, odds.Engine{}, 1000)
	h.source.SetHeight(1000)

	_, err := h.engine.Refund(context.Background(), ledger.Commit(sha256.Sum256([]byte("nothing"))))
	assert.ErrorIs(t, err, ledger.ErrState)
}

func TestEntropy_Deterministic(t *testing.T) {
	r := sha256.Sum256([]byte("r"))
	b := sha256.Sum256([]byte("b"))

	assert.Equal(t, 0, Entropy(r, b).Cmp(Entropy(r, b)))
	assert.NotEqual(t, 0, Entropy(r, b).Cmp(Entropy(b, r)), "order of inputs matters")
}
