// Package service ties the ledger, the settlement engine and the audit
// emitter together behind one mutex. The execution model is a single
// externally-ordered sequence of whole-operation-atomic transactions;
// the mutex is that order.
package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"

	"github.com/fairstake/betledger/internal/chain"
	"github.com/fairstake/betledger/internal/ledger"
	"github.com/fairstake/betledger/internal/settle"
	"github.com/fairstake/betledger/internal/sign"
	"github.com/fairstake/betledger/pkg/events"
	"github.com/fairstake/betledger/pkg/logger"
)

type Service struct {
	mu            sync.Mutex
	ledger        *ledger.Ledger
	engine        *settle.Engine
	emitter       events.Emitter
	source        chain.Source
	operatorToken string
}

func New(l *ledger.Ledger, engine *settle.Engine, emitter events.Emitter, source chain.Source, operatorToken string) *Service {
	return &Service{
		ledger:        l,
		engine:        engine,
		emitter:       emitter,
		source:        source,
		operatorToken: operatorToken,
	}
}

type PlaceRequest struct {
	Commit       ledger.Commit
	Selector     *big.Int
	Modulo       uint64
	ExpiryHeight uint64
	Sig          sign.Signature
	Wager        uint64
	Bettor       string
	Source       string // opaque caller-supplied game-source tag
}

func (s *Service) Place(ctx context.Context, req PlaceRequest) (ledger.Bet, error) {
	height, err := s.source.Height(ctx)
	if err != nil {
		return ledger.Bet{}, fmt.Errorf("read chain height: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bet, err := s.ledger.Place(ledger.PlaceParams{
		Commit:        req.Commit,
		Selector:      req.Selector,
		Modulo:        req.Modulo,
		ExpiryHeight:  req.ExpiryHeight,
		Sig:           req.Sig,
		CurrentHeight: height,
		Wager:         req.Wager,
		Bettor:        req.Bettor,
	})
	if err != nil {
		return ledger.Bet{}, err
	}

	if err := s.emitter.EmitBetPlaced(events.BetPlaced{
		Commit: req.Commit.Hex(),
		Source: req.Source,
	}); err != nil {
		// the bet is stored; a lost audit record is reconciled
		// externally, same as a failed payment record
		logger.Error("emit bet placed record failed", "commit", req.Commit.Hex(), "err", err)
	}
	return bet, nil
}

// Settle is operator-only: only the croupier holds the reveal secrets,
// and only it may trigger resolution.
func (s *Service) Settle(ctx context.Context, operatorToken string, reveal [32]byte, blockHash [32]byte) (settle.Outcome, error) {
	if subtle.ConstantTimeCompare([]byte(operatorToken), []byte(s.operatorToken)) != 1 {
		return settle.Outcome{}, fmt.Errorf("%w: settlement is operator-only", ledger.ErrUnauthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Settle(ctx, reveal, blockHash)
}

// Refund is callable by anyone once the settlement window has passed.
func (s *Service) Refund(ctx context.Context, commit ledger.Commit) (settle.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Refund(ctx, commit)
}

// Query resolves a 32-byte hex key to a bet record. The key may be the
// commit itself or a reveal secret whose hash is the commit. Read-only.
func (s *Service) Query(ctx context.Context, key string) (ledger.Bet, error) {
	commit, err := ledger.ParseCommit(key)
	if err != nil {
		return ledger.Bet{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bet, err := s.ledger.Bet(commit)
	if err != nil {
		return ledger.Bet{}, err
	}
	if bet.Lifecycle() != ledger.Clean {
		return bet, nil
	}
	// treat the key as a reveal and look up its commit
	return s.ledger.Bet(ledger.CommitOf([32]byte(commit)))
}

// Deposit is the passive top-up path: it only grows the balance.
func (s *Service) Deposit(amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: deposit must be positive", ledger.ErrInputRange)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Credit(amount)
}

func (s *Service) Status() ledger.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.State()
}
