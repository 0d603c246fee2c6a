package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fairstake/betledger/pkg/infra"
	"github.com/fairstake/betledger/pkg/logger"
)

type Emitter interface {
	EmitBetPlaced(e BetPlaced) error
	EmitPayment(e Payment) error
	EmitFailedPayment(e Payment) error
	EmitJackpotPayment(e Payment) error
	Close()
}

type emitter struct {
	publisher     infra.Publisher
	subjectPrefix string
}

func NewEmitter(publisher infra.Publisher, subjectPrefix string) Emitter {
	return &emitter{
		publisher:     publisher,
		subjectPrefix: subjectPrefix,
	}
}

func (e *emitter) EmitBetPlaced(ev BetPlaced) error {
	return e.emit(TypeBetPlaced, ev)
}

func (e *emitter) EmitPayment(ev Payment) error {
	return e.emit(TypePayment, ev)
}

func (e *emitter) EmitFailedPayment(ev Payment) error {
	return e.emit(TypeFailedPayment, ev)
}

func (e *emitter) EmitJackpotPayment(ev Payment) error {
	return e.emit(TypeJackpotPayment, ev)
}

func (e *emitter) emit(eventType string, data any) error {
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Unix(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.publisher.Publish(e.subjectPrefix+"."+eventType, payload, &infra.PublishOptions{
		IdempotentKey: env.ID,
	})
}

func (e *emitter) Close() {
	if e.publisher != nil {
		e.publisher.Close()
	}
}

// LogEmitter writes audit records to the process log instead of a
// stream. Used when no NATS URL is configured (local runs, tests).
type LogEmitter struct{}

func (LogEmitter) EmitBetPlaced(e BetPlaced) error {
	logger.Info("audit: bet placed", "commit", e.Commit, "source", e.Source)
	return nil
}

func (LogEmitter) EmitPayment(e Payment) error {
	logger.Info("audit: payment", "beneficiary", e.Beneficiary, "amount", e.AmountCoin, "commit", e.Commit)
	return nil
}

func (LogEmitter) EmitFailedPayment(e Payment) error {
	logger.Warn("audit: failed payment", "beneficiary", e.Beneficiary, "amount", e.AmountCoin, "commit", e.Commit)
	return nil
}

func (LogEmitter) EmitJackpotPayment(e Payment) error {
	logger.Info("audit: jackpot payment", "beneficiary", e.Beneficiary, "amount", e.AmountCoin, "commit", e.Commit)
	return nil
}

func (LogEmitter) Close() {}
