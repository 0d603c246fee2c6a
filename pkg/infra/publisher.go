package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/fairstake/betledger/pkg/logger"
)

// Publisher delivers audit payloads to a durable stream.
type Publisher interface {
	Publish(subject string, message []byte, opts *PublishOptions) error
	Close()
}

type PublishOptions struct {
	IdempotentKey string
}

type jsPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewJetStreamPublisher ensures the stream exists and returns a
// Publisher backed by it. Audit records must survive consumer restarts,
// hence JetStream file storage rather than plain NATS publish.
func NewJetStreamPublisher(nc *nats.Conn, streamName string, subjectWildCards []string) (Publisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        streamName,
		Description: "Stream for " + streamName,
		Subjects:    subjectWildCards,
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create jetstream stream %q: %w", streamName, err)
	}
	logger.Info("JetStream stream ready", "stream", streamName, "subjects", subjectWildCards)

	return &jsPublisher{nc: nc, js: js}, nil
}

func (p *jsPublisher) Publish(subject string, message []byte, opts *PublishOptions) error {
	header := nats.Header{}
	if opts != nil && opts.IdempotentKey != "" {
		header.Add("Nats-Msg-Id", opts.IdempotentKey)
	}

	_, err := p.js.PublishMsg(context.Background(), &nats.Msg{
		Subject: subject,
		Data:    message,
		Header:  header,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (p *jsPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
