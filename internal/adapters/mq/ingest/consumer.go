// Package ingest consumes the crawler's train item feed from NATS JetStream.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/okian/blitzrec/internal/domain/model"
	"github.com/okian/blitzrec/pkg/logger"
	"github.com/okian/blitzrec/pkg/metrics"
)

const (
	defaultStream     = "BLITZREC"
	defaultSubject    = "blitzrec.train_items"
	defaultDurable    = "blitzrec-ingest"
	defaultAckWait    = 30 * time.Second
	defaultMaxDeliver = 5
	defaultMaxAge     = 7 * 24 * time.Hour
	appendTimeout     = 10 * time.Second
)

// Appender stores train items for the next retraining cycle.
type Appender interface {
	AppendTrainItems(ctx context.Context, items []model.TrainItem) error
}

// ObservationSink forwards observations to the factor path. Duplicates are
// dropped silently.
type ObservationSink interface {
	SubmitObservation(ctx context.Context, obs model.Observation) error
}

// Action is what happens to a message after handling.
type Action int

const (
	// Ack removes the message from the stream.
	Ack Action = iota
	// Nak asks for redelivery.
	Nak
	// Term drops the message for good.
	Term
)

func (a Action) String() string {
	switch a {
	case Ack:
		return "acked"
	case Nak:
		return "nacked"
	case Term:
		return "terminated"
	default:
		return "unknown"
	}
}

// Consumer is a suture service reading the feed with a durable consumer.
type Consumer struct {
	js       jetstream.JetStream
	appender Appender
	sink     ObservationSink
	stream   string
	subject  string
	durable  string
	logger   logger.Logger
}

// NewConsumer creates a feed consumer. sink may be nil to skip the factor path.
func NewConsumer(js jetstream.JetStream, appender Appender, sink ObservationSink, opts ...Option) *Consumer {
	c := &Consumer{
		js:       js,
		appender: appender,
		sink:     sink,
		stream:   defaultStream,
		subject:  defaultSubject,
		durable:  defaultDurable,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("ingest")
	}
	return c
}

// Serve ensures the stream and consumer exist and consumes until ctx is done.
func (c *Consumer) Serve(ctx context.Context) error {
	if _, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      c.stream,
		Subjects:  []string{c.subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    defaultMaxAge,
	}); err != nil {
		return fmt.Errorf("ensure stream %s: %w", c.stream, err)
	}

	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       c.durable,
		FilterSubject: c.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       defaultAckWait,
		MaxDeliver:    defaultMaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("ensure consumer %s: %w", c.durable, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.dispatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	defer cc.Stop()

	c.logger.Info(ctx, "consuming crawler feed",
		logger.String("stream", c.stream),
		logger.String("subject", c.subject),
		logger.String("durable", c.durable),
	)
	<-ctx.Done()
	return ctx.Err()
}

func (c *Consumer) dispatch(ctx context.Context, msg jetstream.Msg) {
	fallbackID := ""
	if meta, err := msg.Metadata(); err == nil {
		fallbackID = fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
	}

	action, err := c.Handle(ctx, msg.Data(), fallbackID)
	if err != nil {
		c.logger.Warn(ctx, "feed message not processed",
			logger.String("subject", msg.Subject()),
			logger.String("action", action.String()),
			logger.Error(err),
		)
	}
	metrics.RecordIngestMessage(action.String())

	var ackErr error
	switch action {
	case Ack:
		ackErr = msg.Ack()
	case Nak:
		ackErr = msg.Nak()
	case Term:
		ackErr = msg.Term()
	}
	if ackErr != nil {
		c.logger.Error(ctx, "failed to acknowledge feed message", logger.Error(ackErr))
	}
}

// Handle processes one payload. fallbackID names the observation when the
// message carries no event id, so redeliveries dedupe on the stream sequence.
func (c *Consumer) Handle(ctx context.Context, data []byte, fallbackID string) (Action, error) {
	m, err := Decode(data)
	if err != nil {
		return Term, err
	}

	appendCtx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if err := c.appender.AppendTrainItems(appendCtx, []model.TrainItem{m.TrainItem()}); err != nil {
		metrics.RecordErrorByComponent("ingest", "append")
		return Nak, fmt.Errorf("append train item: %w", err)
	}

	if c.sink == nil {
		return Ack, nil
	}
	obs := m.Observation()
	if obs.EventID == "" {
		obs.EventID = fallbackID
	}
	if err := c.sink.SubmitObservation(ctx, obs); err != nil {
		// the train item is stored, the factor path is best effort
		metrics.RecordErrorByComponent("ingest", "observation")
		c.logger.Debug(ctx, "observation not forwarded", logger.Error(err))
	}
	return Ack, nil
}

// String names the service in supervisor logs.
func (c *Consumer) String() string {
	return "ingest"
}
