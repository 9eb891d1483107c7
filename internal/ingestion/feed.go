package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// FeedSubscriber consumes venue feed events from NATS JetStream and
// queues them for the worker, which parses and applies them to the
// engine façade. Each subject class maps to one payload type.
type FeedSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawEvent is one unparsed feed message.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Received  time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig maps one subject class to its payload type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard feed subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "md.feed.refdata.>", EventType: "RefData", ConsumerName: "book-refdata", StreamName: "MD_FEED"},
		{Subject: "md.feed.order.>", EventType: "Order", ConsumerName: "book-orders", StreamName: "MD_FEED"},
		{Subject: "md.feed.level.>", EventType: "Level", ConsumerName: "book-levels", StreamName: "MD_FEED"},
		{Subject: "md.feed.l1.>", EventType: "L1", ConsumerName: "book-l1", StreamName: "MD_FEED"},
		{Subject: "md.feed.trade.>", EventType: "Trade", ConsumerName: "book-trades", StreamName: "MD_FEED"},
		{Subject: "md.feed.reset.>", EventType: "Reset", ConsumerName: "book-resets", StreamName: "MD_FEED"},
	}
}

func NewFeedSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *FeedSubscriber {
	return &FeedSubscriber{
		js:        js,
		eventChan: eventChan,
		log:       log,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (fs *FeedSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := fs.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: cfg.EventType,
				Data:      msg.Data(),
				Received:  time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case fs.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		fs.consumers = append(fs.consumers, consumerContext)
		fs.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the feed stream if it does not exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	cfg := jetstream.StreamConfig{
		Name:      "MD_FEED",
		Subjects:  []string{"md.feed.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// Stop gracefully stops all consumers.
func (fs *FeedSubscriber) Stop() {
	for _, cc := range fs.consumers {
		cc.Stop()
	}
	fs.log.Info().Msg("feed subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream
// context. status, when non-nil, is notified on every connectivity
// transition, including the initial connect.
func ConnectNATS(url string, log zerolog.Logger, status func(connected bool, err error)) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
			if status != nil {
				status(false, err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
			if status != nil {
				status(true, nil)
			}
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	if status != nil {
		status(true, nil)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
