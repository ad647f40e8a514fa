// Package bus implements C7: the Kafka consumer that fans inbound
// messages out to the per-topic handlers (C6), grounded on the
// original's app/api/kafka_consumer.py and, for the franz-go wiring
// itself, the sibling pack's kafka client usage.
package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/quinta-fleet/tirewatch/internal/domain"
	"github.com/quinta-fleet/tirewatch/internal/fleetlog"
)

const pollTimeout = 1 * time.Second

// MessageHandlers is the subset of C6 the consumer dispatches to.
type MessageHandlers interface {
	HandleGPS(ctx context.Context, event domain.Event) error
	HandleSensor(ctx context.Context, event domain.Event) error
	HandleLoad(ctx context.Context, event domain.Event) error
}

// Config carries the subset of the Kafka client configuration the
// consumer needs; it is populated from internal/config. Security and
// Mechanism mirror the original's security.protocol/sasl.mechanism
// (core/config.py), selecting TLS and the SASL mechanism per deployment
// rather than a single hardcoded choice.
type Config struct {
	Brokers              []string
	GroupID              string
	Security             string
	Mechanism            string
	Username             string
	Password             string
	AutoOffsetReset      string
	EnableAutoCommit     bool
	AutoCommitIntervalMS int
	SessionTimeoutMS     int
	RequestTimeoutMS     int
}

// Consumer polls the three telemetry topics and dispatches parsed
// messages to the handlers, committing offsets synchronously after
// each successfully processed message (spec.md §4.7).
type Consumer struct {
	client   *kgo.Client
	handlers MessageHandlers
}

// Topics subscribed to, spec.md §4.7.
var Topics = []string{domain.TopicGPS, domain.TopicLoad, domain.TopicSensor}

func New(cfg Config, handlers MessageHandlers) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(Topics...),
		kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMS) * time.Millisecond),
	}

	switch cfg.AutoOffsetReset {
	case "earliest":
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	default:
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	if cfg.RequestTimeoutMS > 0 {
		opts = append(opts, kgo.RequestTimeoutOverhead(time.Duration(cfg.RequestTimeoutMS)*time.Millisecond))
	}

	security := strings.ToUpper(strings.TrimSpace(cfg.Security))
	if strings.Contains(security, "SSL") {
		opts = append(opts, kgo.DialTLSConfig(new(tls.Config)))
	}

	// Offsets are always committed synchronously by this consumer after
	// each message, regardless of cfg.EnableAutoCommit / interval — the
	// original's pattern of commit(asynchronous=False) per message is
	// kept rather than franz-go's built-in auto-commit loop, so that a
	// handler error (returned, not swallowed) can skip the commit.
	opts = append(opts, kgo.DisableAutoCommit())

	if strings.HasPrefix(security, "SASL") && cfg.Username != "" {
		mechanism, err := saslMechanism(cfg.Mechanism, cfg.Username, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("bus: %w", err)
		}
		opts = append(opts, kgo.SASL(mechanism))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: create client: %w", err)
	}

	return &Consumer{client: client, handlers: handlers}, nil
}

// saslMechanism selects the SASL mechanism named by KAFKA_MECHANISM,
// mirroring the original's dynamic sasl.mechanism (core/config.py) instead
// of a single hardcoded choice: PLAIN authenticates over plain.Auth, while
// SCRAM-SHA-256/SCRAM-SHA-512 select the matching scram.Auth variant.
func saslMechanism(name, user, pass string) (sasl.Mechanism, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "PLAIN":
		return plain.Auth{User: user, Pass: pass}.AsMechanism(), nil
	case "SCRAM-SHA-512":
		return scram.Auth{User: user, Pass: pass}.AsSha512Mechanism(), nil
	case "SCRAM-SHA-256", "":
		return scram.Auth{User: user, Pass: pass}.AsSha256Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported KAFKA_MECHANISM %q", name)
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}

// Run polls and dispatches until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	fleetlog.Info("kafka subscription started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, pollTimeout)
		fetches := c.client.PollFetches(fetchCtx)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			fleetlog.Errorf("kafka error on %s/%d: %v", topic, partition, err)
		})

		fetches.EachRecord(func(record *kgo.Record) {
			c.dispatch(ctx, record)
		})
	}
}

func (c *Consumer) dispatch(ctx context.Context, record *kgo.Record) {
	var event domain.Event
	if err := json.Unmarshal(record.Value, &event); err != nil {
		fleetlog.Errorf("kafka processing error: invalid JSON on %s: %v", record.Topic, err)
		return
	}

	fleetlog.Debugf("message received on topic %q: %v", record.Topic, map[string]interface{}(event))

	var err error
	switch record.Topic {
	case domain.TopicGPS:
		err = c.dispatchGPS(ctx, event)
	case domain.TopicSensor:
		err = c.handlers.HandleSensor(ctx, event)
	case domain.TopicLoad:
		err = c.handlers.HandleLoad(ctx, event)
	default:
		fleetlog.Warnf("kafka: unrecognized topic %q", record.Topic)
	}

	if err != nil {
		fleetlog.Errorf("kafka processing error: %v", err)
		return
	}

	if commitErr := c.client.CommitRecords(ctx, record); commitErr != nil {
		fleetlog.Errorf("kafka commit error: %v", commitErr)
	}
}

// dispatchGPS implements the trailer dual-dispatch: when a
// trailerLicensePlateNumber is present, the message is processed twice
// — once under its own licensePlateNumber, once under the trailer's —
// each time against an independently cloned event so neither handler
// invocation can observe the other's mutations (spec.md §4.6, §9).
func (c *Consumer) dispatchGPS(ctx context.Context, event domain.Event) error {
	if !event.HasTrailer() {
		return c.handlers.HandleGPS(ctx, event)
	}

	original := event.Clone()
	trailerEvent := event.Clone()
	trailerEvent.SetLicensePlateNumber(trailerEvent.TrailerLicensePlateNumber())

	if err := c.handlers.HandleGPS(ctx, original); err != nil {
		return err
	}
	return c.handlers.HandleGPS(ctx, trailerEvent)
}
