package events

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
)

// NewBus builds the message publisher selected by EVENTS_DRIVER.
func NewBus(cfg *config.Config, log zerolog.Logger) (message.Publisher, error) {
	wlog := NewLoggerAdapter(log.With().Str("component", "event_bus").Logger())

	switch cfg.EventsDriver {
	case config.EventsDriverKafka:
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers: cfg.KafkaBrokers,
			// Keyed by attempt so its events land on one partition in order.
			Marshaler: kafka.NewWithPartitioningMarshaler(func(_ string, msg *message.Message) (string, error) {
				return msg.Metadata.Get(MetadataAttemptID), nil
			}),
		}, wlog)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("Kafka event bus connected")
		return pub, nil
	case config.EventsDriverMemory:
		return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wlog), nil
	case config.EventsDriverNone, "":
		return discardPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.EventsDriver)
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(string, ...*message.Message) error { return nil }
func (discardPublisher) Close() error                              { return nil }
