// Package notify announces analyzed meetings to downstream consumers over watermill.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/failure"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/types"
)

const (
	EventMeetingAnalyzed = "meeting.analyzed"

	metadataEventType = "event_type"
	metadataMeetingID = "meeting_id"
)

// Event is the payload published once a meeting's analysis is durable.
type Event struct {
	Type           string         `json:"type"`
	MeetingID      string         `json:"meetingId"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Analysis       types.Analysis `json:"analysis"`
	PersistedAt    time.Time      `json:"persistedAt"`
}

type Notifier struct {
	pub   message.Publisher
	topic string
	log   *logger.Logger
}

// New builds the publisher named by cfg.Driver. The "none" driver publishes nothing.
func New(cfg config.Notify, log *logger.Logger) (*Notifier, error) {
	log = log.Component("notify").With("driver", cfg.Driver)
	wlog := newLogAdapter(log)

	switch cfg.Driver {
	case "none":
		return &Notifier{topic: cfg.Topic, log: log}, nil

	case "", "gochannel":
		pubSub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		}, wlog)
		return NewWithPublisher(pubSub, cfg.Topic, log), nil

	case "kafka":
		if len(cfg.Brokers) == 0 {
			return nil, failure.Configuration("notify.New", "KAFKA_BROKERS must be set")
		}
		saramaConfig := sarama.NewConfig()
		saramaConfig.Producer.Return.Successes = true
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll

		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaConfig,
			OTELEnabled:           true,
		}, wlog)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		return NewWithPublisher(pub, cfg.Topic, log), nil

	default:
		return nil, failure.Configuration("notify.New", fmt.Sprintf("NOTIFY_DRIVER %q is not supported", cfg.Driver))
	}
}

func NewWithPublisher(pub message.Publisher, topic string, log *logger.Logger) *Notifier {
	if topic == "" {
		topic = "meetings.analyzed"
	}
	return &Notifier{pub: pub, topic: topic, log: log}
}

func (n *Notifier) Topic() string {
	return n.topic
}

// Publish sends ev to the configured topic.
func (n *Notifier) Publish(ctx context.Context, ev Event) error {
	if n.pub == nil {
		n.log.WithField("meeting_id", ev.MeetingID).Debug("notifications disabled")
		return nil
	}
	if ev.Type == "" {
		ev.Type = EventMeetingAnalyzed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(metadataEventType, ev.Type)
	msg.Metadata.Set(metadataMeetingID, ev.MeetingID)
	msg.SetContext(ctx)

	if err := n.pub.Publish(n.topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type, err)
	}
	n.log.WithField("meeting_id", ev.MeetingID).WithField("topic", n.topic).Info("meeting notification published")
	return nil
}

func (n *Notifier) Close() error {
	if n.pub == nil {
		return nil
	}
	return n.pub.Close()
}
