package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/segmentio/kafka-go"

	"thermowatch/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer messageWriter
	topic  string
	source string
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic, source string, logger *slog.Logger) Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(w, topic, source, logger)
}

func newKafkaPublisher(w messageWriter, topic, source string, logger *slog.Logger) *kafkaPublisher {
	return &kafkaPublisher{
		writer: w,
		topic:  topic,
		source: source,
		logger: logger.With("component", "kafka-publisher"),
	}
}

func (p *kafkaPublisher) Name() string { return "kafka" }

func (p *kafkaPublisher) Publish(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(readings))
	for _, r := range readings {
		data, err := json.Marshal(toMessage(r, p.source))
		if err != nil {
			return fmt.Errorf("marshal reading %d: %w", r.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(r.ID, 10)),
			Value: data,
			Time:  r.CreatedAt,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	p.logger.Debug("published readings", "topic", p.topic, "count", len(msgs))
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
