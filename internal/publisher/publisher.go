package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"thermowatch/internal/config"
	"thermowatch/internal/models"
)

// Publisher fans newly observed readings out to a message broker.
type Publisher interface {
	Publish(ctx context.Context, readings []models.Reading) error
	Name() string
	Close() error
}

// Message is the payload written for every reading.
type Message struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Temperature float64   `json:"temperature_c"`
	Humidity    float64   `json:"humidity_pct"`
	Source      string    `json:"source"`
}

func toMessage(r models.Reading, source string) Message {
	return Message{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Source:      source,
	}
}

// New builds the publisher selected by PUBLISH_BACKEND.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Publisher, error) {
	switch cfg.Publisher.Backend {
	case "mqtt":
		return NewMQTTPublisher(ctx, MQTTConfig{
			Broker:   cfg.Publisher.MQTTBroker,
			ClientID: cfg.Publisher.MQTTClientID,
			Topic:    cfg.Publisher.MQTTTopic,
			Source:   cfg.Remote.Table,

			ConnectTimeout: cfg.Publisher.MQTTTimeout,
		}, logger)
	case "kafka":
		return NewKafkaPublisher(cfg.Publisher.KafkaBrokers, cfg.Publisher.KafkaTopic, cfg.Remote.Table, logger), nil
	case "none", "":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown publisher backend %q", cfg.Publisher.Backend)
	}
}

type Noop struct{}

func (Noop) Publish(context.Context, []models.Reading) error { return nil }
func (Noop) Name() string                                    { return "none" }
func (Noop) Close() error                                    { return nil }

// Tracker remembers the highest reading id a publisher has accepted.
type Tracker struct {
	mu     sync.Mutex
	lastID int64
}

func NewTracker(lastID int64) *Tracker {
	return &Tracker{lastID: lastID}
}

// Pending returns the readings with an id above the mark, oldest first.
// The mark is left untouched until Commit.
func (t *Tracker) Pending(readings []models.Reading) []models.Reading {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.Reading
	for _, r := range readings {
		if r.ID > t.lastID {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Commit moves the mark to the highest id in readings. It never moves
// backwards.
func (t *Tracker) Commit(readings []models.Reading) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range readings {
		if r.ID > t.lastID {
			t.lastID = r.ID
		}
	}
}

func (t *Tracker) LastID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastID
}
