// Package kafka streams committed queue transitions to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// TransitionEvent is one committed ticket transition.
type TransitionEvent struct {
	Event        string    `json:"event"`
	TicketID     int64     `json:"ticketId"`
	TicketNumber string    `json:"ticketNumber"`
	VisitNumber  string    `json:"visitNumber"`
	DepartmentID int64     `json:"departmentId"`
	OldStatus    *string   `json:"oldStatus"`
	NewStatus    string    `json:"newStatus"`
	ChangedBy    string    `json:"changedBy"`
	ChangedAt    time.Time `json:"changedAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes transition events best-effort: failures are logged and
// never reach the caller. A Producer built without brokers is a no-op.
type Producer struct {
	writer  messageWriter
	logger  zerolog.Logger
	timeout time.Duration
}

func NewProducer(brokers []string, topic string, logger zerolog.Logger) *Producer {
	p := &Producer{
		logger:  logger.With().Str("component", "kafka_producer").Logger(),
		timeout: 2 * time.Second,
	}
	if len(brokers) == 0 || topic == "" {
		return p
	}
	p.writer = &kafka.Writer{
		Addr:  kafka.TCP(brokers...),
		Topic: topic,
		// Events of one ticket share a partition and stay ordered.
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return p
}

// Enabled reports whether events are actually sent.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

func (p *Producer) Emit(ctx context.Context, ev TransitionEvent) {
	if p.writer == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("event", ev.Event).Msg("marshal transition event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.TicketID, 10)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(ev.Event)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn().Err(err).Str("event", ev.Event).Int64("ticket_id", ev.TicketID).Msg("write transition event")
	}
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
