package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClient parses a redis:// or rediss:// URL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

type relayEnvelope struct {
	Origin      string          `json:"origin"`
	VisitNumber string          `json:"visitNumber"`
	Payload     json.RawMessage `json:"payload"`
}

// RedisRelay shares queue updates between instances over a pub/sub channel.
// Each instance ignores its own publications since the hub has already
// delivered them locally.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	logger  zerolog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With().Str("component", "redis_relay").Logger(),
	}
}

func (r *RedisRelay) encode(visitNumber string, payload []byte) (string, error) {
	b, err := json.Marshal(relayEnvelope{Origin: r.origin, VisitNumber: visitNumber, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("marshal relay envelope: %w", err)
	}
	return string(b), nil
}

func (r *RedisRelay) Publish(ctx context.Context, visitNumber string, payload []byte) error {
	msg, err := r.encode(visitNumber, payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the channel and hands foreign messages to hub.Deliver
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload, hub.Deliver)
		}
	}
}

func (r *RedisRelay) handle(raw string, deliver func(visitNumber string, payload []byte)) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.logger.Warn().Err(err).Msg("ignoring malformed relay message")
		return
	}
	if env.Origin == r.origin || env.VisitNumber == "" || len(env.Payload) == 0 {
		return
	}
	deliver(env.VisitNumber, env.Payload)
}
