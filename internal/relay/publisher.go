package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"livepoll/pkg/types"
)

// DefaultChannel is the Redis channel closed results are published on.
const DefaultChannel = "livepoll:results"

const publishTimeout = 5 * time.Second

// RedisPublisher is the subset of the go-redis client the relay needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// message is what subscribers on the channel receive.
type message struct {
	Event string            `json:"event"`
	Data  *types.PollResult `json:"data"`
	At    int64             `json:"at"`
}

// Publisher relays closed poll results to a Redis channel so other services
// (dashboards, graders) can follow the classroom without a websocket.
type Publisher struct {
	client  RedisPublisher
	channel string
	now     func() time.Time
	logger  *zap.Logger
}

// NewPublisher creates a relay publishing on channel, or DefaultChannel when empty.
func NewPublisher(client RedisPublisher, channel string, logger *zap.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		channel: channel,
		now:     time.Now,
		logger:  logger,
	}
}

// Channel returns the channel results are published on.
func (p *Publisher) Channel() string {
	return p.channel
}

// StoreResult publishes result. It is a ResultSink: nothing is read back.
func (p *Publisher) StoreResult(ctx context.Context, result *types.PollResult) error {
	body, err := json.Marshal(message{
		Event: types.EventPollResults,
		Data:  result,
		At:    p.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	receivers, err := p.client.Publish(ctx, p.channel, body).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	p.logger.Debug("poll result published",
		zap.String("channel", p.channel),
		zap.String("poll_id", result.Poll.ID),
		zap.Int64("receivers", receivers))
	return nil
}
