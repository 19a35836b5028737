package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/identity"
)

const (
	defaultSignalChannel = "petshop:identity:signals"
	signalBuffer         = 16
)

// RedisSignalChannel implements identity.Channel with Redis Pub/Sub, so a
// logout in one instance reaches sessions served by the others.
type RedisSignalChannel struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisSignalChannel(client *redis.Client, channel string, logger *zap.Logger) *RedisSignalChannel {
	if channel == "" {
		channel = defaultSignalChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSignalChannel{client: client, channel: channel, logger: logger.Named("signals")}
}

func (c *RedisSignalChannel) Publish(ctx context.Context, sig identity.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		c.logger.Error("failed to publish signal", zap.String("channel", c.channel), zap.Error(err))
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then relays decoded
// signals until the returned close function is called or ctx ends.
func (c *RedisSignalChannel) Subscribe(ctx context.Context) (<-chan identity.Signal, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := c.client.Subscribe(subCtx, c.channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to channel: %w", err)
	}

	out := make(chan identity.Signal, signalBuffer)
	msgs := pubsub.Channel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var sig identity.Signal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					c.logger.Warn("dropping malformed signal", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				select {
				case out <- sig:
				default:
					c.logger.Warn("dropping signal for slow subscriber", zap.String("kind", string(sig.Kind)))
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
			<-done
		})
	}, nil
}

var _ identity.Channel = (*RedisSignalChannel)(nil)
