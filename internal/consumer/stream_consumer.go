package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/redis"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/config"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/models"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/service"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// StreamConsumer Redis Streams 采集消费者
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	service     *service.NormalizerService
	logger      *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(cfg *config.Config, redisClient *redis.Client, svc *service.NormalizerService, logger *zap.Logger) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		service:     svc,
		logger:      logger,
	}
}

// Start 创建消费者组并循环消费，直到 ctx 取消
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Ingest.Stream
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, stream, c.config.Ingest.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", stream),
		zap.String("consumer_group", c.config.Ingest.ConsumerGroup),
		zap.String("consumer_name", c.config.Ingest.ConsumerName),
	)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume stream",
				zap.String("stream", stream),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff
	}
}

// nextBackoff 指数退避，不超过 maxBackoff
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// consume 读取一批消息并逐条处理，返回处理条数
// 成功的消息和无法解析的信封会被 ACK；采集失败的消息留在 pending 列表
func (c *StreamConsumer) consume(ctx context.Context) (int, error) {
	stream := c.config.Ingest.Stream
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		stream,
		c.config.Ingest.ConsumerGroup,
		c.config.Ingest.ConsumerName,
		c.config.Ingest.BatchSize,
		c.config.Ingest.Block,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream %s: %w", stream, err)
	}

	acks := make([]string, 0, len(messages))
	for _, msg := range messages {
		err := c.processMessage(ctx, msg)
		switch {
		case err == nil:
			acks = append(acks, msg.ID)
		case errors.Is(err, models.ErrValidation):
			c.logger.Warn("Dropping invalid ingest message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			acks = append(acks, msg.ID)
		default:
			c.logger.Error("Failed to process message",
				zap.String("stream", stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	if err := rediscommon.AckMessages(ctx, c.redisClient, stream, c.config.Ingest.ConsumerGroup, acks...); err != nil {
		return len(messages), fmt.Errorf("failed to ack messages: %w", err)
	}
	return len(messages), nil
}

// processMessage 解析信封并交给 NormalizerService
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	env, protocol, err := ParseEnvelope(msg.Values)
	if err != nil {
		return fmt.Errorf("failed to parse envelope: %w", err)
	}

	res, err := c.service.Ingest(ctx, protocol, env.SourceData, env.Context.MapContext())
	if err != nil {
		return err
	}

	c.logger.Debug("Processed ingest message",
		zap.String("message_id", msg.ID),
		zap.String("protocol", string(protocol)),
		zap.Strings("devices", res.Devices),
		zap.Int("registered", res.Registered),
	)
	return nil
}

// Publish 把载荷作为采集信封写入 Stream
func Publish(ctx context.Context, client *redis.Client, stream string, env Envelope) (string, error) {
	id, err := rediscommon.PublishJSONToStream(ctx, client, stream, env)
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}
	return id, nil
}
