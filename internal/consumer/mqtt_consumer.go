package consumer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	mqttcommon "github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/mqtt"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/config"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/service"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/transformer"
)

// Subscriber MQTT 订阅能力，*mqttcommon.Client 实现该接口
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 订阅配置的主题，每条消息按 mqtt 协议采集
type MQTTConsumer struct {
	config     *config.Config
	subscriber Subscriber
	service    *service.NormalizerService
	logger     *zap.Logger
	// ctx 为 Start 传入的上下文，消息回调中使用
	ctx context.Context
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(cfg *config.Config, subscriber Subscriber, svc *service.NormalizerService, logger *zap.Logger) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		subscriber: subscriber,
		service:    svc,
		logger:     logger,
		ctx:        context.Background(),
	}
}

// Start 订阅全部主题并阻塞到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.ctx = ctx
	for _, topic := range c.config.Ingest.Topics {
		if err := c.subscriber.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	c.logger.Info("MQTT consumer started", zap.Strings("topics", c.config.Ingest.Topics))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if len(c.config.Ingest.Topics) > 0 {
		if err := c.subscriber.Unsubscribe(c.config.Ingest.Topics...); err != nil {
			c.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理MQTT消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	res, err := c.service.Ingest(c.ctx, transformer.ProtocolMQTT, payload, transformer.MapContext{Topic: topic})
	if err != nil {
		return fmt.Errorf("failed to ingest message from %s: %w", topic, err)
	}
	if len(res.Devices) == 0 {
		c.logger.Warn("MQTT message produced no devices", zap.String("topic", topic))
	}
	return nil
}
