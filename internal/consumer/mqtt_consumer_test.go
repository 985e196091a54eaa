package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqttcommon "github.com/Engineering-Research-and-Development/universal-data-connector-sub001/common/mqtt"
	"github.com/Engineering-Research-and-Development/universal-data-connector-sub001/internal/transformer"
)

type fakeSubscriber struct {
	mu           sync.Mutex
	handlers     map[string]mqttcommon.MessageHandler
	unsubscribed []string
	failOn       string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: map[string]mqttcommon.MessageHandler{}}
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, handler mqttcommon.MessageHandler) error {
	if topic == f.failOn {
		return errors.New("not authorized")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topics ...string) error {
	f.unsubscribed = append(f.unsubscribed, topics...)
	return nil
}

func (f *fakeSubscriber) subscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeSubscriber) deliver(filter, topic string, payload []byte) error {
	f.mu.Lock()
	handler := f.handlers[filter]
	f.mu.Unlock()
	return handler(topic, payload)
}

func TestMQTTConsumer_IngestsMessages(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.Topics = []string{"sensors/#", "plant/+/status"}
	sub := newFakeSubscriber()
	svc := setupService(t, nil)
	c := NewMQTTConsumer(cfg, sub, svc, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()
	require.Eventually(t, func() bool { return sub.subscribed() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sub.deliver("sensors/#", "sensors/room1/climate", []byte(`{"temperature": 21.5, "unit": "C"}`)))
	require.NoError(t, sub.deliver("plant/+/status", "plant/line4/status", []byte("running")))

	device, ok := svc.GetDevice(transformer.TopicDeviceID("sensors/room1/climate"))
	require.True(t, ok)
	m, ok := device.Measurement("temperature")
	require.True(t, ok)
	assert.Equal(t, 21.5, m.Value)

	status, ok := svc.GetDevice(transformer.TopicDeviceID("plant/line4/status"))
	require.True(t, ok)
	v, ok := status.Measurement("value")
	require.True(t, ok)
	assert.Equal(t, "running", v.Value)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, cfg.Ingest.Topics, sub.unsubscribed)
}

func TestMQTTConsumer_SubscribeFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.Topics = []string{"sensors/#"}
	sub := newFakeSubscriber()
	sub.failOn = "sensors/#"
	c := NewMQTTConsumer(cfg, sub, setupService(t, nil), zap.NewNop())

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sensors/#")
}
