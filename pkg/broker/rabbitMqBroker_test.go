package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zoff-tech/order-events/pkg/config"
	"github.com/zoff-tech/order-events/schema"
)

type mockChannel struct {
	mock.Mock
	notify chan *amqp.Error
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ret := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return ret.Get(0).(amqp.Queue), ret.Error(1)
}

func (m *mockChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *mockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return m.Called(prefetchCount, prefetchSize, global).Error(0)
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	ret := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(<-chan amqp.Delivery), ret.Error(1)
}

func (m *mockChannel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	m.notify = c
	return c
}

func (m *mockChannel) Close() error {
	m.Called()
	return nil
}

type mockConnection struct {
	mock.Mock
}

func (m *mockConnection) Channel() (amqpChannel, error) {
	ret := m.Called()
	if ret.Get(0) == nil {
		return nil, ret.Error(1)
	}
	return ret.Get(0).(amqpChannel), ret.Error(1)
}

func (m *mockConnection) IsClosed() bool {
	return m.Called().Bool(0)
}

func (m *mockConnection) Close() error {
	return m.Called().Error(0)
}

func newTestBroker(t *testing.T, conn amqpConnection, maxLength int, pooled ...*mockChannel) (*RabbitMqBroker, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	b := &RabbitMqBroker{
		connection:      conn,
		channelPool:     make(chan *pooledChannel, 2),
		settings:        &config.BrokerSettings{Type: "rabbitmq", URL: "amqp://test", PoolSize: 2, QueueMaxLength: maxLength},
		maxLength:       maxLength,
		reconnectTicker: time.NewTicker(time.Hour),
		stopReconnect:   make(chan struct{}),
		log:             zap.New(core).Sugar(),
	}
	for _, ch := range pooled {
		b.channelPool <- newPooledChannel(ch)
	}
	return b, logs
}

func TestQueueArgs(t *testing.T) {
	assert.Equal(t, amqp.Table{"x-max-length": int32(10000)}, queueArgs(10000))
	assert.Nil(t, queueArgs(0))
}

func TestRabbitMqPublish_DeclaresQueueAndPublishesPersistent(t *testing.T) {
	ch := &mockChannel{}
	conn := &mockConnection{}
	b, _ := newTestBroker(t, conn, 10000, ch)

	ch.On("QueueDeclare", "order.created", true, false, false, false, amqp.Table{"x-max-length": int32(10000)}).
		Return(amqp.Queue{Name: "order.created"}, nil)
	ch.On("Publish", "", "order.created", false, false, mock.MatchedBy(func(p amqp.Publishing) bool {
		return p.DeliveryMode == amqp.Persistent &&
			p.ContentType == "application/json" &&
			p.MessageId != "" &&
			!p.Timestamp.IsZero() &&
			p.Headers["x-source"] == "test" &&
			string(p.Body) == `{"type":"ORDER_CREATED"}`
	})).Return(nil)

	err := b.Publish(context.Background(), schema.QueueOrderCreated, []byte(`{"type":"ORDER_CREATED"}`), map[string]string{"x-source": "test"})
	require.NoError(t, err)
	ch.AssertExpectations(t)

	// the channel went back to the pool
	assert.Len(t, b.channelPool, 1)
}

func TestRabbitMqPublish_WarnsAtCapacityButStillSends(t *testing.T) {
	ch := &mockChannel{}
	b, logs := newTestBroker(t, &mockConnection{}, 10, ch)

	ch.On("QueueDeclare", "product.updated", true, false, false, false, mock.Anything).
		Return(amqp.Queue{Name: "product.updated", Messages: 10}, nil)
	ch.On("Publish", "", "product.updated", false, false, mock.Anything).Return(nil)

	err := b.Publish(context.Background(), schema.QueueProductUpdated, []byte(`{}`), nil)
	require.NoError(t, err)
	ch.AssertCalled(t, "Publish", "", "product.updated", false, false, mock.Anything)

	warnings := logs.FilterMessage("queue at capacity, broker may drop the oldest message")
	require.Equal(t, 1, warnings.Len())
	assert.Equal(t, zapcore.WarnLevel, warnings.All()[0].Level)
}

func TestRabbitMqPublish_DeclareFailure(t *testing.T) {
	ch := &mockChannel{}
	b, _ := newTestBroker(t, &mockConnection{}, 10000, ch)

	ch.On("QueueDeclare", "notification", true, false, false, false, mock.Anything).
		Return(amqp.Queue{}, errors.New("PRECONDITION_FAILED"))

	err := b.Publish(context.Background(), schema.QueueNotification, []byte(`{}`), nil)
	assert.ErrorContains(t, err, "failed to declare queue notification")
	ch.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRabbitMqPublish_PublishFailure(t *testing.T) {
	ch := &mockChannel{}
	b, _ := newTestBroker(t, &mockConnection{}, 10000, ch)

	ch.On("QueueDeclare", "order.status.updated", true, false, false, false, mock.Anything).
		Return(amqp.Queue{}, nil)
	ch.On("Publish", "", "order.status.updated", false, false, mock.Anything).Return(amqp.ErrClosed)

	err := b.Publish(context.Background(), schema.QueueOrderStatusUpdated, []byte(`{}`), nil)
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestGetChannel_DiscardsClosedChannel(t *testing.T) {
	dead := &mockChannel{}
	fresh := &mockChannel{}
	conn := &mockConnection{}
	b, _ := newTestBroker(t, conn, 10000, dead)

	dead.notify <- amqp.ErrClosed
	conn.On("IsClosed").Return(false)
	conn.On("Channel").Return(fresh, nil)

	pc, err := b.getChannel()
	require.NoError(t, err)
	assert.Same(t, fresh, pc.channel)
}

func TestGetChannel_ConnectionLost(t *testing.T) {
	conn := &mockConnection{}
	b, _ := newTestBroker(t, conn, 10000)
	conn.On("IsClosed").Return(true)

	_, err := b.getChannel()
	assert.ErrorIs(t, err, errConnectionNotOpen)
}

func TestRabbitMqConsume_SetsPrefetchAndManualAck(t *testing.T) {
	ch := &mockChannel{}
	conn := &mockConnection{}
	b, _ := newTestBroker(t, conn, 10000)

	deliveries := make(chan amqp.Delivery)
	conn.On("IsClosed").Return(false)
	conn.On("Channel").Return(ch, nil)
	ch.On("QueueDeclare", "order.created", true, false, false, false, amqp.Table{"x-max-length": int32(10000)}).
		Return(amqp.Queue{}, nil)
	ch.On("Qos", 1, 0, false).Return(nil)
	ch.On("Consume", "order.created", "", false, false, false, false, amqp.Table(nil)).
		Return((<-chan amqp.Delivery)(deliveries), nil)
	closed := make(chan struct{})
	ch.On("Close").Run(func(mock.Arguments) { close(closed) }).Once()

	ctx, cancel := context.WithCancel(context.Background())
	out, err := b.Consume(ctx, schema.QueueOrderCreated, 1)
	require.NoError(t, err)
	assert.NotNil(t, out)
	ch.AssertNotCalled(t, "Close")

	cancel()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("consumer channel not closed after cancel")
	}
	ch.AssertExpectations(t)
}

func TestRabbitMqConsume_QosFailureClosesChannel(t *testing.T) {
	ch := &mockChannel{}
	conn := &mockConnection{}
	b, _ := newTestBroker(t, conn, 10000)

	conn.On("IsClosed").Return(false)
	conn.On("Channel").Return(ch, nil)
	ch.On("QueueDeclare", "notification", true, false, false, false, mock.Anything).Return(amqp.Queue{}, nil)
	ch.On("Qos", 1, 0, false).Return(errors.New("boom"))
	ch.On("Close").Return()

	_, err := b.Consume(context.Background(), schema.QueueNotification, 1)
	assert.ErrorContains(t, err, "failed to set prefetch on notification")
	ch.AssertCalled(t, "Close")
}

func TestRabbitMqClose_Idempotent(t *testing.T) {
	ch := &mockChannel{}
	conn := &mockConnection{}
	b, _ := newTestBroker(t, conn, 10000, ch)

	ch.On("Close").Return()
	conn.On("Close").Return(nil).Once()

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	conn.AssertNumberOfCalls(t, "Close", 1)
	ch.AssertCalled(t, "Close")

	_, err := b.getChannel()
	assert.ErrorIs(t, err, ErrBrokerClosed)
	_, err = b.Consume(context.Background(), schema.QueueOrderCreated, 1)
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestDialRabbitMQ_Errors(t *testing.T) {
	log := zap.NewNop().Sugar()

	_, err := DialRabbitMQ(context.Background(), &config.BrokerSettings{PoolSize: 1}, log)
	assert.EqualError(t, err, "RabbitMQ URL not configured")

	_, err = DialRabbitMQ(context.Background(), &config.BrokerSettings{URL: "amqp://localhost"}, log)
	assert.EqualError(t, err, "poolSize must be greater than 0")

	b, err := DialRabbitMQ(context.Background(), &config.BrokerSettings{URL: "invalid-url", PoolSize: 1}, log)
	require.NoError(t, err)
	assert.False(t, b.Connected())
	assert.NoError(t, b.Close())
}

func TestDialRabbitMQ_RecoversAfterFailedFirstDial(t *testing.T) {
	ch := &mockChannel{}
	conn := &mockConnection{}
	conn.On("IsClosed").Return(false)
	conn.On("Channel").Return(ch, nil)
	conn.On("Close").Return(nil)
	ch.On("QueueDeclare", "order.created", true, false, false, false, amqp.Table{"x-max-length": int32(10000)}).
		Return(amqp.Queue{}, nil)
	ch.On("Publish", "", "order.created", false, false, mock.Anything).Return(nil)
	ch.On("Close").Return()

	var reachable atomic.Bool
	original := newConnection
	newConnection = func(*config.BrokerSettings, *zap.SugaredLogger) (amqpConnection, error) {
		if !reachable.Load() {
			return nil, errors.New("failed to connect to RabbitMQ: connection refused")
		}
		return conn, nil
	}
	defer func() { newConnection = original }()

	core, logs := observer.New(zapcore.DebugLevel)
	b, err := DialRabbitMQ(context.Background(), &config.BrokerSettings{
		URL:               "amqp://test",
		PoolSize:          1,
		QueueMaxLength:    10000,
		ReconnectInterval: 10 * time.Millisecond,
	}, zap.New(core).Sugar())
	require.NoError(t, err)
	defer b.Close()

	assert.False(t, b.Connected())
	assert.Equal(t, 1, logs.FilterMessage("RabbitMQ unreachable, retrying in background").Len())
	err = b.Publish(context.Background(), schema.QueueOrderCreated, []byte(`{}`), nil)
	assert.ErrorIs(t, err, errConnectionNotOpen)

	reachable.Store(true)
	require.Eventually(t, b.Connected, time.Second, 5*time.Millisecond)
	assert.NoError(t, b.Publish(context.Background(), schema.QueueOrderCreated, []byte(`{}`), nil))
	ch.AssertCalled(t, "Publish", "", "order.created", false, false, mock.Anything)
}
