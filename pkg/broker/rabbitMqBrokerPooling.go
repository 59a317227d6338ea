package broker

import (
	"errors"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/zoff-tech/order-events/pkg/config"
)

var errConnectionNotOpen = errors.New("RabbitMQ connection is not open")

// amqpChannel is the subset of *amqp.Channel the broker uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// amqpConnection is the subset of *amqp.Connection the broker uses.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

type dialedConnection struct {
	conn *amqp.Connection
}

func (d dialedConnection) Channel() (amqpChannel, error) {
	ch, err := d.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (d dialedConnection) IsClosed() bool { return d.conn.IsClosed() }
func (d dialedConnection) Close() error   { return d.conn.Close() }

type pooledChannel struct {
	channel     amqpChannel
	notifyClose chan *amqp.Error
}

func newPooledChannel(ch amqpChannel) *pooledChannel {
	return &pooledChannel{
		channel:     ch,
		notifyClose: ch.NotifyClose(make(chan *amqp.Error, 1)),
	}
}

var newConnection = func(settings *config.BrokerSettings, log *zap.SugaredLogger) (amqpConnection, error) {
	conn, err := amqp.Dial(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	// Set up a channel to handle connection close notifications
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		for err := range notifyClose {
			log.Warnw("RabbitMQ connection closed", "error", err)
		}
	}()

	return dialedConnection{conn: conn}, nil
}

func (r *RabbitMqBroker) connectAndInitialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrBrokerClosed
	}

	// Close existing connection if it exists
	if r.connection != nil && !r.connection.IsClosed() {
		r.connection.Close()
	}

	connection, err := newConnection(r.settings, r.log)
	if err != nil {
		return err
	}
	r.connection = connection

	// Channels of the previous connection are dead
	r.drainPool()
	r.channelPool = make(chan *pooledChannel, r.settings.PoolSize)

	for i := 0; i < r.settings.PoolSize; i++ {
		channel, err := connection.Channel()
		if err != nil {
			return err
		}
		r.channelPool <- newPooledChannel(channel)
	}

	r.log.Infow("RabbitMQ connection and channel pool initialized", "pool_size", r.settings.PoolSize)
	return nil
}

func (r *RabbitMqBroker) recoverConnection() {
	for {
		select {
		case <-r.reconnectTicker.C:
			r.mu.Lock()
			lost := r.connection == nil || r.connection.IsClosed()
			r.mu.Unlock()
			if lost {
				r.log.Infow("attempting to reconnect to RabbitMQ")
				if err := r.connectAndInitialize(); err != nil {
					r.log.Warnw("failed to reconnect to RabbitMQ", "error", err)
				} else {
					r.log.Infow("reconnected to RabbitMQ")
				}
			}
		case <-r.stopReconnect:
			r.log.Debugw("stopping RabbitMQ connection recovery")
			return
		}
	}
}

func (r *RabbitMqBroker) getChannel() (*pooledChannel, error) {
	r.mu.Lock()
	pool, conn, closed := r.channelPool, r.connection, r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrBrokerClosed
	}

	for {
		select {
		case pooledChan := <-pool:
			select {
			case err := <-pooledChan.notifyClose:
				// Channel is closed, discard it
				r.log.Debugw("discarding closed channel", "error", err)
				continue
			default:
				return pooledChan, nil
			}
		default:
			// Create a new channel if none are available
			if conn == nil || conn.IsClosed() {
				return nil, errConnectionNotOpen
			}
			channel, err := conn.Channel()
			if err != nil {
				return nil, fmt.Errorf("failed to open channel: %w", err)
			}
			return newPooledChannel(channel), nil
		}
	}
}

func (r *RabbitMqBroker) releaseChannel(pooledChan *pooledChannel) {
	select {
	case err := <-pooledChan.notifyClose:
		// Channel is closed, discard it
		r.log.Debugw("discarding closed channel", "error", err)
		return
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		pooledChan.channel.Close()
		return
	}
	select {
	case r.channelPool <- pooledChan:
	default:
		// Pool is full, close the channel
		pooledChan.channel.Close()
	}
}

// drainPool closes every pooled channel. The caller holds r.mu.
func (r *RabbitMqBroker) drainPool() {
	if r.channelPool == nil {
		return
	}
	for {
		select {
		case pooledChan := <-r.channelPool:
			pooledChan.channel.Close()
		default:
			return
		}
	}
}
