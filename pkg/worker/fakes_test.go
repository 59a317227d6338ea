package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/zoff-tech/order-events/pkg/store"
	"github.com/zoff-tech/order-events/schema"
)

// memoryBroker is an in-process queue service. A nack with requeue puts the
// message back on its queue marked as redelivered.
type memoryBroker struct {
	mu       sync.Mutex
	queues   map[schema.QueueName]chan amqp.Delivery
	inflight map[uint64]amqp.Delivery
	origin   map[uint64]schema.QueueName
	nextTag  uint64
	acked    int
	nacked   int
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{
		queues:   make(map[schema.QueueName]chan amqp.Delivery),
		inflight: make(map[uint64]amqp.Delivery),
		origin:   make(map[uint64]schema.QueueName),
	}
}

func (b *memoryBroker) queue(name schema.QueueName) chan amqp.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan amqp.Delivery, 64)
		b.queues[name] = q
	}
	return q
}

func (b *memoryBroker) enqueue(queue schema.QueueName, d amqp.Delivery) {
	b.mu.Lock()
	b.nextTag++
	d.DeliveryTag = b.nextTag
	d.Acknowledger = b
	b.inflight[d.DeliveryTag] = d
	b.origin[d.DeliveryTag] = queue
	b.mu.Unlock()
	b.queue(queue) <- d
}

func (b *memoryBroker) Publish(_ context.Context, queue schema.QueueName, body []byte, headers map[string]string) error {
	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	b.enqueue(queue, amqp.Delivery{
		MessageId:   uuid.NewString(),
		ContentType: "application/json",
		Headers:     table,
		Body:        body,
	})
	return nil
}

func (b *memoryBroker) Close() error { return nil }

func (b *memoryBroker) Consume(_ context.Context, queue schema.QueueName, _ int) (<-chan amqp.Delivery, error) {
	return b.queue(queue), nil
}

func (b *memoryBroker) Ack(tag uint64, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inflight[tag]; !ok {
		return errors.New("unknown delivery tag")
	}
	delete(b.inflight, tag)
	delete(b.origin, tag)
	b.acked++
	return nil
}

func (b *memoryBroker) Nack(tag uint64, _ bool, requeue bool) error {
	b.mu.Lock()
	d, ok := b.inflight[tag]
	queue := b.origin[tag]
	if !ok {
		b.mu.Unlock()
		return errors.New("unknown delivery tag")
	}
	delete(b.inflight, tag)
	delete(b.origin, tag)
	b.nacked++
	b.mu.Unlock()

	if requeue {
		d.Redelivered = true
		b.enqueue(queue, d)
	}
	return nil
}

func (b *memoryBroker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

func (b *memoryBroker) counts() (acked, nacked int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked, b.nacked
}

type fakeStore struct {
	mu                sync.Mutex
	users             map[string]*schema.User
	notifications     []*schema.Notification
	analytics         []*schema.AnalyticsEvent
	failNotifications int
	findErr           error
	panicOnFind       bool
}

func newFakeStore(users ...*schema.User) *fakeStore {
	s := &fakeStore{users: make(map[string]*schema.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) FindUser(_ context.Context, userID string) (*schema.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOnFind {
		panic("user collection missing")
	}
	if s.findErr != nil {
		return nil, s.findErr
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) CreateNotification(_ context.Context, n *schema.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNotifications > 0 {
		s.failNotifications--
		return errors.New("write concern timeout")
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *fakeStore) AppendAnalyticsEvent(_ context.Context, e *schema.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics = append(s.analytics, e)
	return nil
}

func (s *fakeStore) Close(context.Context) error { return nil }

func (s *fakeStore) snapshot() ([]*schema.Notification, []*schema.AnalyticsEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*schema.Notification(nil), s.notifications...),
		append([]*schema.AnalyticsEvent(nil), s.analytics...)
}

type fakeCache struct {
	mu       sync.Mutex
	deleted  []string
	patterns []string
}

func (c *fakeCache) Del(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, key)
	return true
}

func (c *fakeCache) InvalidatePattern(_ context.Context, pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, pattern)
	return 0
}

func (c *fakeCache) snapshot() ([]string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...), append([]string(nil), c.patterns...)
}
