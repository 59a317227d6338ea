package schema

// QueueName is the name of a durable queue on the broker. The names are shared
// with existing producers and consumers and must not change.
type QueueName string

const (
	QueueOrderCreated       QueueName = "order.created"
	QueueOrderStatusUpdated QueueName = "order.status.updated"
	QueueProductUpdated     QueueName = "product.updated"
	QueueNotification       QueueName = "notification"
	QueueImageProcessing    QueueName = "image.processing" // declared, never consumed here
	QueueAnalytics          QueueName = "analytics.events"
)

// DefaultQueueMaxLength bounds every queue declared by the pipeline.
const DefaultQueueMaxLength = 10000

// Queues lists every queue the pipeline knows about.
var Queues = []QueueName{
	QueueOrderCreated,
	QueueOrderStatusUpdated,
	QueueProductUpdated,
	QueueNotification,
	QueueImageProcessing,
	QueueAnalytics,
}

func (q QueueName) String() string { return string(q) }
