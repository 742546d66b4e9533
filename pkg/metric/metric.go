package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	LabelTopic      = "topic"
	LabelSubscriber = "subscriber"
)

var (
	NotificationPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_notification_published_total",
		Help: "The total number of notifications accepted by a topic",
	}, []string{LabelTopic})

	NotificationFiltered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_notification_filtered_total",
		Help: "The total number of object events dropped by the suffix filter",
	}, []string{"source"})

	DeliveryFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_delivery_failed_total",
		Help: "The total number of topic deliveries that exhausted their retries",
	}, []string{LabelTopic, LabelSubscriber})

	MessageEnqueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_message_enqueued_total",
		Help: "The total number of messages appended to a queue",
	}, []string{LabelSubscriber})

	MessageReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_message_received_total",
		Help: "The total number of messages moved in flight",
	}, []string{LabelSubscriber})

	MessageDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_message_deleted_total",
		Help: "The total number of messages acknowledged",
	}, []string{LabelSubscriber})

	MessageReleased = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_message_released_total",
		Help: "The total number of messages made visible again, explicitly or on visibility expiry",
	}, []string{LabelSubscriber, "reason"})

	MessageExpired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_message_expired_total",
		Help: "The total number of messages discarded after the retention period",
	}, []string{LabelSubscriber})

	MessageDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_message_dead_lettered_total",
		Help: "The total number of messages moved to a dead-letter queue",
	}, []string{LabelSubscriber})

	BatchProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanoutqueue_batch_item_total",
		Help: "The total number of batch items processed by a consumer",
	}, []string{"result"})
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		NotificationPublished,
		NotificationFiltered,
		DeliveryFailed,
		MessageEnqueued,
		MessageReceived,
		MessageDeleted,
		MessageReleased,
		MessageExpired,
		MessageDeadLettered,
		BatchProcessed,
	}
}
