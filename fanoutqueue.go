package fanoutqueue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yudhasubki/eventpool"
	"github.com/yudhasubki/fanoutqueue/pkg/clock"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
	bqio "github.com/yudhasubki/fanoutqueue/pkg/io"
	"github.com/yudhasubki/fanoutqueue/pkg/kv"
	"github.com/yudhasubki/fanoutqueue/pkg/metric"
	"gopkg.in/guregu/null.v4"
)

var (
	ErrTopicNotFound         = errors.New("topic not found")
	ErrTopicExist            = errors.New("topic already exists")
	ErrEmptyTopicName        = errors.New("topic name is empty")
	ErrDeadLetterNotEnabled  = errors.New("dead-letter queue not enabled for subscriber")
	ErrDuplicateSubscriber   = errors.New("duplicate subscriber name in request")
	ErrNotRunning            = errors.New("fanoutqueue is not running")
	ErrAlreadyRunning        = errors.New("fanoutqueue is already running")
	errPublishRequestInvalid = errors.New("invalid publish request")
)

func init() {
	for _, collector := range metric.Collectors() {
		prometheus.Register(collector)
	}
}

type Option struct {
	// PublishWorkers is the number of workers draining asynchronous publishes.
	PublishWorkers int
	// SweepInterval is how often each queue applies due visibility and retention
	// transitions in the background.
	SweepInterval    time.Duration
	DeliveryAttempts int
	DeliveryInterval time.Duration
	Clock            clock.Clock
}

// FanoutQueue owns every topic and the durable queue of each subscriber.
type FanoutQueue struct {
	mtx       sync.RWMutex
	serverCtx context.Context
	topics    map[string]*Topic
	db        *db
	store     *store
	pool      *eventpool.Eventpool
	Opt       Option
}

type publishRequest struct {
	Topic        string            `json:"topic"`
	Notification core.Notification `json:"notification"`
}

func New(db Driver, kv *kv.KV, opt Option) *FanoutQueue {
	if opt.Clock == nil {
		opt.Clock = clock.RealClock{}
	}

	if opt.PublishWorkers <= 0 {
		opt.PublishWorkers = 1
	}

	fanoutqueue := &FanoutQueue{
		db:     newDb(db),
		store:  newStore(kv),
		topics: make(map[string]*Topic),
		Opt:    opt,
	}

	pool := eventpool.New()
	pool.Submit(eventpool.EventpoolListener{
		Name:       "publish_notification",
		Subscriber: fanoutqueue.publishNotification,
		Opts: []eventpool.SubscriberConfigFunc{
			eventpool.BufferSize(50000),
			eventpool.MaxWorker(opt.PublishWorkers),
			eventpool.MaxRetry(0),
		},
	})
	pool.Run()
	fanoutqueue.pool = pool

	return fanoutqueue
}

// Run restores every live topic and subscriber queue and starts their sweepers. It
// must be called once, before any topic or subscriber is created.
func (q *FanoutQueue) Run(ctx context.Context) error {
	if q.running() {
		return ErrAlreadyRunning
	}

	topics, err := q.db.getTopics(ctx, core.FilterTopic{})
	if err != nil {
		return err
	}

	subscribers := make(map[uuid.UUID]core.Subscribers)
	if len(topics) > 0 {
		all, err := q.db.getSubscribers(ctx, core.FilterSubscriber{
			TopicId: topics.Ids(),
		})
		if err != nil {
			return err
		}
		subscribers = all.MapByTopic()
	}

	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.serverCtx != nil {
		return ErrAlreadyRunning
	}

	q.serverCtx = ctx
	for _, topic := range topics {
		t, err := q.newTopic(topic, subscribers[topic.Id])
		if err != nil {
			return err
		}
		q.topics[topic.Name] = t
	}

	slog.Info(
		"fanoutqueue restored topics",
		"total", len(topics),
	)

	return nil
}

func (q *FanoutQueue) GetTopics(ctx context.Context, filter core.FilterTopic) (core.Topics, error) {
	return q.db.getTopics(ctx, filter)
}

// CreateTopic registers a topic together with its initial subscribers.
func (q *FanoutQueue) CreateTopic(ctx context.Context, topic core.Topic, subscribers core.Subscribers) error {
	if topic.Name == "" {
		return ErrEmptyTopicName
	}

	err := uniqueSubscribers(subscribers)
	if err != nil {
		return err
	}

	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.serverCtx == nil {
		return ErrNotRunning
	}

	if _, exist := q.topics[topic.Name]; exist {
		return ErrTopicExist
	}

	err = q.db.tx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		err := q.db.createTxTopic(ctx, tx, topic)
		if err != nil {
			return err
		}

		return q.db.createTxSubscribers(ctx, tx, subscribers)
	})
	if err != nil {
		slog.Error(
			"[CreateTopic] error create tx topic",
			logPrefixTopic, topic.Name,
			logPrefixErr, err,
		)
		return err
	}

	t, err := q.newTopic(topic, subscribers)
	if err != nil {
		return err
	}
	q.topics[topic.Name] = t

	return nil
}

// DeleteTopic soft deletes the topic and its subscribers and drops their queues.
func (q *FanoutQueue) DeleteTopic(ctx context.Context, name string) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	t, exist := q.topics[name]
	if !exist {
		return ErrTopicNotFound
	}

	err := q.db.tx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return q.db.deleteTxTopic(ctx, tx, core.Topic{
			Id:        t.Id,
			DeletedAt: null.StringFrom(q.Opt.Clock.Now().UTC().Format(time.RFC3339)),
		})
	})
	if err != nil {
		return err
	}
	delete(q.topics, name)

	return t.drop()
}

func (q *FanoutQueue) AddSubscriber(ctx context.Context, topic string, subscribers core.Subscribers) error {
	if !q.running() {
		return ErrNotRunning
	}

	t, err := q.getTopic(topic)
	if err != nil {
		return err
	}

	err = uniqueSubscribers(subscribers)
	if err != nil {
		return err
	}

	for i := range subscribers {
		subscribers[i].TopicId = t.Id
		subscribers[i].TopicName = t.Name
		if _, err := t.queue(subscribers[i].Name); err == nil {
			return ErrSubscriberExist
		}
	}

	err = q.db.tx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return q.db.createTxSubscribers(ctx, tx, subscribers)
	})
	if err != nil {
		return err
	}

	for _, subscriber := range subscribers {
		queue, err := q.newSubscriberQueue(subscriber)
		if err != nil {
			return err
		}

		err = t.subscribe(subscriber, queue)
		if err != nil {
			queue.Close()
			return err
		}
	}

	return nil
}

func (q *FanoutQueue) DeleteSubscriber(ctx context.Context, topic, subscriber string) error {
	t, err := q.getTopic(topic)
	if err != nil {
		return err
	}

	sub, err := t.unsubscribe(subscriber)
	if err != nil {
		return err
	}

	deleted := sub.subscriber
	deleted.TopicId = t.Id
	deleted.DeletedAt = null.StringFrom(q.Opt.Clock.Now().UTC().Format(time.RFC3339))

	err = q.db.tx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		return q.db.deleteTxSubscribers(ctx, tx, deleted)
	})
	if err != nil {
		return err
	}

	return sub.queue.drop()
}

// Publish fans the notification out to every subscriber of the topic and waits for
// the deliveries. A *DeliveryError names the subscribers that did not get a copy.
func (q *FanoutQueue) Publish(ctx context.Context, topic string, notification core.Notification) error {
	err := notification.Validate()
	if err != nil {
		return err
	}

	t, err := q.getTopic(topic)
	if err != nil {
		return err
	}

	return t.publish(ctx, notification)
}

// PublishAsync hands the notification to the publish pool and returns once it is
// accepted.
func (q *FanoutQueue) PublishAsync(topic string, notification core.Notification) error {
	err := notification.Validate()
	if err != nil {
		return err
	}

	_, err = q.getTopic(topic)
	if err != nil {
		return err
	}

	q.pool.Publish(eventpool.SendJson(publishRequest{
		Topic:        topic,
		Notification: notification,
	}))

	return nil
}

func (q *FanoutQueue) Receive(ctx context.Context, topic, subscriber string, max int, wait time.Duration) (core.Messages, error) {
	queue, err := q.Subscription(topic, subscriber)
	if err != nil {
		return nil, err
	}

	return queue.Receive(ctx, max, wait)
}

func (q *FanoutQueue) Delete(ctx context.Context, topic, subscriber, receiptHandle string) error {
	queue, err := q.Subscription(topic, subscriber)
	if err != nil {
		return err
	}

	return queue.Delete(ctx, receiptHandle)
}

func (q *FanoutQueue) Release(ctx context.Context, topic, subscriber, receiptHandle string) error {
	queue, err := q.Subscription(topic, subscriber)
	if err != nil {
		return err
	}

	return queue.Release(ctx, receiptHandle)
}

func (q *FanoutQueue) ExtendVisibility(ctx context.Context, topic, subscriber, receiptHandle string, timeout time.Duration) error {
	queue, err := q.Subscription(topic, subscriber)
	if err != nil {
		return err
	}

	return queue.ExtendVisibility(ctx, receiptHandle, timeout)
}

func (q *FanoutQueue) ReceiveDeadLetter(ctx context.Context, topic, subscriber string, max int, wait time.Duration) (core.Messages, error) {
	queue, err := q.deadLetter(topic, subscriber)
	if err != nil {
		return nil, err
	}

	return queue.Receive(ctx, max, wait)
}

func (q *FanoutQueue) DeleteDeadLetter(ctx context.Context, topic, subscriber, receiptHandle string) error {
	queue, err := q.deadLetter(topic, subscriber)
	if err != nil {
		return err
	}

	return queue.Delete(ctx, receiptHandle)
}

func (q *FanoutQueue) GetSubscribersStatus(ctx context.Context, topic string) (bqio.SubscriberStatuses, error) {
	t, err := q.getTopic(topic)
	if err != nil {
		return nil, err
	}

	statuses := make(bqio.SubscriberStatuses, 0)
	for _, sub := range t.status() {
		statuses = append(statuses, sub.queue.Status())
	}

	return statuses, nil
}

// Subscription returns the durable queue of a subscriber.
func (q *FanoutQueue) Subscription(topic, subscriber string) (*Queue, error) {
	t, err := q.getTopic(topic)
	if err != nil {
		return nil, err
	}

	return t.queue(subscriber)
}

func (q *FanoutQueue) Close() {
	q.pool.Close()

	q.mtx.Lock()
	defer q.mtx.Unlock()

	for _, t := range q.topics {
		t.close()
	}
}

func (q *FanoutQueue) deadLetter(topic, subscriber string) (*Queue, error) {
	queue, err := q.Subscription(topic, subscriber)
	if err != nil {
		return nil, err
	}

	if queue.DeadLetter() == nil {
		return nil, ErrDeadLetterNotEnabled
	}

	return queue.DeadLetter(), nil
}

func (q *FanoutQueue) running() bool {
	q.mtx.RLock()
	defer q.mtx.RUnlock()

	return q.serverCtx != nil
}

func (q *FanoutQueue) getTopic(name string) (*Topic, error) {
	q.mtx.RLock()
	defer q.mtx.RUnlock()

	t, exist := q.topics[name]
	if !exist {
		return nil, ErrTopicNotFound
	}

	return t, nil
}

func (q *FanoutQueue) newTopic(topic core.Topic, subscribers core.Subscribers) (*Topic, error) {
	t := newTopic(q.serverCtx, topic, TopicOption{
		DeliveryAttempts: q.Opt.DeliveryAttempts,
		DeliveryInterval: q.Opt.DeliveryInterval,
		SweepInterval:    q.Opt.SweepInterval,
	})

	for _, subscriber := range subscribers {
		subscriber.TopicId = topic.Id
		subscriber.TopicName = topic.Name

		queue, err := q.newSubscriberQueue(subscriber)
		if err != nil {
			t.close()
			return nil, err
		}

		err = t.subscribe(subscriber, queue)
		if err != nil {
			queue.Close()
			t.close()
			return nil, err
		}
	}

	return t, nil
}

func (q *FanoutQueue) newSubscriberQueue(subscriber core.Subscriber) (*Queue, error) {
	opt, err := subscriber.Options()
	if err != nil {
		return nil, err
	}

	var deadLetter *Queue
	if opt.DeadLetter() {
		deadLetter, err = newDeadLetterQueue(subscriber.Name, subscriber.DeadLetterBucket(), opt, q.Opt.Clock, q.store)
		if err != nil {
			return nil, err
		}
	}

	return newQueue(subscriber.Name, subscriber.Bucket(), opt, q.Opt.Clock, q.store, deadLetter)
}

func (q *FanoutQueue) publishNotification(name string, message io.Reader) error {
	var request publishRequest

	err := json.NewDecoder(message).Decode(&request)
	if err != nil {
		return err
	}

	if request.Topic == "" {
		return errPublishRequestInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = q.Publish(ctx, request.Topic, request.Notification)
	if err != nil {
		slog.Error(
			"[PublishAsync] error publishing notification",
			logPrefixTopic, request.Topic,
			logPrefixObjectKey, request.Notification.Key,
			logPrefixErr, err,
		)
		return err
	}

	return nil
}

func uniqueSubscribers(subscribers core.Subscribers) error {
	names := make([]string, 0, len(subscribers))
	for _, subscriber := range subscribers {
		names = append(names, subscriber.Name)
	}
	sort.Strings(names)

	for i := 1; i < len(names); i++ {
		if names[i] == names[i-1] {
			return ErrDuplicateSubscriber
		}
	}

	return nil
}
