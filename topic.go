package fanoutqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
	"github.com/yudhasubki/fanoutqueue/pkg/metric"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrSubscriberExist    = errors.New("subscriber already exists")
)

// DeliveryError names the subscribers a notification could not be delivered to.
// Every other subscriber received its copy.
type DeliveryError struct {
	Topic       string
	Subscribers []string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s on topic %s failed: %v", strings.Join(e.Subscribers, ","), e.Topic, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type enqueuer interface {
	Enqueue(ctx context.Context, body string) (core.Message, error)
}

type subscription struct {
	subscriber core.Subscriber
	queue      *Queue
	target     enqueuer
}

type TopicOption struct {
	// DeliveryAttempts bounds the tries per subscriber for one notification.
	DeliveryAttempts int
	// DeliveryInterval is the first backoff interval between tries.
	DeliveryInterval time.Duration
	SweepInterval    time.Duration
}

// Topic broadcasts every published notification to the subscribers registered at
// publish time.
type Topic struct {
	Id        uuid.UUID
	Name      string
	ServerCtx context.Context
	Opt       TopicOption

	mtx           sync.RWMutex
	subscriptions map[string]*subscription
}

func newTopic(serverCtx context.Context, topic core.Topic, opt TopicOption) *Topic {
	if opt.DeliveryAttempts <= 0 {
		opt.DeliveryAttempts = 3
	}

	if opt.DeliveryInterval <= 0 {
		opt.DeliveryInterval = 100 * time.Millisecond
	}

	if opt.SweepInterval <= 0 {
		opt.SweepInterval = time.Second
	}

	return &Topic{
		Id:            topic.Id,
		Name:          topic.Name,
		ServerCtx:     serverCtx,
		Opt:           opt,
		subscriptions: make(map[string]*subscription),
	}
}

func (t *Topic) subscribe(subscriber core.Subscriber, queue *Queue) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if _, exist := t.subscriptions[subscriber.Name]; exist {
		return ErrSubscriberExist
	}

	t.subscriptions[subscriber.Name] = &subscription{
		subscriber: subscriber,
		queue:      queue,
		target:     queue,
	}

	if t.ServerCtx != nil {
		go queue.run(t.ServerCtx, t.Opt.SweepInterval)
		if queue.DeadLetter() != nil {
			go queue.DeadLetter().run(t.ServerCtx, t.Opt.SweepInterval)
		}
	}

	return nil
}

func (t *Topic) unsubscribe(name string) (*subscription, error) {
	t.mtx.Lock()
	defer t.mtx.Unlock()

	sub, exist := t.subscriptions[name]
	if !exist {
		return nil, ErrSubscriberNotFound
	}
	delete(t.subscriptions, name)

	return sub, nil
}

func (t *Topic) queue(name string) (*Queue, error) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	sub, exist := t.subscriptions[name]
	if !exist || sub.queue == nil {
		return nil, ErrSubscriberNotFound
	}

	return sub.queue, nil
}

func (t *Topic) snapshot() []*subscription {
	t.mtx.RLock()
	defer t.mtx.RUnlock()

	subs := make([]*subscription, 0, len(t.subscriptions))
	for _, sub := range t.subscriptions {
		subs = append(subs, sub)
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].subscriber.Name < subs[j].subscriber.Name
	})

	return subs
}

// publish delivers one copy of the notification to each current subscriber. The
// deliveries run independently; a failing subscriber is retried with backoff and
// never holds back the others.
func (t *Topic) publish(ctx context.Context, notification core.Notification) error {
	body, err := notification.Marshal()
	if err != nil {
		return err
	}

	var (
		wg     sync.WaitGroup
		mtx    sync.Mutex
		failed []string
		errs   []error
	)

	for _, sub := range t.snapshot() {
		wg.Add(1)
		go func(sub *subscription) {
			defer wg.Done()

			err := t.deliver(ctx, sub, body)
			if err == nil {
				return
			}

			metric.DeliveryFailed.WithLabelValues(t.Name, sub.subscriber.Name).Inc()
			slog.Error(
				"error delivering notification to the subscriber",
				logPrefixTopic, t.Name,
				logPrefixSubscriber, sub.subscriber.Name,
				logPrefixObjectKey, notification.Key,
				logPrefixErr, err,
			)

			mtx.Lock()
			failed = append(failed, sub.subscriber.Name)
			errs = append(errs, err)
			mtx.Unlock()
		}(sub)
	}
	wg.Wait()

	metric.NotificationPublished.WithLabelValues(t.Name).Inc()

	if len(failed) > 0 {
		sort.Strings(failed)
		return &DeliveryError{
			Topic:       t.Name,
			Subscribers: failed,
			Err:         errors.Join(errs...),
		}
	}

	return nil
}

func (t *Topic) deliver(ctx context.Context, sub *subscription, body string) error {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = t.Opt.DeliveryInterval

	policy := backoff.WithContext(
		backoff.WithMaxRetries(exponential, uint64(t.Opt.DeliveryAttempts-1)),
		ctx,
	)

	return backoff.Retry(func() error {
		_, err := sub.target.Enqueue(ctx, body)
		if errors.Is(err, ErrQueueClosed) {
			return backoff.Permanent(err)
		}

		return err
	}, policy)
}

func (t *Topic) status() []*subscription {
	return t.snapshot()
}

func (t *Topic) close() {
	for _, sub := range t.snapshot() {
		if sub.queue != nil {
			sub.queue.Close()
		}
	}
}

func (t *Topic) drop() error {
	var errs []error
	for _, sub := range t.snapshot() {
		if sub.queue == nil {
			continue
		}

		err := sub.queue.drop()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
