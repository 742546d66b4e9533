package fanoutqueue

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yudhasubki/fanoutqueue/pkg/clock"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
	bqio "github.com/yudhasubki/fanoutqueue/pkg/io"
	"github.com/yudhasubki/fanoutqueue/pkg/metric"
	"github.com/yudhasubki/fanoutqueue/pkg/pqueue"
)

const (
	MaxBatchSize   = 10
	MaxReceiveWait = 20 * time.Second

	releaseReasonExplicit   = "released"
	releaseReasonVisibility = "visibility_timeout"
)

var (
	ErrInvalidBatchSize   = errors.New("batch size must be between 1 and 10")
	ErrInvalidReceiveWait = errors.New("receive wait must be between 0 and 20s")
	ErrQueueClosed        = errors.New("queue closed")
	ErrReceiptNotFound    = errors.New("receipt handle not found or expired")
)

type entry struct {
	message core.Message
	// timer is set while the message is delayed or in flight.
	timer *pqueue.Item[string]
}

// Queue is an at-least-once, competing-consumers buffer. A message is handed to at
// most one receiver while in flight and becomes visible again when it is released
// or its visibility timeout passes.
type Queue struct {
	Name string

	bucket     string
	opt        core.SubscriberOption
	clock      clock.Clock
	store      *store
	deadLetter *Queue

	mtx      sync.Mutex
	messages map[string]*entry
	visible  []string
	receipts map[string]string
	timers   *pqueue.PriorityQueue[string]
	ready    chan struct{}
	closed   bool
	cancel   context.CancelFunc
}

func newQueue(name, bucket string, opt core.SubscriberOption, clk clock.Clock, st *store, deadLetter *Queue) (*Queue, error) {
	err := opt.Validate()
	if err != nil {
		return nil, err
	}

	queue := &Queue{
		Name:       name,
		bucket:     bucket,
		opt:        opt,
		clock:      clk,
		store:      st,
		deadLetter: deadLetter,
		messages:   make(map[string]*entry),
		visible:    make([]string, 0),
		receipts:   make(map[string]string),
		timers:     pqueue.New[string](),
		ready:      make(chan struct{}),
		cancel:     func() {},
	}

	err = st.createBucket(bucket)
	if err != nil {
		return nil, err
	}

	err = queue.restore()
	if err != nil {
		return nil, err
	}

	return queue, nil
}

// newDeadLetterQueue keeps exhausted messages for the longest retention allowed.
func newDeadLetterQueue(name, bucket string, opt core.SubscriberOption, clk clock.Clock, st *store) (*Queue, error) {
	return newQueue(name+"-dead", bucket, core.SubscriberOption{
		VisibilityTimeout: opt.VisibilityTimeout,
		RetentionPeriod:   core.MaxRetentionPeriod,
	}, clk, st, nil)
}

func (q *Queue) restore() error {
	messages, err := q.store.load(q.bucket)
	if err != nil {
		return err
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].EnqueuedAt.Before(messages[j].EnqueuedAt)
	})

	for _, message := range messages {
		e := &entry{message: message}
		q.messages[message.Id] = e

		switch message.State {
		case core.MessageStateVisible:
			q.visible = append(q.visible, message.Id)
		case core.MessageStateInFlight:
			q.receipts[message.ReceiptHandle] = message.Id
			q.scheduleLocked(e, message.VisibleAt)
		case core.MessageStateDelayed:
			q.scheduleLocked(e, message.VisibleAt)
		}
	}

	if len(messages) > 0 {
		slog.Info(
			"queue restored",
			logPrefixSubscriber, q.Name,
			"total", len(messages),
		)
	}

	return nil
}

// run sweeps expired visibility timers and retention until ctx is done or the
// queue is closed.
func (q *Queue) run(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	q.mtx.Lock()
	if q.closed {
		q.mtx.Unlock()
		cancel()
		return
	}
	q.cancel = cancel
	q.mtx.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug(
				"queue sweeper entering shutdown status",
				logPrefixSubscriber, q.Name,
			)
			return
		case <-ticker.C:
			q.Sweep()
		}
	}
}

// Enqueue appends a new message holding body.
func (q *Queue) Enqueue(ctx context.Context, body string) (core.Message, error) {
	now := q.clock.Now()
	message := core.Message{
		Id:         uuid.NewString(),
		Body:       body,
		State:      core.MessageStateVisible,
		EnqueuedAt: now,
	}
	if q.opt.DeliveryDelay > 0 {
		message.State = core.MessageStateDelayed
		message.VisibleAt = now.Add(q.opt.DeliveryDelay)
	}

	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.closed {
		return core.Message{}, ErrQueueClosed
	}

	err := q.store.put(q.bucket, message)
	if err != nil {
		return core.Message{}, err
	}

	q.adoptLocked(message)
	metric.MessageEnqueued.WithLabelValues(q.Name).Inc()

	return message, nil
}

// Receive waits up to wait for at least one visible message and moves up to max of
// them in flight. An empty batch is returned when wait elapses.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) (core.Messages, error) {
	if max < 1 || max > MaxBatchSize {
		return nil, ErrInvalidBatchSize
	}

	if wait < 0 || wait > MaxReceiveWait {
		return nil, ErrInvalidReceiveWait
	}

	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		q.mtx.Lock()
		if q.closed {
			q.mtx.Unlock()
			return nil, ErrQueueClosed
		}

		now := q.clock.Now()
		q.fireTimersLocked(now)
		messages, err := q.takeLocked(now, max)
		ready := q.ready
		q.mtx.Unlock()

		if err != nil {
			return nil, err
		}

		if len(messages) > 0 || timeout == nil {
			return messages, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return core.Messages{}, nil
		case <-ready:
		}
	}
}

// Delete removes an in-flight message. A stale or unknown receipt handle is a no-op.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	e, ok := q.inFlightLocked(receiptHandle)
	if !ok {
		slog.Debug(
			"ignore delete of stale receipt handle",
			logPrefixSubscriber, q.Name,
		)
		return nil
	}

	err := q.store.delete(q.bucket, e.message.Id)
	if err != nil {
		return err
	}

	q.forgetLocked(e)
	metric.MessageDeleted.WithLabelValues(q.Name).Inc()

	return nil
}

// Release makes an in-flight message visible again immediately. A stale or unknown
// receipt handle is a no-op.
func (q *Queue) Release(ctx context.Context, receiptHandle string) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	e, ok := q.inFlightLocked(receiptHandle)
	if !ok {
		return nil
	}

	return q.requeueLocked(e, q.clock.Now(), releaseReasonExplicit)
}

// ExtendVisibility restarts the visibility timer of an in-flight message at timeout
// from now.
func (q *Queue) ExtendVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error {
	if timeout < 0 || timeout > core.MaxVisibilityTimeout {
		return core.ErrInvalidVisibilityTimeout
	}

	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	e, ok := q.inFlightLocked(receiptHandle)
	if !ok {
		return ErrReceiptNotFound
	}

	message := e.message
	message.VisibleAt = q.clock.Now().Add(timeout)

	err := q.store.put(q.bucket, message)
	if err != nil {
		return err
	}

	e.message = message
	q.timers.Reschedule(e.timer, message.VisibleAt)

	return nil
}

// Sweep applies every transition due at the current time: expired visibility
// timeouts, elapsed delivery delays and the retention boundary.
func (q *Queue) Sweep() {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.closed {
		return
	}

	now := q.clock.Now()
	q.fireTimersLocked(now)

	for _, e := range q.messages {
		if e.message.State == core.MessageStateInFlight {
			continue
		}

		if e.message.Expired(now, q.opt.RetentionPeriod) {
			q.discardLocked(e)
		}
	}
}

func (q *Queue) Status() bqio.SubscriberStatus {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	status := bqio.SubscriberStatus{
		Name: q.Name,
	}
	for _, e := range q.messages {
		switch e.message.State {
		case core.MessageStateVisible:
			status.Visible++
		case core.MessageStateInFlight:
			status.InFlight++
		case core.MessageStateDelayed:
			status.Delayed++
		}
	}

	if q.deadLetter != nil {
		status.DeadLetter = q.deadLetter.Len()
	}

	return status
}

func (q *Queue) Len() int {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return len(q.messages)
}

// DeadLetter returns the dead-letter queue or nil when dead-lettering is disabled.
func (q *Queue) DeadLetter() *Queue {
	return q.deadLetter
}

func (q *Queue) Close() {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	q.closeLocked()
	if q.deadLetter != nil {
		q.deadLetter.Close()
	}
}

// drop closes the queue and deletes every stored message.
func (q *Queue) drop() error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	ids := make([]string, 0, len(q.messages))
	for id := range q.messages {
		ids = append(ids, id)
	}

	err := q.store.delete(q.bucket, ids...)
	if err != nil {
		return err
	}

	q.messages = make(map[string]*entry)
	q.receipts = make(map[string]string)
	q.visible = q.visible[:0]
	q.timers = pqueue.New[string]()
	q.closeLocked()

	if q.deadLetter != nil {
		return q.deadLetter.drop()
	}

	return nil
}

func (q *Queue) closeLocked() {
	if q.closed {
		return
	}

	q.closed = true
	q.cancel()
	q.signalLocked()
}

func (q *Queue) takeLocked(now time.Time, max int) (core.Messages, error) {
	var (
		taken   = make([]*entry, 0, max)
		updated = make(core.Messages, 0, max)
	)

	for len(q.visible) > 0 && len(updated) < max {
		id := q.visible[0]
		q.visible = q.visible[1:]

		e, ok := q.messages[id]
		if !ok || e.message.State != core.MessageStateVisible {
			continue
		}

		if e.message.Expired(now, q.opt.RetentionPeriod) {
			q.discardLocked(e)
			continue
		}

		message := e.message
		message.State = core.MessageStateInFlight
		message.ReceiveCount++
		message.ReceiptHandle = uuid.NewString()
		message.VisibleAt = now.Add(q.opt.VisibilityTimeout)
		if message.FirstReceivedAt.IsZero() {
			message.FirstReceivedAt = now
		}

		taken = append(taken, e)
		updated = append(updated, message)
	}

	err := q.store.put(q.bucket, updated...)
	if err != nil {
		ids := make([]string, 0, len(taken))
		for _, e := range taken {
			ids = append(ids, e.message.Id)
		}
		q.visible = append(ids, q.visible...)

		return nil, err
	}

	for i, e := range taken {
		e.message = updated[i]
		q.receipts[e.message.ReceiptHandle] = e.message.Id
		q.scheduleLocked(e, e.message.VisibleAt)

		slog.Debug(
			"message in flight",
			logPrefixSubscriber, q.Name,
			logPrefixMessageId, e.message.Id,
			logPrefixReceiveCount, e.message.ReceiveCount,
		)
	}
	metric.MessageReceived.WithLabelValues(q.Name).Add(float64(len(updated)))

	return updated, nil
}

func (q *Queue) fireTimersLocked(now time.Time) {
	for _, item := range q.timers.PopExpired(now) {
		e, ok := q.messages[item.Value]
		if !ok || e.timer != item {
			continue
		}
		e.timer = nil

		switch e.message.State {
		case core.MessageStateDelayed:
			message := e.message
			message.State = core.MessageStateVisible
			message.VisibleAt = time.Time{}

			err := q.store.put(q.bucket, message)
			if err != nil {
				slog.Error(
					"error persisting delayed message visibility",
					logPrefixSubscriber, q.Name,
					logPrefixMessageId, message.Id,
					logPrefixErr, err,
				)
			}

			e.message = message
			q.visible = append(q.visible, message.Id)
			q.signalLocked()
		case core.MessageStateInFlight:
			err := q.requeueLocked(e, now, releaseReasonVisibility)
			if err != nil {
				slog.Error(
					"error releasing message after visibility timeout",
					logPrefixSubscriber, q.Name,
					logPrefixMessageId, e.message.Id,
					logPrefixErr, err,
				)

				// still in flight without a timer; retry on the next sweep
				if current, ok := q.messages[e.message.Id]; ok && current == e && e.timer == nil && e.message.State == core.MessageStateInFlight {
					q.scheduleLocked(e, now)
				}
			}
		}
	}
}

// requeueLocked moves an in-flight message back to visible, or out of the queue when
// it outlived retention or exhausted its receive count.
func (q *Queue) requeueLocked(e *entry, now time.Time, reason string) error {
	if e.message.Expired(now, q.opt.RetentionPeriod) {
		return q.discardLocked(e)
	}

	if q.deadLetter != nil && q.opt.DeadLetter() && e.message.ReceiveCount >= q.opt.MaxReceiveCount {
		return q.deadLetterLocked(e, now)
	}

	message := e.message
	message.State = core.MessageStateVisible
	message.ReceiptHandle = ""
	message.VisibleAt = time.Time{}

	err := q.store.put(q.bucket, message)
	if err != nil {
		if reason != releaseReasonVisibility {
			return err
		}
		// the stored in-flight record is already past its deadline, so a restart
		// restores the same visible state
	}

	q.clearInFlightLocked(e)
	e.message = message
	q.visible = append(q.visible, message.Id)
	q.signalLocked()

	metric.MessageReleased.WithLabelValues(q.Name, reason).Inc()
	slog.Debug(
		"message visible again",
		logPrefixSubscriber, q.Name,
		logPrefixMessageId, message.Id,
		logPrefixMessageStatus, reason,
	)

	return err
}

func (q *Queue) deadLetterLocked(e *entry, now time.Time) error {
	message := e.message
	message.State = core.MessageStateVisible
	message.ReceiptHandle = ""
	message.VisibleAt = time.Time{}
	message.EnqueuedAt = now

	err := q.store.move(q.bucket, q.deadLetter.bucket, message)
	if err != nil {
		return err
	}

	q.forgetLocked(e)
	q.deadLetter.adopt(message)

	metric.MessageDeadLettered.WithLabelValues(q.Name).Inc()
	slog.Warn(
		"message exhausted its receive count, moved to dead-letter queue",
		logPrefixSubscriber, q.Name,
		logPrefixMessageId, message.Id,
		logPrefixReceiveCount, message.ReceiveCount,
	)

	return nil
}

func (q *Queue) discardLocked(e *entry) error {
	err := q.store.delete(q.bucket, e.message.Id)
	if err != nil {
		slog.Error(
			"error deleting expired message",
			logPrefixSubscriber, q.Name,
			logPrefixMessageId, e.message.Id,
			logPrefixErr, err,
		)
	}

	q.forgetLocked(e)

	metric.MessageExpired.WithLabelValues(q.Name).Inc()
	slog.Warn(
		"message discarded after retention period",
		logPrefixSubscriber, q.Name,
		logPrefixMessageId, e.message.Id,
	)

	return err
}

func (q *Queue) adopt(message core.Message) {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	q.adoptLocked(message)
}

func (q *Queue) adoptLocked(message core.Message) {
	e := &entry{message: message}
	q.messages[message.Id] = e

	if message.State == core.MessageStateDelayed {
		q.scheduleLocked(e, message.VisibleAt)
		return
	}

	q.visible = append(q.visible, message.Id)
	q.signalLocked()
}

func (q *Queue) inFlightLocked(receiptHandle string) (*entry, bool) {
	id, ok := q.receipts[receiptHandle]
	if !ok {
		return nil, false
	}

	e, ok := q.messages[id]
	if !ok || e.message.State != core.MessageStateInFlight || e.message.ReceiptHandle != receiptHandle {
		delete(q.receipts, receiptHandle)
		return nil, false
	}

	return e, true
}

func (q *Queue) scheduleLocked(e *entry, deadline time.Time) {
	e.timer = &pqueue.Item[string]{
		Id:       e.message.Id,
		Value:    e.message.Id,
		Deadline: deadline,
	}
	q.timers.Push(e.timer)
}

func (q *Queue) clearInFlightLocked(e *entry) {
	if e.timer != nil {
		q.timers.Remove(e.timer)
		e.timer = nil
	}

	if e.message.ReceiptHandle != "" {
		delete(q.receipts, e.message.ReceiptHandle)
	}
}

func (q *Queue) forgetLocked(e *entry) {
	q.clearInFlightLocked(e)
	delete(q.messages, e.message.Id)
}

// signalLocked wakes every receiver waiting for a visible message.
func (q *Queue) signalLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}
