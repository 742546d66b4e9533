package fanoutqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
	"github.com/yudhasubki/fanoutqueue/pkg/event"
	bqio "github.com/yudhasubki/fanoutqueue/pkg/io"
	"github.com/yudhasubki/fanoutqueue/pkg/metric"
	"golang.org/x/sync/errgroup"
)

const (
	MaxBatchingWindow = 300 * time.Second

	batchResultSuccess = "success"
	batchResultFailure = "failure"
	batchResultTimeout = "timeout"
)

var (
	ErrInvalidBatchingWindow = errors.New("max batching window must be between 0 and 300s")
	ErrInvalidConcurrency    = errors.New("concurrency must be at least 1")
)

// Processor handles one notification. A nil error marks it processed.
type Processor interface {
	Process(ctx context.Context, notification core.Notification) error
}

type ProcessorFunc func(ctx context.Context, notification core.Notification) error

func (f ProcessorFunc) Process(ctx context.Context, notification core.Notification) error {
	return f(ctx, notification)
}

// FailurePolicy decides what happens to a failed item when a batch is committed.
type FailurePolicy int

const (
	// FailureVisibilityTimeout leaves failed items in flight so they are redelivered
	// once their visibility timeout passes.
	FailureVisibilityTimeout FailurePolicy = iota
	// FailureRelease makes failed items visible again immediately.
	FailureRelease
)

// Receiver is the queue side of a consumer. *Queue implements it.
type Receiver interface {
	Receive(ctx context.Context, max int, wait time.Duration) (core.Messages, error)
	Delete(ctx context.Context, receiptHandle string) error
	Release(ctx context.Context, receiptHandle string) error
}

type ItemResult struct {
	MessageId     string
	ReceiptHandle string
	Err           error
}

func (r ItemResult) Success() bool {
	return r.Err == nil
}

type ConsumerOption struct {
	BatchSize         int
	MaxBatchingWindow time.Duration
	// Concurrency is the number of batches processed at the same time.
	Concurrency int
	// ItemConcurrency is the number of items of one batch processed at the same time.
	ItemConcurrency   int
	InvocationTimeout time.Duration
	PollWait          time.Duration
	OnFailure         FailurePolicy
}

func DefaultConsumerOption() ConsumerOption {
	return ConsumerOption{
		BatchSize:         MaxBatchSize,
		MaxBatchingWindow: 5 * time.Second,
		Concurrency:       1,
		ItemConcurrency:   MaxBatchSize,
		InvocationTimeout: 300 * time.Second,
		PollWait:          MaxReceiveWait,
		OnFailure:         FailureVisibilityTimeout,
	}
}

func (o ConsumerOption) Validate() error {
	if o.BatchSize < 1 || o.BatchSize > MaxBatchSize {
		return ErrInvalidBatchSize
	}

	if o.MaxBatchingWindow < 0 || o.MaxBatchingWindow > MaxBatchingWindow {
		return ErrInvalidBatchingWindow
	}

	if o.Concurrency < 1 || o.ItemConcurrency < 1 {
		return ErrInvalidConcurrency
	}

	if o.PollWait < 0 || o.PollWait > MaxReceiveWait {
		return ErrInvalidReceiveWait
	}

	return nil
}

// Consumer drains a Receiver in batches and acknowledges every item that was
// processed, leaving the failed ones to be redelivered.
type Consumer struct {
	Name      string
	receiver  Receiver
	processor Processor
	opt       ConsumerOption
}

func NewConsumer(name string, receiver Receiver, processor Processor, opt ConsumerOption) (*Consumer, error) {
	if opt.InvocationTimeout <= 0 {
		opt.InvocationTimeout = DefaultConsumerOption().InvocationTimeout
	}

	err := opt.Validate()
	if err != nil {
		return nil, err
	}

	return &Consumer{
		Name:      name,
		receiver:  receiver,
		processor: processor,
		opt:       opt,
	}, nil
}

// Run starts the configured number of invocation loops and blocks until ctx is done
// or the receiver is closed.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opt.Concurrency; i++ {
		g.Go(func() error {
			return c.loop(ctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, ErrQueueClosed) {
		return nil
	}

	return err
}

func (c *Consumer) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		batch, err := c.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		if len(batch) == 0 {
			continue
		}

		c.Invoke(ctx, batch)
	}

	slog.Debug(
		"consumer entering shutdown status",
		logPrefixSubscriber, c.Name,
	)

	return nil
}

func (c *Consumer) receive(ctx context.Context) (core.Messages, error) {
	var batch core.Messages

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		messages, err := c.collect(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			return err
		}
		batch = messages

		return nil
	}, backoff.WithContext(policy, ctx), func(err error, next time.Duration) {
		slog.Error(
			"error receiving batch, retrying",
			logPrefixSubscriber, c.Name,
			"retry_in", next,
			logPrefixErr, err,
		)
	})

	return batch, err
}

// collect waits for a first message, then keeps receiving until the batch is full
// or the batching window has passed.
func (c *Consumer) collect(ctx context.Context) (core.Messages, error) {
	batch, err := c.receiver.Receive(ctx, c.opt.BatchSize, c.opt.PollWait)
	if err != nil || len(batch) == 0 {
		return batch, err
	}

	deadline := time.Now().Add(c.opt.MaxBatchingWindow)
	for len(batch) < c.opt.BatchSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		if remaining > MaxReceiveWait {
			remaining = MaxReceiveWait
		}

		messages, err := c.receiver.Receive(ctx, c.opt.BatchSize-len(batch), remaining)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				break
			}

			return batch, err
		}
		batch = append(batch, messages...)
	}

	return batch, nil
}

// Invoke processes one batch within the invocation timeout and commits the outcome.
// A timed-out invocation commits nothing; its messages return after their visibility
// timeout.
func (c *Consumer) Invoke(ctx context.Context, batch core.Messages) {
	invocationCtx, cancel := context.WithTimeout(ctx, c.opt.InvocationTimeout)
	defer cancel()

	done := make(chan []ItemResult, 1)
	go func() {
		done <- c.ProcessBatch(invocationCtx, batch)
	}()

	var results []ItemResult
	select {
	case results = <-done:
	case <-invocationCtx.Done():
		metric.BatchProcessed.WithLabelValues(batchResultTimeout).Add(float64(len(batch)))
		slog.Warn(
			"batch invocation did not finish, leaving messages to the visibility timeout",
			logPrefixSubscriber, c.Name,
			logPrefixBatchSize, len(batch),
			logPrefixErr, invocationCtx.Err(),
		)
		return
	}

	response := FailedItems(results)
	err := Commit(context.WithoutCancel(ctx), c.receiver, batch, response, c.opt.OnFailure)
	if err != nil {
		slog.Error(
			"error committing batch",
			logPrefixSubscriber, c.Name,
			logPrefixBatchSize, len(batch),
			logPrefixErr, err,
		)
	}
}

// ProcessBatch runs the processor on every message independently. A panic or error
// fails only its own item.
func (c *Consumer) ProcessBatch(ctx context.Context, batch core.Messages) []ItemResult {
	results := make([]ItemResult, len(batch))

	var g errgroup.Group
	g.SetLimit(c.opt.ItemConcurrency)
	for i, message := range batch {
		i, message := i, message
		g.Go(func() error {
			results[i] = ItemResult{
				MessageId:     message.Id,
				ReceiptHandle: message.ReceiptHandle,
				Err:           c.processMessage(ctx, message),
			}

			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Consumer) processMessage(ctx context.Context, message core.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()

	notifications, err := event.Decode(message.Body)
	if err != nil {
		return err
	}

	var errs []error
	for _, notification := range notifications {
		err := c.processor.Process(ctx, notification)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notification.Key, err))
		}
	}

	return errors.Join(errs...)
}

// FailedItems lists the message id of every failed result.
func FailedItems(results []ItemResult) bqio.BatchResponse {
	failed := make([]string, 0)
	for _, result := range results {
		if !result.Success() {
			failed = append(failed, result.MessageId)
		}
	}

	return bqio.NewBatchResponse(failed)
}

// Commit deletes every message of batch not listed in response. The listed ones are
// handled by policy: left to their visibility timeout or released. An identifier that
// is not part of the batch fails the whole batch.
func Commit(ctx context.Context, receiver Receiver, batch core.Messages, response bqio.BatchResponse, policy FailurePolicy) error {
	var (
		inBatch = make(map[string]struct{}, len(batch))
		failed  = make(map[string]struct{}, len(response.BatchItemFailures))
	)
	for _, message := range batch {
		inBatch[message.Id] = struct{}{}
	}

	for _, id := range response.Identifiers() {
		if _, ok := inBatch[id]; !ok {
			slog.Warn(
				"failure identifier is not part of the batch, failing the whole batch",
				logPrefixMessageId, id,
				logPrefixBatchSize, len(batch),
			)
			failed = inBatch
			break
		}
		failed[id] = struct{}{}
	}

	var errs []error
	for _, message := range batch {
		if _, ok := failed[message.Id]; ok {
			if policy == FailureRelease {
				err := receiver.Release(ctx, message.ReceiptHandle)
				if err != nil {
					errs = append(errs, err)
				}
			}
			metric.BatchProcessed.WithLabelValues(batchResultFailure).Inc()
			continue
		}

		err := receiver.Delete(ctx, message.ReceiptHandle)
		if err != nil {
			errs = append(errs, err)
		}
		metric.BatchProcessed.WithLabelValues(batchResultSuccess).Inc()
	}

	if len(failed) > 0 {
		slog.Info(
			"batch committed with failures",
			logPrefixBatchSize, len(batch),
			logPrefixFailed, len(failed),
		)
	}

	return errors.Join(errs...)
}
