package fanoutqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yudhasubki/fanoutqueue/pkg/clock"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
	"github.com/yudhasubki/fanoutqueue/pkg/kv"
)

var queueTestStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store {
	db, err := kv.New(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return newStore(db)
}

func runQueueTest(t *testing.T, opt core.SubscriberOption, test func(q *Queue, clk *clock.MockClock)) {
	var (
		st  = newTestStore(t)
		clk = clock.NewMock(queueTestStart)
	)

	var deadLetter *Queue
	if opt.DeadLetter() {
		var err error
		deadLetter, err = newDeadLetterQueue("test", "bucket:dead", opt, clk, st)
		require.NoError(t, err)
	}

	q, err := newQueue("test", "bucket", opt, clk, st, deadLetter)
	require.NoError(t, err)
	t.Cleanup(q.Close)

	test(q, clk)
}

func testOption(visibility time.Duration) core.SubscriberOption {
	opt := core.DefaultSubscriberOption()
	opt.VisibilityTimeout = visibility
	return opt
}

func testEnqueue(t *testing.T, q *Queue, bodies ...string) core.Messages {
	messages := make(core.Messages, 0, len(bodies))
	for _, body := range bodies {
		message, err := q.Enqueue(context.Background(), body)
		require.NoError(t, err)
		messages = append(messages, message)
	}

	return messages
}

func testReceive(t *testing.T, q *Queue, max int) core.Messages {
	messages, err := q.Receive(context.Background(), max, 0)
	require.NoError(t, err)
	return messages
}

func TestQueueVisibilityTimeout(t *testing.T) {
	runQueueTest(t, testOption(30*time.Second), func(q *Queue, clk *clock.MockClock) {
		enqueued := testEnqueue(t, q, "a")

		first := testReceive(t, q, 1)
		require.Len(t, first, 1)
		require.Equal(t, enqueued[0].Id, first[0].Id)
		require.Equal(t, 1, first[0].ReceiveCount)
		require.NotEmpty(t, first[0].ReceiptHandle)

		require.Empty(t, testReceive(t, q, 1))

		clk.Advance(29 * time.Second)
		require.Empty(t, testReceive(t, q, 1))

		clk.Advance(time.Second)
		second := testReceive(t, q, 1)
		require.Len(t, second, 1)
		require.Equal(t, first[0].Id, second[0].Id)
		require.Equal(t, 2, second[0].ReceiveCount)
		require.NotEqual(t, first[0].ReceiptHandle, second[0].ReceiptHandle)

		// the stale receipt no longer controls the message
		require.NoError(t, q.Delete(context.Background(), first[0].ReceiptHandle))
		require.Equal(t, 1, q.Status().InFlight)

		require.NoError(t, q.Delete(context.Background(), second[0].ReceiptHandle))
		require.Equal(t, 0, q.Len())
	})
}

func TestQueueSweepReleasesExpiredInFlight(t *testing.T) {
	runQueueTest(t, testOption(10*time.Second), func(q *Queue, clk *clock.MockClock) {
		testEnqueue(t, q, "a")
		require.Len(t, testReceive(t, q, 1), 1)

		clk.Advance(10 * time.Second)
		q.Sweep()

		status := q.Status()
		require.Equal(t, 1, status.Visible)
		require.Equal(t, 0, status.InFlight)
	})
}

func TestQueueRelease(t *testing.T) {
	runQueueTest(t, testOption(time.Hour), func(q *Queue, clk *clock.MockClock) {
		testEnqueue(t, q, "a")

		received := testReceive(t, q, 1)
		require.Len(t, received, 1)

		require.NoError(t, q.Release(context.Background(), received[0].ReceiptHandle))
		require.NoError(t, q.Release(context.Background(), received[0].ReceiptHandle))
		require.NoError(t, q.Release(context.Background(), "unknown"))

		again := testReceive(t, q, 1)
		require.Len(t, again, 1)
		require.Equal(t, received[0].Id, again[0].Id)
		require.Equal(t, 2, again[0].ReceiveCount)
	})
}

func TestQueueBatchAndOrder(t *testing.T) {
	runQueueTest(t, testOption(time.Minute), func(q *Queue, clk *clock.MockClock) {
		bodies := make([]string, 0, 15)
		for i := 0; i < 15; i++ {
			bodies = append(bodies, fmt.Sprintf("body-%02d", i))
		}
		enqueued := testEnqueue(t, q, bodies...)

		first := testReceive(t, q, MaxBatchSize)
		require.Len(t, first, MaxBatchSize)
		require.Equal(t, enqueued[0].Id, first[0].Id)

		second := testReceive(t, q, MaxBatchSize)
		require.Len(t, second, 5)

		seen := make(map[string]struct{})
		for _, message := range append(first, second...) {
			seen[message.Id] = struct{}{}
		}
		require.Len(t, seen, 15)
	})
}

func TestQueueReceiveValidation(t *testing.T) {
	runQueueTest(t, testOption(time.Minute), func(q *Queue, clk *clock.MockClock) {
		_, err := q.Receive(context.Background(), 0, 0)
		require.ErrorIs(t, err, ErrInvalidBatchSize)

		_, err = q.Receive(context.Background(), MaxBatchSize+1, 0)
		require.ErrorIs(t, err, ErrInvalidBatchSize)

		_, err = q.Receive(context.Background(), 1, MaxReceiveWait+time.Second)
		require.ErrorIs(t, err, ErrInvalidReceiveWait)
	})
}

func TestQueueReceiveWait(t *testing.T) {
	t.Run("wakes up on enqueue", func(t *testing.T) {
		runQueueTest(t, testOption(time.Minute), func(q *Queue, clk *clock.MockClock) {
			go func() {
				time.Sleep(50 * time.Millisecond)
				q.Enqueue(context.Background(), "late")
			}()

			messages, err := q.Receive(context.Background(), 1, 5*time.Second)
			require.NoError(t, err)
			require.Len(t, messages, 1)
			require.Equal(t, "late", messages[0].Body)
		})
	})

	t.Run("returns empty when the wait elapses", func(t *testing.T) {
		runQueueTest(t, testOption(time.Minute), func(q *Queue, clk *clock.MockClock) {
			messages, err := q.Receive(context.Background(), 1, 50*time.Millisecond)
			require.NoError(t, err)
			require.Empty(t, messages)
		})
	})

	t.Run("honors the context", func(t *testing.T) {
		runQueueTest(t, testOption(time.Minute), func(q *Queue, clk *clock.MockClock) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err := q.Receive(ctx, 1, 5*time.Second)
			require.ErrorIs(t, err, context.DeadlineExceeded)
		})
	})
}

func TestQueueRetention(t *testing.T) {
	opt := testOption(time.Minute)
	opt.RetentionPeriod = time.Hour

	t.Run("visible message past retention is never delivered", func(t *testing.T) {
		runQueueTest(t, opt, func(q *Queue, clk *clock.MockClock) {
			testEnqueue(t, q, "old")

			clk.Advance(time.Hour)
			require.Empty(t, testReceive(t, q, 1))
			require.Equal(t, 0, q.Len())
		})
	})

	t.Run("message inside retention is delivered", func(t *testing.T) {
		runQueueTest(t, opt, func(q *Queue, clk *clock.MockClock) {
			testEnqueue(t, q, "young")

			clk.Advance(time.Hour - time.Second)
			require.Len(t, testReceive(t, q, 1), 1)
		})
	})

	t.Run("in flight message past retention is dropped instead of redelivered", func(t *testing.T) {
		runQueueTest(t, opt, func(q *Queue, clk *clock.MockClock) {
			testEnqueue(t, q, "slow")

			clk.Advance(59 * time.Minute)
			require.Len(t, testReceive(t, q, 1), 1)

			clk.Advance(time.Minute)
			require.Empty(t, testReceive(t, q, 1))
			require.Equal(t, 0, q.Len())
		})
	})

	t.Run("sweep discards expired messages", func(t *testing.T) {
		runQueueTest(t, opt, func(q *Queue, clk *clock.MockClock) {
			testEnqueue(t, q, "a", "b")

			clk.Advance(time.Hour)
			q.Sweep()
			require.Equal(t, 0, q.Len())
		})
	})
}

func TestQueueDeliveryDelay(t *testing.T) {
	opt := testOption(time.Minute)
	opt.DeliveryDelay = 10 * time.Second

	runQueueTest(t, opt, func(q *Queue, clk *clock.MockClock) {
		testEnqueue(t, q, "later")
		require.Equal(t, 1, q.Status().Delayed)
		require.Empty(t, testReceive(t, q, 1))

		clk.Advance(10 * time.Second)
		require.Len(t, testReceive(t, q, 1), 1)
	})
}

func TestQueueExtendVisibility(t *testing.T) {
	runQueueTest(t, testOption(30*time.Second), func(q *Queue, clk *clock.MockClock) {
		testEnqueue(t, q, "a")
		received := testReceive(t, q, 1)
		require.Len(t, received, 1)

		require.NoError(t, q.ExtendVisibility(context.Background(), received[0].ReceiptHandle, time.Minute))

		clk.Advance(30 * time.Second)
		require.Empty(t, testReceive(t, q, 1))

		clk.Advance(30 * time.Second)
		require.Len(t, testReceive(t, q, 1), 1)

		err := q.ExtendVisibility(context.Background(), received[0].ReceiptHandle, time.Minute)
		require.ErrorIs(t, err, ErrReceiptNotFound)

		err = q.ExtendVisibility(context.Background(), received[0].ReceiptHandle, core.MaxVisibilityTimeout+time.Second)
		require.ErrorIs(t, err, core.ErrInvalidVisibilityTimeout)
	})
}

func TestQueueDeadLetter(t *testing.T) {
	opt := testOption(time.Minute)
	opt.MaxReceiveCount = 2

	runQueueTest(t, opt, func(q *Queue, clk *clock.MockClock) {
		enqueued := testEnqueue(t, q, "poison")

		for i := 0; i < 2; i++ {
			received := testReceive(t, q, 1)
			require.Len(t, received, 1)
			require.NoError(t, q.Release(context.Background(), received[0].ReceiptHandle))
		}

		require.Equal(t, 0, q.Len())
		require.Equal(t, 1, q.Status().DeadLetter)

		dead := testReceive(t, q.DeadLetter(), 1)
		require.Len(t, dead, 1)
		require.Equal(t, enqueued[0].Id, dead[0].Id)
		require.Equal(t, "poison", dead[0].Body)
		require.Equal(t, 3, dead[0].ReceiveCount)

		require.NoError(t, q.DeadLetter().Delete(context.Background(), dead[0].ReceiptHandle))
		require.Equal(t, 0, q.DeadLetter().Len())
	})
}

func TestQueueDeadLetterOnVisibilityTimeout(t *testing.T) {
	opt := testOption(time.Minute)
	opt.MaxReceiveCount = 1

	runQueueTest(t, opt, func(q *Queue, clk *clock.MockClock) {
		testEnqueue(t, q, "poison")
		require.Len(t, testReceive(t, q, 1), 1)

		clk.Advance(time.Minute)
		require.Empty(t, testReceive(t, q, 1))
		require.Equal(t, 1, q.DeadLetter().Len())
	})
}

func TestQueueRestore(t *testing.T) {
	var (
		st  = newTestStore(t)
		clk = clock.NewMock(queueTestStart)
		opt = testOption(time.Minute)
	)

	q, err := newQueue("test", "bucket", opt, clk, st, nil)
	require.NoError(t, err)

	testEnqueue(t, q, "a", "b")
	received := testReceive(t, q, 1)
	require.Len(t, received, 1)
	q.Close()

	restored, err := newQueue("test", "bucket", opt, clk, st, nil)
	require.NoError(t, err)
	defer restored.Close()

	status := restored.Status()
	require.Equal(t, 1, status.Visible)
	require.Equal(t, 1, status.InFlight)

	require.NoError(t, restored.Delete(context.Background(), received[0].ReceiptHandle))
	require.Equal(t, 1, restored.Len())

	clk.Advance(time.Minute)
	require.Len(t, testReceive(t, restored, MaxBatchSize), 1)
}

func TestQueueClose(t *testing.T) {
	t.Run("enqueue and receive after close", func(t *testing.T) {
		runQueueTest(t, testOption(time.Minute), func(q *Queue, clk *clock.MockClock) {
			q.Close()

			_, err := q.Enqueue(context.Background(), "a")
			require.ErrorIs(t, err, ErrQueueClosed)

			_, err = q.Receive(context.Background(), 1, 0)
			require.ErrorIs(t, err, ErrQueueClosed)
		})
	})

	t.Run("acknowledgements after close", func(t *testing.T) {
		runQueueTest(t, testOption(time.Minute), func(q *Queue, clk *clock.MockClock) {
			testEnqueue(t, q, "a", "b", "c")
			received := testReceive(t, q, 3)
			require.Len(t, received, 3)

			q.Close()

			require.ErrorIs(t, q.Delete(context.Background(), received[0].ReceiptHandle), ErrQueueClosed)
			require.ErrorIs(t, q.Release(context.Background(), received[1].ReceiptHandle), ErrQueueClosed)
			require.ErrorIs(t, q.ExtendVisibility(context.Background(), received[2].ReceiptHandle, time.Minute), ErrQueueClosed)
		})
	})
}

func TestQueueRunAfterClose(t *testing.T) {
	runQueueTest(t, testOption(time.Minute), func(q *Queue, clk *clock.MockClock) {
		q.Close()

		done := make(chan struct{})
		go func() {
			q.run(context.Background(), time.Millisecond)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("sweeper kept running on a closed queue")
		}
	})
}
