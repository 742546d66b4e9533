package awssqs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/require"
)

type fakeSQSAPI struct {
	mu sync.Mutex

	out     *sqs.ReceiveMessageOutput
	recvErr error
	lastIn  *sqs.ReceiveMessageInput

	deleted    []string
	visibility map[string]int32
	delErr     error
}

func newFakeSQSAPI() *fakeSQSAPI {
	return &fakeSQSAPI{
		out:        &sqs.ReceiveMessageOutput{},
		visibility: make(map[string]int32),
	}
}

func (f *fakeSQSAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastIn = in
	if f.recvErr != nil {
		return nil, f.recvErr
	}

	return f.out, nil
}

func (f *fakeSQSAPI) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.delErr != nil {
		return nil, f.delErr
	}
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))

	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQSAPI) ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.visibility[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout

	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestReceive(t *testing.T) {
	client := newFakeSQSAPI()
	client.out = &sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{
			{
				MessageId:     aws.String("m-1"),
				ReceiptHandle: aws.String("rh-1"),
				Body:          aws.String(`{"key":"a.jpg"}`),
				Attributes: map[string]string{
					"ApproximateReceiveCount": "3",
					"SentTimestamp":           "1709287200000",
				},
			},
		},
	}

	receiver, err := New(client, "https://sqs.local/queue")
	require.NoError(t, err)
	receiver.VisibilityTimeout = 30 * time.Second

	messages, err := receiver.Receive(context.Background(), 10, 20*time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "m-1", messages[0].Id)
	require.Equal(t, "rh-1", messages[0].ReceiptHandle)
	require.Equal(t, 3, messages[0].ReceiveCount)
	require.True(t, messages[0].EnqueuedAt.Equal(time.UnixMilli(1709287200000)))

	require.Equal(t, int32(10), client.lastIn.MaxNumberOfMessages)
	require.Equal(t, int32(20), client.lastIn.WaitTimeSeconds)
	require.Equal(t, int32(30), client.lastIn.VisibilityTimeout)
	require.Equal(t, "https://sqs.local/queue", aws.ToString(client.lastIn.QueueUrl))
}

func TestReceiveRoundsWaitUp(t *testing.T) {
	client := newFakeSQSAPI()
	receiver, err := New(client, "https://sqs.local/queue")
	require.NoError(t, err)

	testCases := []struct {
		wait     time.Duration
		expected int32
	}{
		{wait: 0, expected: 0},
		{wait: time.Millisecond, expected: 1},
		{wait: 900 * time.Millisecond, expected: 1},
		{wait: time.Second, expected: 1},
		{wait: 1500 * time.Millisecond, expected: 2},
		{wait: 20 * time.Second, expected: 20},
	}

	for _, tc := range testCases {
		_, err := receiver.Receive(context.Background(), 1, tc.wait)
		require.NoError(t, err)
		require.Equal(t, tc.expected, client.lastIn.WaitTimeSeconds, tc.wait.String())
	}
}

func TestReceiveValidation(t *testing.T) {
	receiver, err := New(newFakeSQSAPI(), "https://sqs.local/queue")
	require.NoError(t, err)

	_, err = receiver.Receive(context.Background(), 0, time.Second)
	require.ErrorIs(t, err, ErrInvalidMaxMessages)

	_, err = receiver.Receive(context.Background(), 11, time.Second)
	require.ErrorIs(t, err, ErrInvalidMaxMessages)

	_, err = receiver.Receive(context.Background(), 1, 21*time.Second)
	require.ErrorIs(t, err, ErrInvalidWait)

	_, err = New(nil, "https://sqs.local/queue")
	require.Error(t, err)
}

func TestDeleteAndRelease(t *testing.T) {
	client := newFakeSQSAPI()
	receiver, err := New(client, "https://sqs.local/queue")
	require.NoError(t, err)

	require.NoError(t, receiver.Delete(context.Background(), "rh-1"))
	require.NoError(t, receiver.Release(context.Background(), "rh-2"))
	require.NoError(t, receiver.ExtendVisibility(context.Background(), "rh-3", time.Minute))

	require.Equal(t, []string{"rh-1"}, client.deleted)
	require.Equal(t, int32(0), client.visibility["rh-2"])
	require.Equal(t, int32(60), client.visibility["rh-3"])

	client.delErr = errors.New("throttled")
	require.ErrorContains(t, receiver.Delete(context.Background(), "rh-4"), "throttled")
}
