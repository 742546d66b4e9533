package awssqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
)

const (
	maxMessages = 10
	maxWait     = 20 * time.Second

	attributeReceiveCount = "ApproximateReceiveCount"
	attributeSentAt       = "SentTimestamp"
)

var (
	ErrInvalidMaxMessages = errors.New("max messages must be between 1 and 10")
	ErrInvalidWait        = errors.New("wait must be between 0 and 20s")
)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Receiver reads batches from an SQS queue. Delete acknowledges a message and
// Release makes it visible again right away.
type Receiver struct {
	client      sqsAPI
	queueURL    string
	queueURLPtr *string

	// VisibilityTimeout overrides the queue default when positive.
	VisibilityTimeout time.Duration
}

func New(client sqsAPI, queueURL string) (*Receiver, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}

	if queueURL == "" {
		return nil, errors.New("queue url is required")
	}

	r := &Receiver{
		client:   client,
		queueURL: queueURL,
	}
	r.queueURLPtr = &r.queueURL

	return r, nil
}

func (r *Receiver) Receive(ctx context.Context, max int, wait time.Duration) (core.Messages, error) {
	if max < 1 || max > maxMessages {
		return nil, ErrInvalidMaxMessages
	}

	if wait < 0 || wait > maxWait {
		return nil, ErrInvalidWait
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:            r.queueURLPtr,
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     waitSeconds(wait),
		AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
	}
	if r.VisibilityTimeout > 0 {
		input.VisibilityTimeout = int32(r.VisibilityTimeout / time.Second)
	}

	out, err := r.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, err
	}

	messages := make(core.Messages, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, toMessage(m))
	}

	return messages, nil
}

// waitSeconds rounds wait up to whole seconds so a short remaining wait still long
// polls.
func waitSeconds(wait time.Duration) int32 {
	return int32((wait + time.Second - 1) / time.Second)
}

func (r *Receiver) Delete(ctx context.Context, receiptHandle string) error {
	_, err := r.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      r.queueURLPtr,
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}

	return nil
}

func (r *Receiver) Release(ctx context.Context, receiptHandle string) error {
	return r.ExtendVisibility(ctx, receiptHandle, 0)
}

func (r *Receiver) ExtendVisibility(ctx context.Context, receiptHandle string, timeout time.Duration) error {
	_, err := r.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          r.queueURLPtr,
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(timeout / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs change message visibility: %w", err)
	}

	return nil
}

func toMessage(m sqstypes.Message) core.Message {
	message := core.Message{
		Id:            aws.ToString(m.MessageId),
		Body:          aws.ToString(m.Body),
		State:         core.MessageStateInFlight,
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
	}

	if count, err := strconv.Atoi(m.Attributes[attributeReceiveCount]); err == nil {
		message.ReceiveCount = count
	}

	if sentAt, err := strconv.ParseInt(m.Attributes[attributeSentAt], 10, 64); err == nil {
		message.EnqueuedAt = time.UnixMilli(sentAt).UTC()
	}

	return message
}
