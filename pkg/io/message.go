package io

import (
	"time"

	"github.com/yudhasubki/fanoutqueue/pkg/core"
)

type Publish struct {
	Key       string    `json:"key"`
	Bucket    string    `json:"bucket"`
	Size      int64     `json:"size"`
	EventTime time.Time `json:"event_time"`
}

func (p Publish) Notification() core.Notification {
	return core.Notification{
		Key:       p.Key,
		Bucket:    p.Bucket,
		Size:      p.Size,
		EventTime: p.EventTime,
	}
}

type ResponseMessage struct {
	Id            string    `json:"id"`
	ReceiptHandle string    `json:"receipt_handle"`
	Body          string    `json:"body"`
	ReceiveCount  int       `json:"receive_count"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

type ResponseMessages []ResponseMessage

func NewResponseMessages(messages core.Messages) ResponseMessages {
	response := make(ResponseMessages, 0, len(messages))
	for _, message := range messages {
		response = append(response, ResponseMessage{
			Id:            message.Id,
			ReceiptHandle: message.ReceiptHandle,
			Body:          message.Body,
			ReceiveCount:  message.ReceiveCount,
			EnqueuedAt:    message.EnqueuedAt,
		})
	}

	return response
}

type RequestVisibility struct {
	Timeout string `json:"timeout"`
}

// BatchResponse is the per-invocation result of a batch consumer. Every message of
// the batch not listed in BatchItemFailures counts as processed.
type BatchResponse struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

func NewBatchResponse(failedIds []string) BatchResponse {
	response := BatchResponse{
		BatchItemFailures: make([]BatchItemFailure, 0, len(failedIds)),
	}
	for _, id := range failedIds {
		response.BatchItemFailures = append(response.BatchItemFailures, BatchItemFailure{
			ItemIdentifier: id,
		})
	}

	return response
}

func (r BatchResponse) Identifiers() []string {
	ids := make([]string, 0, len(r.BatchItemFailures))
	for _, failure := range r.BatchItemFailures {
		ids = append(ids, failure.ItemIdentifier)
	}

	return ids
}
