package core

import (
	"time"
)

type MessageState string

const (
	MessageStateDelayed  MessageState = "delayed"
	MessageStateVisible  MessageState = "visible"
	MessageStateInFlight MessageState = "in_flight"
)

// Message is the queue-resident wrapper around a serialized notification.
type Message struct {
	Id              string       `json:"id"`
	Body            string       `json:"body"`
	State           MessageState `json:"state"`
	ReceiptHandle   string       `json:"receipt_handle,omitempty"`
	ReceiveCount    int          `json:"receive_count"`
	EnqueuedAt      time.Time    `json:"enqueued_at"`
	FirstReceivedAt time.Time    `json:"first_received_at,omitempty"`
	VisibleAt       time.Time    `json:"visible_at,omitempty"`
}

// Expired reports whether the message outlived the retention period at now.
func (m Message) Expired(now time.Time, retention time.Duration) bool {
	return !now.Before(m.EnqueuedAt.Add(retention))
}

type Messages []Message

func (messages Messages) Ids() []string {
	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.Id)
	}

	return ids
}

func (messages Messages) ReceiptHandles() []string {
	handles := make([]string, 0, len(messages))
	for _, message := range messages {
		handles = append(handles, message.ReceiptHandle)
	}

	return handles
}
