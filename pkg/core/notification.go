package core

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrEmptyObjectKey = errors.New("notification object key is empty")

// Notification is one object-creation event emitted by the event source.
type Notification struct {
	Key       string    `json:"key"`
	Bucket    string    `json:"bucket"`
	Size      int64     `json:"size"`
	EventTime time.Time `json:"event_time"`
}

func (n Notification) Validate() error {
	if n.Key == "" {
		return ErrEmptyObjectKey
	}

	return nil
}

func (n Notification) Marshal() (string, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
