package core

import (
	"errors"
	"time"
)

const (
	DefaultVisibilityTimeout = 300 * time.Second
	DefaultRetentionPeriod   = 4 * 24 * time.Hour

	MaxVisibilityTimeout = 12 * time.Hour
	MinRetentionPeriod   = time.Minute
	MaxRetentionPeriod   = 14 * 24 * time.Hour
	MaxDeliveryDelay     = 15 * time.Minute
)

var (
	ErrInvalidVisibilityTimeout = errors.New("visibility timeout must be between 0 and 12h")
	ErrInvalidRetentionPeriod   = errors.New("retention period must be between 1m and 14d")
	ErrInvalidDeliveryDelay     = errors.New("delivery delay must be between 0 and 15m")
	ErrInvalidMaxReceiveCount   = errors.New("max receive count must not be negative")
)

// SubscriberOption tunes the durable queue owned by a subscriber.
// MaxReceiveCount zero disables dead-lettering.
type SubscriberOption struct {
	VisibilityTimeout time.Duration `json:"visibility_timeout"`
	RetentionPeriod   time.Duration `json:"retention_period"`
	DeliveryDelay     time.Duration `json:"delivery_delay"`
	MaxReceiveCount   int           `json:"max_receive_count"`
}

func DefaultSubscriberOption() SubscriberOption {
	return SubscriberOption{
		VisibilityTimeout: DefaultVisibilityTimeout,
		RetentionPeriod:   DefaultRetentionPeriod,
	}
}

func (o SubscriberOption) Validate() error {
	if o.VisibilityTimeout < 0 || o.VisibilityTimeout > MaxVisibilityTimeout {
		return ErrInvalidVisibilityTimeout
	}

	if o.RetentionPeriod < MinRetentionPeriod || o.RetentionPeriod > MaxRetentionPeriod {
		return ErrInvalidRetentionPeriod
	}

	if o.DeliveryDelay < 0 || o.DeliveryDelay > MaxDeliveryDelay {
		return ErrInvalidDeliveryDelay
	}

	if o.MaxReceiveCount < 0 {
		return ErrInvalidMaxReceiveCount
	}

	return nil
}

// DeadLetter reports whether exhausted messages move to a dead-letter queue.
func (o SubscriberOption) DeadLetter() bool {
	return o.MaxReceiveCount > 0
}
