package io

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
)

var ErrEmptySubscriberName = errors.New("subscriber name is empty")

type Subscriber struct {
	Name   string        `json:"name"`
	Option SubscriberOpt `json:"option"`
}

type Subscribers []Subscriber

func (subscriber Subscribers) Subscriber(topicId uuid.UUID) (core.Subscribers, error) {
	subscribers := make(core.Subscribers, 0, len(subscriber))
	for _, sub := range subscriber {
		if sub.Name == "" {
			return nil, ErrEmptySubscriberName
		}

		opt, err := sub.Option.Marshal()
		if err != nil {
			return nil, err
		}

		subscribers = append(subscribers, core.Subscriber{
			Id:      uuid.New(),
			TopicId: topicId,
			Name:    sub.Name,
			Option:  opt,
		})
	}

	return subscribers, nil
}

// SubscriberOpt is the wire form of core.SubscriberOption; durations use
// time.ParseDuration syntax and empty values fall back to the defaults.
type SubscriberOpt struct {
	MaxReceiveCount   int    `json:"max_receive_count"`
	VisibilityTimeout string `json:"visibility_timeout"`
	RetentionPeriod   string `json:"retention_period"`
	DeliveryDelay     string `json:"delivery_delay"`
}

func (s SubscriberOpt) Option() (core.SubscriberOption, error) {
	opt := core.DefaultSubscriberOption()
	opt.MaxReceiveCount = s.MaxReceiveCount

	var err error
	if s.VisibilityTimeout != "" {
		opt.VisibilityTimeout, err = time.ParseDuration(s.VisibilityTimeout)
		if err != nil {
			return opt, err
		}
	}

	if s.RetentionPeriod != "" {
		opt.RetentionPeriod, err = time.ParseDuration(s.RetentionPeriod)
		if err != nil {
			return opt, err
		}
	}

	if s.DeliveryDelay != "" {
		opt.DeliveryDelay, err = time.ParseDuration(s.DeliveryDelay)
		if err != nil {
			return opt, err
		}
	}

	return opt, opt.Validate()
}

func (s SubscriberOpt) Marshal() (string, error) {
	opt, err := s.Option()
	if err != nil {
		return "", err
	}

	b, err := json.Marshal(opt)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

type SubscriberStatus struct {
	Name       string `json:"name"`
	Visible    int    `json:"visible"`
	InFlight   int    `json:"in_flight"`
	Delayed    int    `json:"delayed"`
	DeadLetter int    `json:"dead_letter"`
}

type SubscriberStatuses []SubscriberStatus
