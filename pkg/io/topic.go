package io

import (
	"github.com/google/uuid"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
)

type Topic struct {
	Name        string      `json:"name"`
	Subscribers Subscribers `json:"subscribers"`
}

func (t Topic) Topic() core.Topic {
	return core.Topic{
		Id:   uuid.New(),
		Name: t.Name,
	}
}

func (t Topic) Subscriber(topicId uuid.UUID) (core.Subscribers, error) {
	return t.Subscribers.Subscriber(topicId)
}
