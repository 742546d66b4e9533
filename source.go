package fanoutqueue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/yudhasubki/fanoutqueue/pkg/core"
	"github.com/yudhasubki/fanoutqueue/pkg/metric"
)

var ErrSourceNotFound = errors.New("source not found")

var DefaultSuffixes = []string{".jpg", ".jpeg", ".png"}

// SuffixFilter accepts object keys ending in one of its suffixes. Matching is exact
// and case-sensitive.
type SuffixFilter struct {
	suffixes []string
}

func NewSuffixFilter(suffixes ...string) SuffixFilter {
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}

	return SuffixFilter{
		suffixes: append([]string(nil), suffixes...),
	}
}

func (f SuffixFilter) Match(key string) bool {
	for _, suffix := range f.suffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}

	return false
}

func (f SuffixFilter) Suffixes() []string {
	return append([]string(nil), f.suffixes...)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, notification core.Notification) error
}

// Source turns object-created events of one bucket into topic notifications.
type Source struct {
	Name   string
	Bucket string
	Topic  string

	filter    SuffixFilter
	publisher Publisher
}

type SourceOption struct {
	Name     string
	Bucket   string
	Topic    string
	Suffixes []string
}

func NewSource(opt SourceOption, publisher Publisher) *Source {
	return &Source{
		Name:      opt.Name,
		Bucket:    opt.Bucket,
		Topic:     opt.Topic,
		filter:    NewSuffixFilter(opt.Suffixes...),
		publisher: publisher,
	}
}

// ObjectCreated publishes one notification when key passes the suffix filter and
// reports whether it did.
func (s *Source) ObjectCreated(ctx context.Context, key string, size int64, eventTime time.Time) (bool, error) {
	return s.Notify(ctx, core.Notification{
		Key:       key,
		Bucket:    s.Bucket,
		Size:      size,
		EventTime: eventTime,
	})
}

// Notify publishes notification when it belongs to the source bucket and its key
// passes the suffix filter.
func (s *Source) Notify(ctx context.Context, notification core.Notification) (bool, error) {
	err := notification.Validate()
	if err != nil {
		return false, err
	}

	if notification.Bucket == "" {
		notification.Bucket = s.Bucket
	}

	if s.Bucket != "" && notification.Bucket != s.Bucket {
		s.filtered(notification, "bucket mismatch")
		return false, nil
	}

	if !s.filter.Match(notification.Key) {
		s.filtered(notification, "suffix not accepted")
		return false, nil
	}

	if notification.EventTime.IsZero() {
		notification.EventTime = time.Now().UTC()
	}

	err = s.publisher.Publish(ctx, s.Topic, notification)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (s *Source) filtered(notification core.Notification, reason string) {
	metric.NotificationFiltered.WithLabelValues(s.Name).Inc()
	slog.Debug(
		"object event filtered",
		logPrefixSource, s.Name,
		logPrefixBucket, notification.Bucket,
		logPrefixObjectKey, notification.Key,
		"reason", reason,
	)
}

type asyncPublisher struct {
	queue *FanoutQueue
}

func (p asyncPublisher) Publish(ctx context.Context, topic string, notification core.Notification) error {
	return p.queue.PublishAsync(topic, notification)
}

// Async returns a Publisher backed by PublishAsync.
func (q *FanoutQueue) Async() Publisher {
	return asyncPublisher{queue: q}
}
