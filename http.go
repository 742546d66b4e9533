package fanoutqueue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yudhasubki/fanoutqueue/pkg/core"
	"github.com/yudhasubki/fanoutqueue/pkg/event"
	httpresponse "github.com/yudhasubki/fanoutqueue/pkg/http"
	bqio "github.com/yudhasubki/fanoutqueue/pkg/io"
)

type Http struct {
	Queue   *FanoutQueue
	Sources map[string]*Source
}

type ctxKeyTopicName string

const (
	topicIdKey ctxKeyTopicName = "topic"
)

type sourceResult struct {
	Published int `json:"published"`
	Filtered  int `json:"filtered"`
}

func (h *Http) Router() http.Handler {
	r := chi.NewRouter()

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/topics", func(r chi.Router) {
		r.Get("/", h.GetTopics)
		r.Post("/", h.CreateTopic)

		r.Group(func(r chi.Router) {
			r.Use(h.topicExist)
			r.Delete("/{topicName}", h.DeleteTopic)
			r.Post("/{topicName}/messages", h.Publish)

			r.Get("/{topicName}/subscribers", h.GetSubscribers)
			r.Post("/{topicName}/subscribers", h.CreateSubscriber)
			r.Delete("/{topicName}/subscribers/{subscriberName}", h.DeleteSubscriber)
			r.Get("/{topicName}/subscribers/{subscriberName}", h.ReceiveMessage)
			r.Delete("/{topicName}/subscribers/{subscriberName}/messages/{receiptHandle}", h.DeleteMessage)
			r.Post("/{topicName}/subscribers/{subscriberName}/messages/{receiptHandle}/release", h.ReleaseMessage)
			r.Put("/{topicName}/subscribers/{subscriberName}/messages/{receiptHandle}/visibility", h.ExtendVisibility)
			r.Get("/{topicName}/subscribers/{subscriberName}/dead-letters", h.ReceiveDeadLetter)
			r.Delete("/{topicName}/subscribers/{subscriberName}/dead-letters/{receiptHandle}", h.DeleteDeadLetter)
		})
	})

	r.Post("/sources/{sourceName}/events", h.SourceEvents)

	return r
}

func (h *Http) GetTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := h.Queue.GetTopics(r.Context(), core.FilterTopic{})
	if err != nil {
		httpresponse.Failure(w, http.StatusInternalServerError, err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Data:    topics,
		Message: httpresponse.MessageSuccess,
	})
}

func (h *Http) CreateTopic(w http.ResponseWriter, r *http.Request) {
	var request bqio.Topic

	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		slog.Error("[CreateTopic] error decode message", logPrefixErr, err)
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	topics, err := h.Queue.GetTopics(r.Context(), core.FilterTopic{
		Name: []string{request.Name},
	})
	if err != nil {
		httpresponse.Failure(w, http.StatusInternalServerError, err)
		return
	}

	if len(topics) > 0 {
		httpresponse.Write(w, http.StatusConflict, &httpresponse.Response{
			Error:   ErrTopicExist.Error(),
			Message: http.StatusText(http.StatusConflict),
		})
		return
	}

	topic := request.Topic()
	subscribers, err := request.Subscriber(topic.Id)
	if err != nil {
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	err = h.Queue.CreateTopic(r.Context(), topic, subscribers)
	if err != nil {
		httpresponse.Failure(w, statusCode(err), err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Data:    topic,
		Message: httpresponse.MessageSuccess,
	})
}

func (h *Http) DeleteTopic(w http.ResponseWriter, r *http.Request) {
	topic := h.getTopic(r.Context())

	err := h.Queue.DeleteTopic(r.Context(), topic.Name)
	if err != nil {
		httpresponse.Failure(w, statusCode(err), err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Message: httpresponse.MessageSuccess,
	})
}

func (h *Http) Publish(w http.ResponseWriter, r *http.Request) {
	var (
		topic   = h.getTopic(r.Context())
		request bqio.Publish
	)

	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		slog.Error("[Publish][json.NewDecoder] error decode message", logPrefixErr, err)
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	err = h.Queue.Publish(r.Context(), topic.Name, request.Notification())
	if err != nil {
		var deliveryErr *DeliveryError
		if errors.As(err, &deliveryErr) {
			httpresponse.Write(w, http.StatusBadGateway, &httpresponse.Response{
				Data:    deliveryErr.Subscribers,
				Error:   err.Error(),
				Message: httpresponse.MessageFailure,
			})
			return
		}

		httpresponse.Failure(w, statusCode(err), err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Message: httpresponse.MessageSuccess,
	})
}

// GetSubscribers returns the message counts of every subscriber queue of the topic.
func (h *Http) GetSubscribers(w http.ResponseWriter, r *http.Request) {
	topic := h.getTopic(r.Context())

	statuses, err := h.Queue.GetSubscribersStatus(r.Context(), topic.Name)
	if err != nil {
		httpresponse.Failure(w, statusCode(err), err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Data:    statuses,
		Message: httpresponse.MessageSuccess,
	})
}

func (h *Http) CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var (
		request bqio.Subscribers
		topic   = h.getTopic(r.Context())
	)

	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	subscribers, err := request.Subscriber(topic.Id)
	if err != nil {
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	err = h.Queue.AddSubscriber(r.Context(), topic.Name, subscribers)
	if err != nil {
		httpresponse.Failure(w, statusCode(err), err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Message: httpresponse.MessageSuccess,
	})
}

func (h *Http) DeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	var (
		topic      = h.getTopic(r.Context())
		subscriber = chi.URLParam(r, "subscriberName")
	)

	err := h.Queue.DeleteSubscriber(r.Context(), topic.Name, subscriber)
	if err != nil {
		httpresponse.Failure(w, statusCode(err), err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Message: httpresponse.MessageSuccess,
	})
}

func (h *Http) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, h.Queue.Receive)
}

func (h *Http) ReceiveDeadLetter(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, h.Queue.ReceiveDeadLetter)
}

func (h *Http) receive(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, topic, subscriber string, max int, wait time.Duration) (core.Messages, error)) {
	var (
		topic      = h.getTopic(r.Context())
		subscriber = chi.URLParam(r, "subscriberName")
	)

	max, wait, err := receiveParams(r)
	if err != nil {
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	messages, err := fn(r.Context(), topic.Name, subscriber, max, wait)
	if err != nil {
		httpresponse.Failure(w, statusCode(err), err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Data:    bqio.NewResponseMessages(messages),
		Message: httpresponse.MessageSuccess,
	})
}

func (h *Http) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	h.acknowledge(w, r, h.Queue.Delete)
}

func (h *Http) ReleaseMessage(w http.ResponseWriter, r *http.Request) {
	h.acknowledge(w, r, h.Queue.Release)
}

func (h *Http) DeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	h.acknowledge(w, r, h.Queue.DeleteDeadLetter)
}

func (h *Http) acknowledge(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, topic, subscriber, receiptHandle string) error) {
	var (
		topic         = h.getTopic(r.Context())
		subscriber    = chi.URLParam(r, "subscriberName")
		receiptHandle = chi.URLParam(r, "receiptHandle")
	)

	err := fn(r.Context(), topic.Name, subscriber, receiptHandle)
	if err != nil {
		httpresponse.Failure(w, statusCode(err), err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Message: httpresponse.MessageSuccess,
	})
}

func (h *Http) ExtendVisibility(w http.ResponseWriter, r *http.Request) {
	var (
		topic         = h.getTopic(r.Context())
		subscriber    = chi.URLParam(r, "subscriberName")
		receiptHandle = chi.URLParam(r, "receiptHandle")
		request       bqio.RequestVisibility
	)

	err := json.NewDecoder(r.Body).Decode(&request)
	if err != nil {
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	timeout, err := time.ParseDuration(request.Timeout)
	if err != nil {
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	err = h.Queue.ExtendVisibility(r.Context(), topic.Name, subscriber, receiptHandle, timeout)
	if err != nil {
		httpresponse.Failure(w, statusCode(err), err)
		return
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Message: httpresponse.MessageSuccess,
	})
}

// SourceEvents accepts a bucket event document, or a single notification, and
// publishes every created object that passes the source filter.
func (h *Http) SourceEvents(w http.ResponseWriter, r *http.Request) {
	source, exist := h.Sources[chi.URLParam(r, "sourceName")]
	if !exist {
		httpresponse.Write(w, http.StatusNotFound, &httpresponse.Response{
			Error:   ErrSourceNotFound.Error(),
			Message: httpresponse.MessageNotFound,
		})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	notifications, err := event.Decode(string(body))
	if err != nil {
		httpresponse.Failure(w, http.StatusBadRequest, err)
		return
	}

	var result sourceResult
	for _, notification := range notifications {
		published, err := source.Notify(r.Context(), notification)
		if err != nil {
			slog.Error(
				"[SourceEvents] error publishing object event",
				logPrefixSource, source.Name,
				logPrefixObjectKey, notification.Key,
				logPrefixErr, err,
			)
			httpresponse.Failure(w, statusCode(err), err)
			return
		}

		if published {
			result.Published++
		} else {
			result.Filtered++
		}
	}

	httpresponse.Write(w, http.StatusOK, &httpresponse.Response{
		Data:    result,
		Message: httpresponse.MessageSuccess,
	})
}

func (h *Http) topicExist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topicName := chi.URLParam(r, "topicName")

		topics, err := h.Queue.GetTopics(r.Context(), core.FilterTopic{
			Name: []string{topicName},
		})
		if err != nil {
			httpresponse.Failure(w, http.StatusInternalServerError, err)
			return
		}

		if len(topics) == 0 {
			httpresponse.Write(w, http.StatusNotFound, &httpresponse.Response{
				Error:   ErrTopicNotFound.Error(),
				Message: httpresponse.MessageNotFound,
			})
			return
		}

		ctx := context.WithValue(r.Context(), topicIdKey, topics[0])

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Http) getTopic(ctx context.Context) core.Topic {
	if ctx == nil {
		return core.Topic{}
	}

	if topic, ok := ctx.Value(topicIdKey).(core.Topic); ok {
		return topic
	}

	return core.Topic{}
}

func receiveParams(r *http.Request) (int, time.Duration, error) {
	var (
		max  = 1
		wait time.Duration
		err  error
	)

	if v := r.URL.Query().Get("max"); v != "" {
		max, err = strconv.Atoi(v)
		if err != nil {
			return 0, 0, err
		}
	}

	if v := r.URL.Query().Get("wait"); v != "" {
		wait, err = time.ParseDuration(v)
		if err != nil {
			return 0, 0, err
		}
	}

	return max, wait, nil
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrTopicNotFound),
		errors.Is(err, ErrSubscriberNotFound),
		errors.Is(err, ErrDeadLetterNotEnabled),
		errors.Is(err, ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTopicExist),
		errors.Is(err, ErrSubscriberExist),
		errors.Is(err, ErrDuplicateSubscriber):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidBatchSize),
		errors.Is(err, ErrInvalidReceiveWait),
		errors.Is(err, ErrEmptyTopicName),
		errors.Is(err, core.ErrEmptyObjectKey),
		errors.Is(err, core.ErrInvalidVisibilityTimeout),
		errors.Is(err, core.ErrInvalidRetentionPeriod),
		errors.Is(err, core.ErrInvalidDeliveryDelay),
		errors.Is(err, core.ErrInvalidMaxReceiveCount):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueClosed),
		errors.Is(err, ErrNotRunning):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}
