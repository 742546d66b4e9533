package event

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/yudhasubki/fanoutqueue/pkg/core"
)

const (
	snsTypeNotification = "Notification"
	s3EventTest         = "s3:TestEvent"
	objectCreatedPrefix = "ObjectCreated:"
)

var ErrUnknownBody = errors.New("message body is neither a notification, an s3 event nor an sns envelope")

// S3Event is the notification document a bucket emits for object events.
type S3Event struct {
	Records []S3EventRecord `json:"Records"`
}

type S3EventRecord struct {
	EventVersion string   `json:"eventVersion"`
	EventSource  string   `json:"eventSource"`
	AwsRegion    string   `json:"awsRegion"`
	EventTime    string   `json:"eventTime"`
	EventName    string   `json:"eventName"`
	S3           S3Entity `json:"s3"`
}

type S3Entity struct {
	S3SchemaVersion string   `json:"s3SchemaVersion"`
	ConfigurationID string   `json:"configurationId"`
	Bucket          S3Bucket `json:"bucket"`
	Object          S3Object `json:"object"`
}

type S3Bucket struct {
	Name string `json:"name"`
	Arn  string `json:"arn"`
}

type S3Object struct {
	Key       string `json:"key"`
	Size      int64  `json:"size"`
	ETag      string `json:"eTag"`
	Sequencer string `json:"sequencer"`
}

// SNSEnvelope wraps a message delivered by a topic subscription without raw
// message delivery.
type SNSEnvelope struct {
	Type      string `json:"Type"`
	MessageId string `json:"MessageId"`
	TopicArn  string `json:"TopicArn"`
	Message   string `json:"Message"`
	Timestamp string `json:"Timestamp"`
}

type probe struct {
	Type    string          `json:"Type"`
	Message *string         `json:"Message"`
	Event   string          `json:"Event"`
	Records json.RawMessage `json:"Records"`
	Key     string          `json:"key"`
}

// Decode turns a queue message body into the object-creation notifications it
// carries. A bucket test event carries none.
func Decode(body string) ([]core.Notification, error) {
	return decode(body, true)
}

func decode(body string, unwrap bool) ([]core.Notification, error) {
	var p probe
	err := json.Unmarshal([]byte(body), &p)
	if err != nil {
		return nil, err
	}

	switch {
	case unwrap && p.Type == snsTypeNotification && p.Message != nil:
		return decode(*p.Message, false)
	case p.Event == s3EventTest:
		return []core.Notification{}, nil
	case len(p.Records) > 0:
		var event S3Event
		err := json.Unmarshal([]byte(body), &event)
		if err != nil {
			return nil, err
		}

		return event.Notifications()
	case p.Key != "":
		var notification core.Notification
		err := json.Unmarshal([]byte(body), &notification)
		if err != nil {
			return nil, err
		}

		return []core.Notification{notification}, nil
	}

	return nil, ErrUnknownBody
}

// Notifications returns one notification per object-created record. Object keys
// are URL-decoded.
func (e S3Event) Notifications() ([]core.Notification, error) {
	notifications := make([]core.Notification, 0, len(e.Records))
	for _, record := range e.Records {
		if !strings.HasPrefix(record.EventName, objectCreatedPrefix) {
			continue
		}

		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			return nil, err
		}

		notification := core.Notification{
			Key:    key,
			Bucket: record.S3.Bucket.Name,
			Size:   record.S3.Object.Size,
		}

		if record.EventTime != "" {
			notification.EventTime, err = time.Parse(time.RFC3339Nano, record.EventTime)
			if err != nil {
				return nil, err
			}
		}

		notifications = append(notifications, notification)
	}

	return notifications, nil
}
