package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const s3EventBody = `{
	"Records": [
		{
			"eventVersion": "2.1",
			"eventSource": "aws:s3",
			"awsRegion": "us-east-1",
			"eventTime": "2024-03-01T10:00:00.000Z",
			"eventName": "ObjectCreated:Put",
			"s3": {
				"bucket": {"name": "image-input", "arn": "arn:aws:s3:::image-input"},
				"object": {"key": "holiday/beach+day%281%29.jpg", "size": 2048, "eTag": "abc"}
			}
		},
		{
			"eventName": "ObjectRemoved:Delete",
			"s3": {
				"bucket": {"name": "image-input"},
				"object": {"key": "old.png"}
			}
		}
	]
}`

func TestDecodeS3Event(t *testing.T) {
	notifications, err := Decode(s3EventBody)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, "holiday/beach day(1).jpg", notifications[0].Key)
	require.Equal(t, "image-input", notifications[0].Bucket)
	require.Equal(t, int64(2048), notifications[0].Size)
	require.True(t, notifications[0].EventTime.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDecodeSNSEnvelope(t *testing.T) {
	envelope, err := json.Marshal(SNSEnvelope{
		Type:      "Notification",
		MessageId: "2a1b",
		TopicArn:  "arn:aws:sns:us-east-1:000000000000:image-processing-topic",
		Message:   s3EventBody,
	})
	require.NoError(t, err)

	notifications, err := Decode(string(envelope))
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, "holiday/beach day(1).jpg", notifications[0].Key)
}

func TestDecodeRawNotification(t *testing.T) {
	notifications, err := Decode(`{"key":"a.png","bucket":"image-input","size":10}`)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	require.Equal(t, "a.png", notifications[0].Key)
}

func TestDecodeTestEvent(t *testing.T) {
	notifications, err := Decode(`{"Service":"Amazon S3","Event":"s3:TestEvent","Bucket":"image-input"}`)
	require.NoError(t, err)
	require.Empty(t, notifications)
}

func TestDecodeUnknownBody(t *testing.T) {
	_, err := Decode(`{"hello":"world"}`)
	require.ErrorIs(t, err, ErrUnknownBody)

	_, err = Decode(`not json`)
	require.Error(t, err)
}
