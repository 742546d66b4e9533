package fanoutqueue

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	httpresponse "github.com/yudhasubki/fanoutqueue/pkg/http"
	bqio "github.com/yudhasubki/fanoutqueue/pkg/io"
)

type httpTestResponse struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func runHttpTest(t *testing.T, test func(server *httptest.Server)) {
	runFanoutQueueTest(t, func(q *FanoutQueue) {
		h := &Http{
			Queue: q,
			Sources: map[string]*Source{
				"uploads": NewSource(SourceOption{
					Name:   "uploads",
					Bucket: "input",
					Topic:  "images",
				}, q),
			},
		}

		server := httptest.NewServer(h.Router())
		t.Cleanup(server.Close)

		test(server)
	})
}

func doRequest(t *testing.T, method, url string, body interface{}) (int, httpTestResponse) {
	var reader bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			reader.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&reader).Encode(b))
		}
	}

	req, err := http.NewRequest(method, url, &reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var response httpTestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))

	return resp.StatusCode, response
}

func TestHttpTopicLifecycle(t *testing.T) {
	runHttpTest(t, func(server *httptest.Server) {
		status, response := doRequest(t, http.MethodPost, server.URL+"/topics", bqio.Topic{
			Name:        "images",
			Subscribers: bqio.Subscribers{{Name: "thumbnail"}},
		})
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, httpresponse.MessageSuccess, response.Message)

		status, _ = doRequest(t, http.MethodPost, server.URL+"/topics", bqio.Topic{Name: "images"})
		require.Equal(t, http.StatusConflict, status)

		status, _ = doRequest(t, http.MethodPost, server.URL+"/topics/images/messages", bqio.Publish{
			Key:    "a.jpg",
			Bucket: "input",
		})
		require.Equal(t, http.StatusOK, status)

		status, _ = doRequest(t, http.MethodPost, server.URL+"/topics/images/messages", bqio.Publish{})
		require.Equal(t, http.StatusBadRequest, status)

		status, response = doRequest(t, http.MethodGet, server.URL+"/topics/images/subscribers/thumbnail?max=10", nil)
		require.Equal(t, http.StatusOK, status)

		var messages bqio.ResponseMessages
		require.NoError(t, json.Unmarshal(response.Data, &messages))
		require.Len(t, messages, 1)
		require.Equal(t, 1, messages[0].ReceiveCount)
		require.Contains(t, messages[0].Body, "a.jpg")

		status, _ = doRequest(t, http.MethodPut,
			server.URL+"/topics/images/subscribers/thumbnail/messages/"+messages[0].ReceiptHandle+"/visibility",
			bqio.RequestVisibility{Timeout: "10m"})
		require.Equal(t, http.StatusOK, status)

		status, _ = doRequest(t, http.MethodDelete,
			server.URL+"/topics/images/subscribers/thumbnail/messages/"+messages[0].ReceiptHandle, nil)
		require.Equal(t, http.StatusOK, status)

		status, response = doRequest(t, http.MethodGet, server.URL+"/topics/images/subscribers", nil)
		require.Equal(t, http.StatusOK, status)

		var statuses bqio.SubscriberStatuses
		require.NoError(t, json.Unmarshal(response.Data, &statuses))
		require.Len(t, statuses, 1)
		require.Equal(t, "thumbnail", statuses[0].Name)
		require.Equal(t, 0, statuses[0].Visible+statuses[0].InFlight)

		status, _ = doRequest(t, http.MethodDelete, server.URL+"/topics/images", nil)
		require.Equal(t, http.StatusOK, status)

		status, response = doRequest(t, http.MethodGet, server.URL+"/topics/images/subscribers", nil)
		require.Equal(t, http.StatusNotFound, status)
		require.Equal(t, ErrTopicNotFound.Error(), response.Error)
	})
}

func TestHttpSubscribers(t *testing.T) {
	runHttpTest(t, func(server *httptest.Server) {
		status, _ := doRequest(t, http.MethodPost, server.URL+"/topics", bqio.Topic{Name: "images"})
		require.Equal(t, http.StatusOK, status)

		status, _ = doRequest(t, http.MethodPost, server.URL+"/topics/images/subscribers", bqio.Subscribers{
			{Name: "thumbnail", Option: bqio.SubscriberOpt{MaxReceiveCount: 1}},
		})
		require.Equal(t, http.StatusOK, status)

		status, _ = doRequest(t, http.MethodPost, server.URL+"/topics/images/subscribers", bqio.Subscribers{
			{Name: "thumbnail"},
		})
		require.Equal(t, http.StatusConflict, status)

		status, _ = doRequest(t, http.MethodPost, server.URL+"/topics/images/subscribers", bqio.Subscribers{
			{Name: "broken", Option: bqio.SubscriberOpt{VisibilityTimeout: "24h"}},
		})
		require.Equal(t, http.StatusBadRequest, status)

		status, _ = doRequest(t, http.MethodPost, server.URL+"/topics/images/messages", bqio.Publish{Key: "a.jpg"})
		require.Equal(t, http.StatusOK, status)

		_, response := doRequest(t, http.MethodGet, server.URL+"/topics/images/subscribers/thumbnail", nil)
		var messages bqio.ResponseMessages
		require.NoError(t, json.Unmarshal(response.Data, &messages))
		require.Len(t, messages, 1)

		status, _ = doRequest(t, http.MethodPost,
			server.URL+"/topics/images/subscribers/thumbnail/messages/"+messages[0].ReceiptHandle+"/release", nil)
		require.Equal(t, http.StatusOK, status)

		status, response = doRequest(t, http.MethodGet, server.URL+"/topics/images/subscribers/thumbnail/dead-letters", nil)
		require.Equal(t, http.StatusOK, status)

		var dead bqio.ResponseMessages
		require.NoError(t, json.Unmarshal(response.Data, &dead))
		require.Len(t, dead, 1)
		require.Equal(t, messages[0].Id, dead[0].Id)

		status, _ = doRequest(t, http.MethodGet, server.URL+"/topics/images/subscribers/thumbnail?max=11", nil)
		require.Equal(t, http.StatusBadRequest, status)

		status, _ = doRequest(t, http.MethodGet, server.URL+"/topics/images/subscribers/missing", nil)
		require.Equal(t, http.StatusNotFound, status)

		status, _ = doRequest(t, http.MethodDelete, server.URL+"/topics/images/subscribers/thumbnail", nil)
		require.Equal(t, http.StatusOK, status)

		status, _ = doRequest(t, http.MethodDelete, server.URL+"/topics/images/subscribers/thumbnail", nil)
		require.Equal(t, http.StatusNotFound, status)
	})
}

func TestHttpSourceEvents(t *testing.T) {
	runHttpTest(t, func(server *httptest.Server) {
		status, _ := doRequest(t, http.MethodPost, server.URL+"/topics", bqio.Topic{
			Name:        "images",
			Subscribers: bqio.Subscribers{{Name: "thumbnail"}},
		})
		require.Equal(t, http.StatusOK, status)

		status, response := doRequest(t, http.MethodPost, server.URL+"/sources/uploads/events", `{"Records":[
			{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"input"},"object":{"key":"cat.gif","size":10}}},
			{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"input"},"object":{"key":"cat.jpg","size":10}}}
		]}`)
		require.Equal(t, http.StatusOK, status)

		var result sourceResult
		require.NoError(t, json.Unmarshal(response.Data, &result))
		require.Equal(t, sourceResult{Published: 1, Filtered: 1}, result)

		_, response = doRequest(t, http.MethodGet, server.URL+"/topics/images/subscribers/thumbnail?max=10", nil)
		var messages bqio.ResponseMessages
		require.NoError(t, json.Unmarshal(response.Data, &messages))
		require.Len(t, messages, 1)
		require.Contains(t, messages[0].Body, "cat.jpg")

		status, _ = doRequest(t, http.MethodPost, server.URL+"/sources/uploads/events", `{"unexpected":true}`)
		require.Equal(t, http.StatusBadRequest, status)

		status, _ = doRequest(t, http.MethodPost, server.URL+"/sources/missing/events", `{"key":"a.jpg"}`)
		require.Equal(t, http.StatusNotFound, status)
	})
}

func TestHttpMetrics(t *testing.T) {
	runHttpTest(t, func(server *httptest.Server) {
		resp, err := http.Get(server.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body bytes.Buffer
		_, err = body.ReadFrom(resp.Body)
		require.NoError(t, err)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.True(t, strings.Contains(body.String(), "go_goroutines"))
	})
}
