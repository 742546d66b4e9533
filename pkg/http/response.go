package http

import (
	"encoding/json"
	"net/http"
)

const (
	MessageFailure  string = "failure"
	MessageNotFound string = "not found"
	MessageSuccess  string = "success"
)

type Response struct {
	Message  string      `json:"message"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Metadata interface{} `json:"metadata,omitempty"`
}

func Write(w http.ResponseWriter, httpcode int, r *Response) {
	js, _ := json.Marshal(r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpcode)
	w.Write(js)
}

// Failure writes err with the generic failure message.
func Failure(w http.ResponseWriter, httpcode int, err error) {
	Write(w, httpcode, &Response{
		Error:   err.Error(),
		Message: MessageFailure,
	})
}
