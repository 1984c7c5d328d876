package transport

import (
	"encoding/json"
	"net/http"
	"time"
)

// Envelope is the uniform response body: {code, message, data, timestamp}.
// Data is always present and serialises as null when empty.
type Envelope struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// NewSuccess returns a success envelope with code 200.
func NewSuccess(data interface{}) Envelope {
	return Envelope{
		Code:      http.StatusOK,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewError returns an error envelope for the given HTTP status.
func NewError(code int, message string) Envelope {
	return Envelope{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Unauthorized is the body returned when a protected route is reached
// without a valid login.
func Unauthorized() Envelope {
	return NewError(http.StatusUnauthorized, "authentication required, please log in")
}

// Forbidden is the body returned when the principal lacks the role.
func Forbidden() Envelope {
	return NewError(http.StatusForbidden, "access denied")
}

// Bytes returns the JSON representation; marshal failures collapse to a
// minimal error body.
func (e Envelope) Bytes() []byte {
	out, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"code":500,"message":"internal error","data":null,"timestamp":0}`)
	}
	return out
}
