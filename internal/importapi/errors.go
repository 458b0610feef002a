package importapi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TransportError reports a failed import service call: a request that
// could not be sent, a non-2xx response, or an undecodable body.
type TransportError struct {
	// Op names the operation, e.g. "create job".
	Op string

	// StatusCode is zero when no response was received.
	StatusCode int

	// Body is the raw response body, when one was read.
	Body string

	Err error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("import service: ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if msg := ServiceMessage(e.Body); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Message is the best available human-readable reason: the service's
// error.message, else the raw body, else the underlying error.
func (e *TransportError) Message() string {
	if msg := ServiceMessage(e.Body); msg != "" {
		return msg
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		return body
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	}
	return e.Op + " failed"
}

// ServiceMessage extracts error.message from a JSON error body. It returns
// "" when the body has no such field.
func ServiceMessage(body string) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}
