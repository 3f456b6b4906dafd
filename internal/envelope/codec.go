package envelope

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ParsedError is the body of a failed HTTP response: either a JSON object or
// something that could not be parsed as one.
type ParsedError interface {
	Message() string
	parsedError()
}

// JSONError is a failure response whose body is a JSON object.
type JSONError struct {
	StatusCode int
	StatusText string
	Body       map[string]any
}

// Message prefers data.message, then message, then detail, then the status line.
func (e JSONError) Message() string {
	if data, ok := e.Body["data"].(map[string]any); ok {
		if msg, ok := data["message"].(string); ok && msg != "" {
			return msg
		}
	}
	for _, key := range []string{"message", "detail"} {
		if msg, ok := e.Body[key].(string); ok && msg != "" {
			return msg
		}
	}
	return statusLine(e.StatusCode, e.StatusText)
}

func (JSONError) parsedError() {}

// UnparseableError is a failure response whose body is not a JSON object.
type UnparseableError struct {
	StatusCode int
	StatusText string
}

func (e UnparseableError) Message() string {
	return statusLine(e.StatusCode, e.StatusText)
}

func (UnparseableError) parsedError() {}

// ParseError classifies the body of a failed response.
func ParseError(statusCode int, body []byte) ParsedError {
	text := http.StatusText(statusCode)

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return UnparseableError{StatusCode: statusCode, StatusText: text}
	}
	return JSONError{StatusCode: statusCode, StatusText: text, Body: obj}
}

// Decode normalizes an HTTP response. A 200 body is the backend's own envelope and
// is passed through; anything else becomes a failure with the best message available.
func Decode(statusCode int, body []byte) Raw {
	if statusCode == http.StatusOK {
		var env Raw
		if err := json.Unmarshal(body, &env); err != nil {
			return Failure(InvalidBodyMessage)
		}
		if !env.Status && env.Message == "" {
			env.Message = unknownMessage
		}
		if !env.Status {
			env.Data = nil
		}
		return env
	}
	return Failure(ParseError(statusCode, body).Message())
}

// DecodeTransportError maps a network level failure (DNS, refused connection,
// timeout) to an envelope.
func DecodeTransportError(err error) Raw {
	return Failure(fmt.Sprintf("There was an error connecting to server. (%v)", err))
}

func statusLine(code int, text string) string {
	if text == "" {
		return fmt.Sprintf("%d", code)
	}
	return strings.TrimSpace(fmt.Sprintf("%d %s", code, text))
}
