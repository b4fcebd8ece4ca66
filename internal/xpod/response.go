package xpod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Result values.
const (
	ResultOK        = "ok"
	ResultException = "exception"
)

// Exception classes.
const (
	ClassNonExistentExternalShare = "NonExistentExternalShare"
	ClassFailedRequest            = "FailedCrossPodRequestError"
)

// ErrNonExistentExternalShare reports that the other pod no longer knows
// the share a request referred to.
var ErrNonExistentExternalShare = errors.New("non-existent external share")

// ErrFailedRequest is matched by every error a remote pod reported.
var ErrFailedRequest = errors.New("failed cross-pod request")

// RemoteError is an exception response turned back into an error.
type RemoteError struct {
	Class   string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("cross-pod %s: %s", e.Class, e.Message)
}

// Is matches ErrFailedRequest, and ErrNonExistentExternalShare for that
// class.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrFailedRequest:
		return true
	case ErrNonExistentExternalShare:
		return e.Class == ClassNonExistentExternalShare
	}
	return false
}

// IsNonExistentExternalShare reports whether err says the share is gone
// on the other pod.
func IsNonExistentExternalShare(err error) bool {
	return errors.Is(err, ErrNonExistentExternalShare)
}

// Response is a decoded reply.
type Response struct {
	Result  string          `json:"result"`
	Value   json.RawMessage `json:"value,omitempty"`
	Class   string          `json:"class,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OK builds a success response. A nil value is left out.
func OK(value any) (*Response, error) {
	r := &Response{Result: ResultOK}
	if value == nil {
		return r, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	r.Value = raw
	return r, nil
}

// Exception builds an exception response for err.
func Exception(err error) *Response {
	class := ClassFailedRequest
	if IsNonExistentExternalShare(err) {
		class = ClassNonExistentExternalShare
	}
	return &Response{Result: ResultException, Class: class, Message: err.Error()}
}

// Err returns the error an exception response carries, or nil.
func (r *Response) Err() error {
	switch r.Result {
	case ResultOK:
		return nil
	case ResultException:
		return &RemoteError{Class: r.Class, Message: r.Message}
	default:
		return &RemoteError{Class: ClassFailedRequest, Message: fmt.Sprintf("unexpected result %q", r.Result)}
	}
}

// Conduit sends a message to a pod.
type Conduit interface {
	Send(ctx context.Context, pod string, m Message) (*Response, error)
}

// Handler processes a decoded message and returns the response value.
type Handler interface {
	Handle(ctx context.Context, m Message) (any, error)
}

// Call sends m and decodes the response value into out, which may be nil.
// Exception responses come back as *RemoteError.
func Call(ctx context.Context, c Conduit, pod string, m Message, out any) error {
	resp, err := c.Send(ctx, pod, m)
	if err != nil {
		return fmt.Errorf("%s to %s: %w", m.ActionName(), pod, err)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil || len(resp.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Value, out); err != nil {
		return fmt.Errorf("%s to %s: decode result: %w", m.ActionName(), pod, err)
	}
	return nil
}

// Dispatch decodes body and hands it to h. Failures of any kind become
// exception responses; ping is answered without h.
func Dispatch(ctx context.Context, h Handler, body []byte) *Response {
	m, err := Decode(body)
	if err != nil {
		return Exception(err)
	}
	if _, ok := m.(*Ping); ok {
		return &Response{Result: ResultOK}
	}
	value, err := h.Handle(ctx, m)
	if err != nil {
		return Exception(err)
	}
	resp, err := OK(value)
	if err != nil {
		return Exception(err)
	}
	return resp
}
