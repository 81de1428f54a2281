// Package mailbox is the handoff channel between an agent runtime and its
// reasoning collaborator. The runtime depends only on "send request, await
// response with timeout"; the mechanism behind the Transport interface can
// be a directory of JSON files or an in-memory channel.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Request is the document handed to the reasoning collaborator. RequestID
// distinguishes multiple calls made within one task.
type Request struct {
	RequestID string          `json:"request_id"`
	Task      string          `json:"task"`
	TaskID    string          `json:"task_id"`
	Params    json.RawMessage `json:"params"`
	CreatedBy string          `json:"created_by"`
}

// Response is the document the collaborator hands back.
type Response struct {
	RequestID   string          `json:"request_id"`
	TaskID      string          `json:"task_id,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	BudgetUsage json.RawMessage `json:"budget_usage,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// ErrTimeout is returned when no response arrives within the window.
var ErrTimeout = errors.New("mailbox: response timeout")

// Transport delivers requests and awaits responses.
type Transport interface {
	// Send delivers a request document.
	Send(req *Request) error

	// Await blocks until the response for the request id arrives, the
	// timeout elapses (ErrTimeout), or the context is done.
	Await(ctx context.Context, requestID string, timeout time.Duration) (*Response, error)
}
