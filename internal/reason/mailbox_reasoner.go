package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/newsroom-ai/newsroom/internal/mailbox"
)

// MailboxReasoner routes reasoning calls through a mailbox transport. Each
// call is a fresh request document with its own id, so several calls within
// one task never collide.
type MailboxReasoner struct {
	transport mailbox.Transport
	timeout   time.Duration
}

// NewMailboxReasoner wraps a transport with a per-call response timeout.
func NewMailboxReasoner(transport mailbox.Transport, timeout time.Duration) *MailboxReasoner {
	return &MailboxReasoner{transport: transport, timeout: timeout}
}

// Reason sends the request and blocks for the structured result.
func (r *MailboxReasoner) Reason(ctx context.Context, req *Request) (*Result, error) {
	params, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reasoning request: %w", err)
	}

	mreq := &mailbox.Request{
		RequestID: uuid.NewString(),
		Task:      string(req.TaskType),
		TaskID:    req.TaskID,
		Params:    params,
		CreatedBy: req.AgentName,
	}
	if err := r.transport.Send(mreq); err != nil {
		return nil, fmt.Errorf("failed to send reasoning request: %w", err)
	}

	resp, err := r.transport.Await(ctx, mreq.RequestID, r.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("reasoner error: %s", resp.Error)
	}

	var result Result
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("malformed reasoning result: %w", err)
		}
	}
	return &result, nil
}
