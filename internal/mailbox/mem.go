package mailbox

import (
	"context"
	"sync"
	"time"
)

// MemTransport is an in-memory Transport backed by a handler function.
// It exists so runtimes can be exercised without a filesystem mailbox.
type MemTransport struct {
	handler func(*Request) *Response

	mu      sync.Mutex
	waiting map[string]chan *Response
}

// NewMemTransport creates a MemTransport. Each Send invokes the handler on
// its own goroutine and delivers the result to the matching Await.
func NewMemTransport(handler func(*Request) *Response) *MemTransport {
	return &MemTransport{
		handler: handler,
		waiting: make(map[string]chan *Response),
	}
}

// Send delivers a request to the handler.
func (t *MemTransport) Send(req *Request) error {
	ch := t.channelFor(req.RequestID)
	go func() {
		resp := t.handler(req)
		if resp == nil {
			return // Simulates a collaborator that never answers.
		}
		resp.RequestID = req.RequestID
		ch <- resp
	}()
	return nil
}

// Await waits for the handler's response.
func (t *MemTransport) Await(ctx context.Context, requestID string, timeout time.Duration) (*Response, error) {
	ch := t.channelFor(requestID)
	defer t.forget(requestID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *MemTransport) channelFor(requestID string) chan *Response {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.waiting[requestID]
	if !ok {
		ch = make(chan *Response, 1)
		t.waiting[requestID] = ch
	}
	return ch
}

func (t *MemTransport) forget(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.waiting, requestID)
}
