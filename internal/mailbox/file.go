package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileTransport exchanges JSON documents through a directory pair: one
// document per pending request under queue/, one per completion under
// responses/. Response files are consumed then deleted.
type FileTransport struct {
	queueDir     string
	responsesDir string
	pollInterval time.Duration
}

// NewFileTransport creates the queue and responses directories under dir.
func NewFileTransport(dir string) (*FileTransport, error) {
	t := &FileTransport{
		queueDir:     filepath.Join(dir, "queue"),
		responsesDir: filepath.Join(dir, "responses"),
		pollInterval: 500 * time.Millisecond,
	}

	for _, d := range []string{t.queueDir, t.responsesDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create mailbox dir: %w", err)
		}
	}

	return t, nil
}

// Send writes the request document to the queue directory. The write goes
// through a temp file and rename so consumers never see partial JSON.
func (t *FileTransport) Send(req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	final := filepath.Join(t.queueDir, req.RequestID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}

	return nil
}

// Await polls the responses directory for the request's response document,
// consuming and deleting it once found.
func (t *FileTransport) Await(ctx context.Context, requestID string, timeout time.Duration) (*Response, error) {
	deadline := time.Now().Add(timeout)
	path := filepath.Join(t.responsesDir, requestID+".json")

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		data, err := os.ReadFile(path)
		if err == nil {
			_ = os.Remove(path)
			var resp Response
			if err := json.Unmarshal(data, &resp); err != nil {
				return nil, fmt.Errorf("malformed response document: %w", err)
			}
			return &resp, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PendingRequests lists the request documents waiting in the queue. Used
// by the collaborator side of the channel.
func (t *FileTransport) PendingRequests() ([]*Request, error) {
	entries, err := os.ReadDir(t.queueDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue dir: %w", err)
	}

	var requests []*Request
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(t.queueDir, entry.Name()))
		if err != nil {
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		requests = append(requests, &req)
	}

	return requests, nil
}

// Respond writes a response document and removes the matching request from
// the queue. Used by the collaborator side of the channel.
func (t *FileTransport) Respond(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	final := filepath.Join(t.responsesDir, resp.RequestID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to publish response: %w", err)
	}

	_ = os.Remove(filepath.Join(t.queueDir, resp.RequestID+".json"))
	return nil
}
