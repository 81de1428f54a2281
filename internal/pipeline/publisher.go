package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Issue is the published artifact of one cycle.
type Issue struct {
	Date        string          `json:"date"`
	GeneratedAt time.Time       `json:"generated_at"`
	Assembly    json.RawMessage `json:"assembly,omitempty"`
	Degraded    bool            `json:"degraded,omitempty"`
	Notes       []string        `json:"notes,omitempty"`
}

// Publisher lands a finished issue somewhere durable.
type Publisher interface {
	Publish(issue *Issue) (string, error)
}

// DirPublisher writes issues as JSON documents into a directory.
type DirPublisher struct {
	dir string
}

// NewDirPublisher creates a DirPublisher over the output directory.
func NewDirPublisher(dir string) (*DirPublisher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create issue dir: %w", err)
	}
	return &DirPublisher{dir: dir}, nil
}

// Publish writes the issue and returns its path. The write goes through a
// temp file and rename so readers never see a partial issue.
func (p *DirPublisher) Publish(issue *Issue) (string, error) {
	data, err := json.MarshalIndent(issue, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal issue: %w", err)
	}

	final := filepath.Join(p.dir, fmt.Sprintf("issue-%s.json", issue.Date))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write issue: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("failed to publish issue: %w", err)
	}

	return final, nil
}
