package types

import "time"

// ContentItem is a row deposited by an external scraper collaborator.
// The proactive monitor aggregates over these for its anomaly baselines.
type ContentItem struct {
	ID          int64     `json:"id"`
	Source      string    `json:"source"`   // e.g. "hackernews", "github", "rss"
	Category    string    `json:"category"` // e.g. "ai", "security", "infra"
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Sentiment   float64   `json:"sentiment"` // -1.0 .. 1.0
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Finding is a conclusion an agent drew from the content window.
type Finding struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AgentName string    `json:"agent_name"`
	Category  string    `json:"category"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// PredictionStatus represents the lifecycle of a falsifiable claim.
// A prediction is proposed, may be flagged by monitoring, and reaches a
// verdict only through an explicit external decision - never automatically.
type PredictionStatus string

const (
	PredictionOpen             PredictionStatus = "open"
	PredictionFlagged          PredictionStatus = "flagged"
	PredictionConfirmed        PredictionStatus = "confirmed"
	PredictionRefuted          PredictionStatus = "refuted"
	PredictionPartiallyCorrect PredictionStatus = "partially_correct"
	PredictionFaded            PredictionStatus = "faded"
	PredictionExpired          PredictionStatus = "expired"
)

// Terminal reports whether the status is a final verdict.
func (s PredictionStatus) Terminal() bool {
	switch s {
	case PredictionConfirmed, PredictionRefuted, PredictionPartiallyCorrect,
		PredictionFaded, PredictionExpired:
		return true
	}
	return false
}

// Prediction is a falsifiable claim extracted from agent output.
type Prediction struct {
	ID         string           `json:"id"`
	TaskID     string           `json:"task_id"`
	AgentName  string           `json:"agent_name"`
	Claim      string           `json:"claim"`
	Status     PredictionStatus `json:"status"`
	Verdict    string           `json:"verdict,omitempty"` // Reader-facing note set at resolution
	Horizon    *time.Time       `json:"horizon,omitempty"` // When the claim should be checkable
	CreatedAt  time.Time        `json:"created_at"`
	FlaggedAt  *time.Time       `json:"flagged_at,omitempty"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}

// AnomalyType classifies a detected metric deviation.
type AnomalyType string

const (
	AnomalyFrequencySpike AnomalyType = "frequency_spike"
	AnomalySentimentDrop  AnomalyType = "sentiment_drop"
	AnomalyVolumeShift    AnomalyType = "volume_shift"
)

// Anomaly is an ephemeral deviation of a monitored metric from its rolling
// baseline. It is never persisted on its own; significant ones become the
// input payload of a proactive_analysis task.
type Anomaly struct {
	Type        AnomalyType        `json:"type"`
	Category    string             `json:"category,omitempty"`
	Description string             `json:"description"`
	Metrics     map[string]float64 `json:"metrics"`
}
