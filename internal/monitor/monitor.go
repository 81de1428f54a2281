// Package monitor runs the proactive scan: it aggregates the recent content
// window against a rolling baseline, detects metric anomalies and enqueues
// at most one proactive_analysis task per scan. Detection is cheap math
// over store aggregates; no reasoning call is ever spent here.
package monitor

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/newsroom-ai/newsroom/internal/budget"
	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Monitor is the proactive anomaly scanner.
type Monitor struct {
	source      config.Source
	content     *store.ContentStore
	predictions *store.PredictionStore
	tasks       *store.TaskStore
	governor    *budget.Governor
	now         func() time.Time

	mu          sync.Mutex
	lastEnqueue time.Time
}

// NewMonitor creates a Monitor.
func NewMonitor(source config.Source, content *store.ContentStore, predictions *store.PredictionStore, tasks *store.TaskStore, governor *budget.Governor) *Monitor {
	return &Monitor{
		source:      source,
		content:     content,
		predictions: predictions,
		tasks:       tasks,
		governor:    governor,
		now:         time.Now,
	}
}

// SetNow overrides the clock for testing.
func (m *Monitor) SetNow(now func() time.Time) {
	m.now = now
}

// Scan runs one monitoring pass. It flags overdue predictions, then checks
// the alert gates (daily quota, cooldown) before spending anything on
// detection; when anomalies surface, one proactive_analysis task is
// enqueued on the analyst's queue. Returns the enqueued task id, or ""
// when nothing warranted attention.
func (m *Monitor) Scan() (string, error) {
	cfg := m.source.Config().Monitor
	if !cfg.Enabled {
		return "", nil
	}

	if n, err := m.FlagExpiredPredictions(); err != nil {
		log.Printf("Prediction flagging failed: %v", err)
	} else if n > 0 {
		log.Printf("Flagged %d predictions past horizon", n)
	}

	ok, err := m.governor.AlertQuotaOK()
	if err != nil {
		return "", err
	}
	if !ok {
		log.Printf("Monitor scan skipped: daily alert quota reached")
		return "", nil
	}

	cooldown := time.Duration(cfg.CooldownMin) * time.Minute
	if anchor := m.cooldownAnchor(); !anchor.IsZero() && m.now().Sub(anchor) < cooldown {
		log.Printf("Monitor scan skipped: cooldown active since %s", anchor.Format(time.RFC3339))
		return "", nil
	}

	anomalies, err := m.DetectAnomalies()
	if err != nil {
		return "", err
	}
	if len(anomalies) == 0 {
		return "", nil
	}

	taskID, err := m.enqueueAnalysis(anomalies)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.lastEnqueue = m.now()
	m.mu.Unlock()

	log.Printf("Monitor enqueued proactive analysis %s (%d anomalies)", taskID, len(anomalies))
	return taskID, nil
}

// cooldownAnchor is the time of the last proactive enqueue. The in-memory
// timestamp covers the common case; after a restart the newest
// proactive_analysis task's created_at stands in, so the cooldown
// survives the process.
func (m *Monitor) cooldownAnchor() time.Time {
	m.mu.Lock()
	last := m.lastEnqueue
	m.mu.Unlock()
	if !last.IsZero() {
		return last
	}

	created, err := m.tasks.LatestCreated(types.TaskProactiveAnalysis)
	if err != nil {
		log.Printf("Monitor cooldown lookup failed: %v", err)
		return time.Time{}
	}
	return created
}

// DetectAnomalies compares the current content window against the rolling
// baseline. With fewer baseline items than the configured minimum, it
// degrades to no anomalies rather than guessing from thin history.
func (m *Monitor) DetectAnomalies() ([]types.Anomaly, error) {
	cfg := m.source.Config().Monitor
	now := m.now().UTC()

	window := time.Duration(cfg.WindowHours) * time.Hour
	windowStart := now.Add(-window)
	baselineStart := now.Add(-time.Duration(cfg.BaselineDays) * 24 * time.Hour)

	baselineCount, err := m.content.CountBetween(baselineStart, windowStart)
	if err != nil {
		return nil, err
	}
	if baselineCount < cfg.MinBaselineItems {
		return nil, nil
	}

	// Baseline metrics are normalized to per-window values so the ratios
	// compare like with like.
	baselineWindows := windowStart.Sub(baselineStart).Hours() / window.Hours()
	if baselineWindows < 1 {
		return nil, nil
	}

	var anomalies []types.Anomaly

	currentCounts, err := m.content.CategoryCounts(windowStart, now)
	if err != nil {
		return nil, err
	}
	baselineCounts, err := m.content.CategoryCounts(baselineStart, windowStart)
	if err != nil {
		return nil, err
	}

	for category, current := range currentCounts {
		baselineAvg := float64(baselineCounts[category]) / baselineWindows
		if baselineAvg <= 0 {
			continue
		}
		ratio := float64(current) / baselineAvg
		if ratio >= cfg.FrequencySpikeRatio {
			anomalies = append(anomalies, types.Anomaly{
				Type:     types.AnomalyFrequencySpike,
				Category: category,
				Description: fmt.Sprintf("category %q at %.1fx its baseline rate (%d items in the window)",
					category, ratio, current),
				Metrics: map[string]float64{
					"current_count": float64(current),
					"baseline_avg":  baselineAvg,
					"ratio":         ratio,
				},
			})
		}
	}

	currentAvg, currentN, err := m.content.AvgSentiment(windowStart, now)
	if err != nil {
		return nil, err
	}
	baselineAvg, _, err := m.content.AvgSentiment(baselineStart, windowStart)
	if err != nil {
		return nil, err
	}
	if currentN > 0 {
		drop := baselineAvg - currentAvg
		if drop >= cfg.SentimentDropThreshold {
			anomalies = append(anomalies, types.Anomaly{
				Type: types.AnomalySentimentDrop,
				Description: fmt.Sprintf("mean sentiment dropped %.2f below baseline (%.2f -> %.2f)",
					drop, baselineAvg, currentAvg),
				Metrics: map[string]float64{
					"current_avg":  currentAvg,
					"baseline_avg": baselineAvg,
					"drop":         drop,
				},
			})
		}
	}

	currentTotal, err := m.content.CountBetween(windowStart, now)
	if err != nil {
		return nil, err
	}
	baselinePerWindow := float64(baselineCount) / baselineWindows
	if baselinePerWindow > 0 {
		ratio := float64(currentTotal) / baselinePerWindow
		if ratio >= cfg.VolumeRatioHigh || ratio <= cfg.VolumeRatioLow {
			anomalies = append(anomalies, types.Anomaly{
				Type: types.AnomalyVolumeShift,
				Description: fmt.Sprintf("overall volume at %.2fx baseline (%d items in the window)",
					ratio, currentTotal),
				Metrics: map[string]float64{
					"current_count": float64(currentTotal),
					"baseline_avg":  baselinePerWindow,
					"ratio":         ratio,
				},
			})
		}
	}

	return anomalies, nil
}

// FlagExpiredPredictions flags open predictions whose horizon has passed.
// Flagging queues them for an operator verdict; it never resolves.
func (m *Monitor) FlagExpiredPredictions() (int, error) {
	overdue, err := m.predictions.ListPastHorizon(m.now().UTC())
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, p := range overdue {
		applied, err := m.predictions.Flag(p.ID)
		if err != nil {
			return flagged, err
		}
		if applied {
			flagged++
		}
	}
	return flagged, nil
}

func (m *Monitor) enqueueAnalysis(anomalies []types.Anomaly) (string, error) {
	input, err := json.Marshal(map[string]interface{}{
		"anomalies": anomalies,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal anomalies: %w", err)
	}

	assignee := m.analysisAgent()
	if assignee == "" {
		return "", fmt.Errorf("no agent handles %s", types.TaskProactiveAnalysis)
	}

	return m.tasks.Create(&types.Task{
		Type:       types.TaskProactiveAnalysis,
		AssignedTo: assignee,
		CreatedBy:  "monitor",
		Priority:   2,
		Input:      input,
	})
}

func (m *Monitor) analysisAgent() string {
	for _, agent := range m.source.Config().Agents {
		if agent.Handles(types.TaskProactiveAnalysis) {
			return agent.Name
		}
	}
	return ""
}
