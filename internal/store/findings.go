package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

// FindingStore handles agent findings.
type FindingStore struct {
	store *Store
}

// NewFindingStore creates a new FindingStore.
func NewFindingStore(store *Store) *FindingStore {
	return &FindingStore{store: store}
}

// Create inserts a finding.
func (fs *FindingStore) Create(f *types.Finding) error {
	fs.store.mu.Lock()
	defer fs.store.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	_, err := fs.store.db.Exec(`
		INSERT INTO findings (id, task_id, agent_name, category, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		f.ID, f.TaskID, f.AgentName, f.Category, f.Summary,
		f.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create finding: %w", err)
	}

	return nil
}

// ListRecent returns the newest findings.
func (fs *FindingStore) ListRecent(limit int) ([]*types.Finding, error) {
	fs.store.mu.RLock()
	defer fs.store.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := fs.store.db.Query(`
		SELECT id, task_id, agent_name, category, summary, created_at
		FROM findings ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []*types.Finding
	for rows.Next() {
		var f types.Finding
		var category sql.NullString
		var createdAt string
		if err := rows.Scan(&f.ID, &f.TaskID, &f.AgentName, &category, &f.Summary, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		if category.Valid {
			f.Category = category.String
		}
		f.CreatedAt = parseTimestamp(createdAt)
		findings = append(findings, &f)
	}

	return findings, rows.Err()
}

// PredictionStore handles falsifiable claims extracted from agent output.
// The state machine is propose -> monitor -> resolve: monitoring may flag a
// prediction, but only an explicit external verdict closes it.
type PredictionStore struct {
	store *Store
}

// NewPredictionStore creates a new PredictionStore.
func NewPredictionStore(store *Store) *PredictionStore {
	return &PredictionStore{store: store}
}

// Create inserts an open prediction.
func (ps *PredictionStore) Create(p *types.Prediction) error {
	ps.store.mu.Lock()
	defer ps.store.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = types.PredictionOpen
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	var horizon interface{}
	if p.Horizon != nil {
		horizon = p.Horizon.UTC().Format(timeLayout)
	}

	_, err := ps.store.db.Exec(`
		INSERT INTO predictions (id, task_id, agent_name, claim, status, horizon, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.TaskID, p.AgentName, p.Claim, string(p.Status),
		horizon, p.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create prediction: %w", err)
	}

	return nil
}

// Get retrieves a prediction by ID. Returns (nil, nil) if absent.
func (ps *PredictionStore) Get(id string) (*types.Prediction, error) {
	ps.store.mu.RLock()
	defer ps.store.mu.RUnlock()

	row := ps.store.db.QueryRow(`
		SELECT id, task_id, agent_name, claim, status, verdict, horizon, created_at, flagged_at, resolved_at
		FROM predictions WHERE id = ?
	`, id)

	p, err := scanPrediction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan prediction: %w", err)
	}
	return p, nil
}

// Flag marks an open prediction as flagged for review. A no-op if the
// prediction is not open; flagging never resolves.
func (ps *PredictionStore) Flag(id string) (bool, error) {
	ps.store.mu.Lock()
	defer ps.store.mu.Unlock()

	result, err := ps.store.db.Exec(`
		UPDATE predictions SET status = 'flagged', flagged_at = ?
		WHERE id = ? AND status = 'open'
	`, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return false, fmt.Errorf("failed to flag prediction: %w", err)
	}

	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Resolve records an explicit verdict on an open or flagged prediction.
// The verdict must be a terminal status; resolution is never automatic.
func (ps *PredictionStore) Resolve(id string, verdict types.PredictionStatus, note string) error {
	if !verdict.Terminal() {
		return fmt.Errorf("invalid verdict: %s", verdict)
	}

	ps.store.mu.Lock()
	defer ps.store.mu.Unlock()

	result, err := ps.store.db.Exec(`
		UPDATE predictions SET status = ?, verdict = ?, resolved_at = ?
		WHERE id = ? AND status IN ('open', 'flagged')
	`, string(verdict), note, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to resolve prediction: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("prediction not resolvable: %s", id)
	}

	return nil
}

// ListOpen returns predictions awaiting a verdict.
func (ps *PredictionStore) ListOpen() ([]*types.Prediction, error) {
	ps.store.mu.RLock()
	defer ps.store.mu.RUnlock()

	rows, err := ps.store.db.Query(`
		SELECT id, task_id, agent_name, claim, status, verdict, horizon, created_at, flagged_at, resolved_at
		FROM predictions WHERE status IN ('open', 'flagged')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []*types.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

// ListPastHorizon returns open predictions whose horizon has passed; the
// monitor flags these for an operator verdict.
func (ps *PredictionStore) ListPastHorizon(now time.Time) ([]*types.Prediction, error) {
	ps.store.mu.RLock()
	defer ps.store.mu.RUnlock()

	rows, err := ps.store.db.Query(`
		SELECT id, task_id, agent_name, claim, status, verdict, horizon, created_at, flagged_at, resolved_at
		FROM predictions WHERE status = 'open' AND horizon IS NOT NULL AND horizon < ?
	`, now.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []*types.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		predictions = append(predictions, p)
	}

	return predictions, rows.Err()
}

func scanPrediction(row scanner) (*types.Prediction, error) {
	var p types.Prediction
	var status string
	var verdict sql.NullString
	var horizon, flaggedAt, resolvedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&p.ID, &p.TaskID, &p.AgentName, &p.Claim, &status,
		&verdict, &horizon, &createdAt, &flaggedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = types.PredictionStatus(status)
	if verdict.Valid {
		p.Verdict = verdict.String
	}
	p.CreatedAt = parseTimestamp(createdAt)
	if t, ok := parseNullTimestamp(horizon); ok {
		p.Horizon = &t
	}
	if t, ok := parseNullTimestamp(flaggedAt); ok {
		p.FlaggedAt = &t
	}
	if t, ok := parseNullTimestamp(resolvedAt); ok {
		p.ResolvedAt = &t
	}

	return &p, nil
}
