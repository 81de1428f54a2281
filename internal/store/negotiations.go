package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

// NegotiationStore handles negotiation persistence.
type NegotiationStore struct {
	store *Store
}

// NewNegotiationStore creates a new NegotiationStore.
func NewNegotiationStore(store *Store) *NegotiationStore {
	return &NegotiationStore{store: store}
}

const negotiationColumns = `
	id, requesting_agent, responding_agent, status, round,
	request_task_id, request_summary, quality_criteria,
	response_task_id, criteria_met, response_summary,
	needed_by, created_at, closed_at
`

// Create inserts a new open negotiation.
func (ns *NegotiationStore) Create(n *types.Negotiation) error {
	ns.store.mu.Lock()
	defer ns.store.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = types.NegotiationOpen
	}
	if n.Round == 0 {
		n.Round = 1
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	var neededBy interface{}
	if n.NeededBy != nil {
		neededBy = n.NeededBy.UTC().Format(timeLayout)
	}

	_, err := ns.store.db.Exec(`
		INSERT INTO negotiations (
			id, requesting_agent, responding_agent, status, round,
			request_task_id, request_summary, quality_criteria, needed_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID,
		n.RequestingAgent,
		n.RespondingAgent,
		string(n.Status),
		n.Round,
		n.RequestTaskID,
		n.RequestSummary,
		n.QualityCriteria,
		neededBy,
		n.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create negotiation: %w", err)
	}

	return nil
}

// Get retrieves a negotiation by ID. Returns (nil, nil) if absent.
func (ns *NegotiationStore) Get(id string) (*types.Negotiation, error) {
	ns.store.mu.RLock()
	defer ns.store.mu.RUnlock()

	row := ns.store.db.QueryRow(
		`SELECT `+negotiationColumns+` FROM negotiations WHERE id = ?`, id)

	n, err := scanNegotiation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan negotiation: %w", err)
	}
	return n, nil
}

// Update updates an existing negotiation.
func (ns *NegotiationStore) Update(id string, update *types.NegotiationUpdate) error {
	ns.store.mu.Lock()
	defer ns.store.mu.Unlock()

	var setClauses []string
	var args []interface{}

	if update.Status != nil {
		setClauses = append(setClauses, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Round != nil {
		setClauses = append(setClauses, "round = ?")
		args = append(args, *update.Round)
	}
	if update.ResponseTaskID != nil {
		setClauses = append(setClauses, "response_task_id = ?")
		args = append(args, *update.ResponseTaskID)
	}
	if update.CriteriaMet != nil {
		setClauses = append(setClauses, "criteria_met = ?")
		args = append(args, boolToInt(*update.CriteriaMet))
	}
	if update.ResponseSummary != nil {
		setClauses = append(setClauses, "response_summary = ?")
		args = append(args, *update.ResponseSummary)
	}
	if update.ClosedAt != nil {
		setClauses = append(setClauses, "closed_at = ?")
		args = append(args, update.ClosedAt.UTC().Format(timeLayout))
	}

	if len(setClauses) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE negotiations SET %s WHERE id = ?",
		strings.Join(setClauses, ", "))

	result, err := ns.store.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update negotiation: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("negotiation not found: %s", id)
	}

	return nil
}

// CountActiveByRequester counts open/follow_up negotiations for an agent.
func (ns *NegotiationStore) CountActiveByRequester(agentName string) (int, error) {
	ns.store.mu.RLock()
	defer ns.store.mu.RUnlock()

	var count int
	err := ns.store.db.QueryRow(`
		SELECT COUNT(*) FROM negotiations
		WHERE requesting_agent = ? AND status IN ('open', 'follow_up')
	`, agentName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count negotiations: %w", err)
	}
	return count, nil
}

// SweepTimeouts transitions any active negotiation created before the
// cutoff to timed_out, stamping closed_at. Returns how many were swept.
func (ns *NegotiationStore) SweepTimeouts(cutoff time.Time, now time.Time) (int, error) {
	ns.store.mu.Lock()
	defer ns.store.mu.Unlock()

	result, err := ns.store.db.Exec(`
		UPDATE negotiations SET status = 'timed_out', closed_at = ?
		WHERE status IN ('open', 'follow_up') AND created_at < ?
	`,
		now.UTC().Format(timeLayout),
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep negotiations: %w", err)
	}

	n, _ := result.RowsAffected()
	return int(n), nil
}

// ListByStatus retrieves negotiations in any of the given statuses; with no
// statuses it returns everything, newest first.
func (ns *NegotiationStore) ListByStatus(statuses ...types.NegotiationStatus) ([]*types.Negotiation, error) {
	ns.store.mu.RLock()
	defer ns.store.mu.RUnlock()

	query := `SELECT ` + negotiationColumns + ` FROM negotiations`
	var args []interface{}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ","))
	}
	query += " ORDER BY created_at DESC"

	rows, err := ns.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query negotiations: %w", err)
	}
	defer rows.Close()

	var negotiations []*types.Negotiation
	for rows.Next() {
		n, err := scanNegotiation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan negotiation: %w", err)
		}
		negotiations = append(negotiations, n)
	}

	return negotiations, rows.Err()
}

func scanNegotiation(row scanner) (*types.Negotiation, error) {
	var n types.Negotiation
	var status string
	var requestSummary, qualityCriteria, responseTaskID, responseSummary sql.NullString
	var criteriaMet sql.NullInt64
	var neededBy, closedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&n.ID,
		&n.RequestingAgent,
		&n.RespondingAgent,
		&status,
		&n.Round,
		&n.RequestTaskID,
		&requestSummary,
		&qualityCriteria,
		&responseTaskID,
		&criteriaMet,
		&responseSummary,
		&neededBy,
		&createdAt,
		&closedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Status = types.NegotiationStatus(status)
	if requestSummary.Valid {
		n.RequestSummary = requestSummary.String
	}
	if qualityCriteria.Valid {
		n.QualityCriteria = qualityCriteria.String
	}
	if responseTaskID.Valid {
		n.ResponseTaskID = &responseTaskID.String
	}
	if criteriaMet.Valid {
		met := criteriaMet.Int64 != 0
		n.CriteriaMet = &met
	}
	if responseSummary.Valid {
		n.ResponseSummary = responseSummary.String
	}
	n.CreatedAt = parseTimestamp(createdAt)
	if t, ok := parseNullTimestamp(neededBy); ok {
		n.NeededBy = &t
	}
	if t, ok := parseNullTimestamp(closedAt); ok {
		n.ClosedAt = &t
	}

	return &n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
