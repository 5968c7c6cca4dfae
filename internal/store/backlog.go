package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Ticket is one structured backlog request. TicketID is assigned by the
// store from the rowid (IAN-000042 style) and is stable across restarts.
type Ticket struct {
	TicketID         string
	Title            string
	Requester        string
	Channel          string
	Summary          string
	RequestedOutcome string
	Impact           string
	HandoffTarget    string
	Status           string
	Intent           string
	HandoffPayload   string
	LinkedPlanFiles  []string
	CreatedAt        string
}

// BacklogStore persists structured intake tickets for out-of-scope and
// dev-handoff requests.
type BacklogStore struct {
	db *sql.DB
}

func NewBacklogStore(db *sql.DB) *BacklogStore {
	return &BacklogStore{db: db}
}

// Create inserts a ticket and assigns its display ID from the rowid.
func (s *BacklogStore) Create(ctx context.Context, t Ticket) (Ticket, error) {
	if t.Status == "" {
		t.Status = "open"
	}
	linked, err := json.Marshal(orEmptySlice(t.LinkedPlanFiles))
	if err != nil {
		return Ticket{}, fmt.Errorf("marshal linked files: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO backlog_requests
			(title, requester, channel, summary, requested_outcome, impact,
			 handoff_target, status, intent, handoff_payload, linked_plan_files)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Requester, t.Channel, t.Summary, t.RequestedOutcome, t.Impact,
		t.HandoffTarget, t.Status, t.Intent, t.HandoffPayload, string(linked))
	if err != nil {
		return Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket rowid: %w", err)
	}

	t.TicketID = fmt.Sprintf("IAN-%06d", rowID)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE backlog_requests SET ticket_id = ? WHERE id = ?`, t.TicketID, rowID); err != nil {
		return Ticket{}, fmt.Errorf("assign ticket id: %w", err)
	}
	return t, nil
}

// UpdateHandoff attaches the handoff payload and linked plan files to an
// existing ticket.
func (s *BacklogStore) UpdateHandoff(ctx context.Context, ticketID, payload string, linkedFiles []string) error {
	linked, err := json.Marshal(orEmptySlice(linkedFiles))
	if err != nil {
		return fmt.Errorf("marshal linked files: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE backlog_requests
		SET handoff_payload = ?, linked_plan_files = ?
		WHERE ticket_id = ?`, payload, string(linked), ticketID); err != nil {
		return fmt.Errorf("update handoff metadata: %w", err)
	}
	return nil
}

// Recent returns the newest tickets, newest first.
func (s *BacklogStore) Recent(ctx context.Context, limit int) ([]Ticket, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(ticket_id, ''), title, COALESCE(requester, ''), COALESCE(channel, ''),
		       summary, COALESCE(requested_outcome, ''), COALESCE(impact, ''),
		       handoff_target, status, intent,
		       COALESCE(handoff_payload, ''), COALESCE(linked_plan_files, '[]'), created_at
		FROM backlog_requests
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []Ticket
	for rows.Next() {
		var (
			t      Ticket
			linked string
		)
		if err := rows.Scan(&t.TicketID, &t.Title, &t.Requester, &t.Channel,
			&t.Summary, &t.RequestedOutcome, &t.Impact,
			&t.HandoffTarget, &t.Status, &t.Intent,
			&t.HandoffPayload, &linked, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		if err := json.Unmarshal([]byte(linked), &t.LinkedPlanFiles); err != nil {
			t.LinkedPlanFiles = nil
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Get returns a ticket by its display ID.
func (s *BacklogStore) Get(ctx context.Context, ticketID string) (Ticket, bool, error) {
	var (
		t      Ticket
		linked string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(ticket_id, ''), title, COALESCE(requester, ''), COALESCE(channel, ''),
		       summary, COALESCE(requested_outcome, ''), COALESCE(impact, ''),
		       handoff_target, status, intent,
		       COALESCE(handoff_payload, ''), COALESCE(linked_plan_files, '[]'), created_at
		FROM backlog_requests
		WHERE ticket_id = ?`, ticketID).Scan(
		&t.TicketID, &t.Title, &t.Requester, &t.Channel,
		&t.Summary, &t.RequestedOutcome, &t.Impact,
		&t.HandoffTarget, &t.Status, &t.Intent,
		&t.HandoffPayload, &linked, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return Ticket{}, false, nil
	}
	if err != nil {
		return Ticket{}, false, fmt.Errorf("get ticket: %w", err)
	}
	if err := json.Unmarshal([]byte(linked), &t.LinkedPlanFiles); err != nil {
		t.LinkedPlanFiles = nil
	}
	return t, true, nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
