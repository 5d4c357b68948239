package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"parcelflow/internal/domain"
)

type EventFilters struct {
	Type       string
	CaseType   string
	EntityKind string
	EntityID   string
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var caseType, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &caseType, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.CaseType = caseType.String
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func (f EventFilters) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.CaseType != "" {
		clauses = append(clauses, "case_type=?")
		args = append(args, f.CaseType)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	return clauses, args
}

func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilters) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, f)
}

// LatestEventsFrom pages backwards from cursor (exclusive), newest first.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilters) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,case_type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`SELECT id,ts,type,case_type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`), cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
