package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"parcelflow/internal/db"
)

type Writer struct {
	DB  *db.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event on tx so it commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, caseType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, w.DB.Rebind(`INSERT INTO events(ts,type,case_type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(caseType), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
