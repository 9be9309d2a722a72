package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the system log.
const (
	TypeStatusChange    = "STATUS_CHANGE"
	TypeTaskCreated     = "TASK_CREATED"
	TypeTaskUpdated     = "TASK_UPDATED"
	TypeTaskReassigned  = "TASK_REASSIGNED"
	TypeDecisionCreated = "DECISION_CREATED"
	TypeWorkLogged      = "WORK_LOGGED"
	TypeProjectCreated  = "PROJECT_CREATED"
	TypeUserExit        = "USER_EXIT"
	TypeAIGeneration    = "AI_GENERATION"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Append records a system event inside the caller's transaction so that the
// event and the mutation it describes commit or roll back together.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, description string, triggeredBy, projectID *int64, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,description,triggered_by,project_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, description, nullableID(triggeredBy), nullableID(projectID), string(data))
	return err
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
