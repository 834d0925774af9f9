package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ecwu/openbook/pkg/observability"
)

// Recorder writes and reads audit events
type Recorder struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewRecorder creates an audit recorder over an open database handle
func NewRecorder(db *sql.DB, logger *observability.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record writes one audit event. Failures are logged and swallowed so
// auditing never breaks the recorded operation.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	event.CreatedAt = time.Now().UTC()

	var actorID interface{}
	if event.ActorID != 0 {
		actorID = event.ActorID
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (action, actor_id, subject, detail, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, event.Action, actorID, event.Subject, event.Detail, event.IPAddress,
		event.CreatedAt).Scan(&event.ID)
	if err != nil {
		r.logger.WithError(err).WithField("action", string(event.Action)).
			Error("failed to record audit event")
	}
}

// Filter narrows a List call. Zero values mean no constraint.
type Filter struct {
	Action  Action
	ActorID int64
	Limit   int
	Offset  int
}

// List returns audit events, newest first
func (r *Recorder) List(ctx context.Context, filter Filter) ([]*Event, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	query := `
		SELECT id, action, actor_id, subject, detail, ip_address, created_at
		FROM audit_events
	`
	var conditions []string
	var args []interface{}
	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.ActorID != 0 {
		args = append(args, filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	for i, condition := range conditions {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var actorID sql.NullInt64
		var subject, detail, ipAddress sql.NullString
		err := rows.Scan(&event.ID, &event.Action, &actorID, &subject, &detail,
			&ipAddress, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.ActorID = actorID.Int64
		event.Subject = subject.String
		event.Detail = detail.String
		event.IPAddress = ipAddress.String
		events = append(events, event)
	}
	return events, rows.Err()
}
