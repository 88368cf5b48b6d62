package mysqlevents

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS instance_events (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	user_id VARCHAR(255) NOT NULL,
	challenge VARCHAR(255) NOT NULL,
	state VARCHAR(16) NOT NULL,
	handle VARCHAR(255) NOT NULL DEFAULT '',
	host VARCHAR(255) NOT NULL DEFAULT '',
	port INT NOT NULL DEFAULT 0,
	reason VARCHAR(255) NOT NULL DEFAULT '',
	occurred_at DATETIME(6) NOT NULL,
	INDEX idx_instance (user_id, challenge, occurred_at)
)`

// Recorder appends every transition to an audit table. The table is never
// read back to rebuild instance state.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create instance_events table: %w", err)
	}
	return nil
}

func (r *Recorder) Publish(ctx context.Context, event domain.Event) error {
	query := `
		INSERT INTO instance_events (user_id, challenge, state, handle, host, port, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		event.UserID,
		event.Challenge,
		string(event.State),
		event.Handle,
		event.Host,
		event.Port,
		event.Reason,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// History returns the most recent events for one instance, newest first.
func (r *Recorder) History(ctx context.Context, key domain.InstanceKey, limit int) ([]domain.Event, error) {
	query := `
		SELECT user_id, challenge, state, handle, host, port, reason, occurred_at
		FROM instance_events
		WHERE user_id = ? AND challenge = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, key.UserID, key.Challenge, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var state string

		err := rows.Scan(
			&event.UserID,
			&event.Challenge,
			&state,
			&event.Handle,
			&event.Host,
			&event.Port,
			&event.Reason,
			&event.OccurredAt,
		)
		if err != nil {
			return nil, err
		}

		event.State = domain.State(state)
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
