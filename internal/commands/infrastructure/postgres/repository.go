package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	commands "sensorfleet-cloud/internal/commands/domain"
)

const commandColumns = `id, device_id, name, params, idempotency_key, issued_by,
	status, error, created_at, sent_at, acked_at`

// CommandRepository persists device commands. Status transitions out of
// created/sent guard on the current status so a late gateway result
// cannot overwrite a timeout, and vice versa.
type CommandRepository struct {
	db *sql.DB
}

// NewCommandRepository constructs a repository.
func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

func (r *CommandRepository) guard() error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	return nil
}

// Create inserts a command.
func (r *CommandRepository) Create(ctx context.Context, cmd *commands.Command) error {
	if err := r.guard(); err != nil {
		return err
	}
	if cmd == nil {
		return errors.New("command repo: nil command")
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	params := cmd.Params
	if len(params) == 0 {
		params = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO commands (id, device_id, name, params, idempotency_key, issued_by, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cmd.ID, cmd.DeviceID, cmd.Name, []byte(params), cmd.IdempotencyKey, cmd.IssuedBy, cmd.Status, cmd.CreatedAt)
	return err
}

// GetByID fetches a command by id; a missing id returns (nil, nil).
func (r *CommandRepository) GetByID(ctx context.Context, id string) (*commands.Command, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE id = $1 LIMIT 1`, id)
	return scanCommand(row)
}

// FindByIdempotencyKey returns the newest command issued under the key
// since the cutoff, so retried issues reuse the original command.
func (r *CommandRepository) FindByIdempotencyKey(ctx context.Context, key string, since time.Time) (*commands.Command, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	if key == "" {
		return nil, errors.New("command repo: invalid idempotency query")
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM commands
		 WHERE idempotency_key = $1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT 1`, key, since)
	return scanCommand(row)
}

// MarkSent marks command as sent.
func (r *CommandRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	if err := r.guard(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE commands SET status = $1, sent_at = $2 WHERE id = $3`,
		commands.StatusSent, sentAt, id)
	return err
}

// MarkAcked marks command as acked unless it already reached a terminal
// status.
func (r *CommandRepository) MarkAcked(ctx context.Context, id string, ackedAt time.Time) error {
	if err := r.guard(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE commands SET status = $1, acked_at = $2
		 WHERE id = $3 AND status IN ($4, $5)`,
		commands.StatusAcked, ackedAt, id, commands.StatusCreated, commands.StatusSent)
	return err
}

// MarkFailed marks command as failed unless it already reached a
// terminal status.
func (r *CommandRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	if err := r.guard(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE commands SET status = $1, error = $2
		 WHERE id = $3 AND status IN ($4, $5)`,
		commands.StatusFailed, errMsg, id, commands.StatusCreated, commands.StatusSent)
	return err
}

// MarkTimeoutBefore marks sent commands without a result as timed out
// and returns them for completion fan-out.
func (r *CommandRepository) MarkTimeoutBefore(ctx context.Context, before time.Time) ([]commands.Command, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`UPDATE commands SET status = $1, error = $2
		 WHERE status = $3 AND sent_at < $4
		 RETURNING `+commandColumns,
		commands.StatusTimeout, "timeout", commands.StatusSent, before)
	if err != nil {
		return nil, err
	}
	return collectCommands(rows)
}

// ListByDeviceAndTime lists commands for a device in a time range.
func (r *CommandRepository) ListByDeviceAndTime(ctx context.Context, deviceID string, from, to time.Time) ([]commands.Command, error) {
	if err := r.guard(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+commandColumns+` FROM commands
		 WHERE device_id = $1 AND created_at >= $2 AND created_at < $3
		 ORDER BY created_at ASC`, deviceID, from, to)
	if err != nil {
		return nil, err
	}
	return collectCommands(rows)
}

func collectCommands(rows *sql.Rows) ([]commands.Command, error) {
	defer rows.Close()
	var result []commands.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *cmd)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*commands.Command, error) {
	var (
		cmd     commands.Command
		params  []byte
		sentAt  sql.NullTime
		ackedAt sql.NullTime
		errMsg  sql.NullString
	)
	err := row.Scan(&cmd.ID, &cmd.DeviceID, &cmd.Name, &params, &cmd.IdempotencyKey,
		&cmd.IssuedBy, &cmd.Status, &errMsg, &cmd.CreatedAt, &sentAt, &ackedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cmd.Params = json.RawMessage(params)
	cmd.CreatedAt = cmd.CreatedAt.UTC()
	if sentAt.Valid {
		cmd.SentAt = sentAt.Time.UTC()
	}
	if ackedAt.Valid {
		cmd.AckedAt = ackedAt.Time.UTC()
	}
	if errMsg.Valid {
		cmd.Error = errMsg.String
	}
	return &cmd, nil
}
