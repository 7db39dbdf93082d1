// Package audit keeps a history of every command the bridge handled, in
// the command_log table, for troubleshooting through the HTTP API.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeFormat is fixed width so stored timestamps sort lexically.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one row of the command log.
type Entry struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Identifier string    `json:"identifier"`
	Display    *int      `json:"display,omitempty"`
	Feature    string    `json:"feature,omitempty"`
	Value      string    `json:"value"`
	Raw        *int      `json:"raw,omitempty"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	DurationMS int64     `json:"duration_ms"`
}

// EntryFromOutcome converts a router outcome into a log row. Display and
// feature are left empty when the identifier never parsed, raw unless the
// write succeeded.
func EntryFromOutcome(o engine.Outcome) Entry {
	e := Entry{
		ID:         o.ID,
		Source:     o.Source,
		Identifier: o.Identifier,
		Value:      o.Command.Value,
		Stage:      string(o.Stage),
		ReceivedAt: o.Received.UTC(),
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	if !errors.Is(o.Err, engine.ErrMalformedIdentifier) {
		display := o.Command.Device
		e.Display = &display
		e.Feature = string(o.Command.Feature)
	}
	if o.OK() {
		raw := int(o.Raw)
		e.Raw = &raw
	}
	return e
}

// Filter controls which entries List returns.
type Filter struct {
	Display *int   // optional: only this display
	Stage   string // optional: published, applied, rejected, failed
	Source  string // optional: mqtt, api
	Limit   int    // default 50, max 200
	Offset  int
}

// ListResult contains one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the command log operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores the command log in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and ReceivedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, source, identifier, display, feature, value, raw, stage, error, received_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, e.Identifier,
		nullableInt(e.Display), nullableString(e.Feature),
		e.Value, nullableInt(e.Raw), e.Stage, nullableString(e.Error),
		e.ReceivedAt.UTC().Format(timeFormat),
		e.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Display != nil {
		conditions = append(conditions, "display = ?")
		args = append(args, *filter.Display)
	}
	if filter.Stage != "" {
		conditions = append(conditions, "stage = ?")
		args = append(args, filter.Stage)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM command_log " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := "SELECT id, source, identifier, display, feature, value, raw, stage, error, received_at, duration_ms " + //nolint:gosec // as above
		"FROM command_log " + where + " ORDER BY received_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var display, raw sql.NullInt64
	var feature, errText sql.NullString
	var receivedAt string

	if err := rows.Scan(&e.ID, &e.Source, &e.Identifier, &display, &feature,
		&e.Value, &raw, &e.Stage, &errText, &receivedAt, &e.DurationMS); err != nil {
		return Entry{}, fmt.Errorf("scanning command log entry: %w", err)
	}

	if display.Valid {
		d := int(display.Int64)
		e.Display = &d
	}
	if raw.Valid {
		v := int(raw.Int64)
		e.Raw = &v
	}
	e.Feature = feature.String
	e.Error = errText.String

	t, err := time.Parse(timeFormat, receivedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing command log timestamp %q: %w", receivedAt, err)
	}
	e.ReceivedAt = t
	return e, nil
}

// Prune deletes entries received before the cutoff and returns how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM command_log WHERE received_at < ?",
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning command log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning command log: %w", err)
	}
	return n, nil
}
