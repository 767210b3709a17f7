package db

import (
	"context"
	"fmt"
	"time"
)

// ConnectionEvent is one channel lifecycle event (open, closed, identifier
// assigned, start failure).
type ConnectionEvent struct {
	ID           int64     `json:"id" yaml:"id"`
	At           time.Time `json:"at" yaml:"at"`
	Event        string    `json:"event" yaml:"event"`
	ConnectionID string    `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
	Detail       string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// StageEvent is one stage transition within an emission attempt.
type StageEvent struct {
	ID           int64     `json:"id" yaml:"id"`
	At           time.Time `json:"at" yaml:"at"`
	AttemptID    string    `json:"attempt_id" yaml:"attempt_id"`
	ConnectionID string    `json:"connection_id,omitempty" yaml:"connection_id,omitempty"`
	Stage        int       `json:"stage" yaml:"stage"`
	StageName    string    `json:"stage_name" yaml:"stage_name"`
	Text         string    `json:"text,omitempty" yaml:"text,omitempty"`
}

const defaultListLimit = 50

// RecordConnection inserts a connection event.
func (d *DB) RecordConnection(ctx context.Context, e ConnectionEvent) error {
	if d == nil || d.conn == nil {
		return fmt.Errorf("db is not open")
	}
	if e.Event == "" {
		return fmt.Errorf("event is required")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO connection_events (at, event, connection_id, detail) VALUES (?, ?, ?, ?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Event, e.ConnectionID, e.Detail)
	if err != nil {
		return fmt.Errorf("insert connection event: %w", err)
	}
	return nil
}

// RecordStage inserts a stage transition.
func (d *DB) RecordStage(ctx context.Context, e StageEvent) error {
	if d == nil || d.conn == nil {
		return fmt.Errorf("db is not open")
	}
	if e.AttemptID == "" {
		return fmt.Errorf("attempt id is required")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO stage_events (at, attempt_id, connection_id, stage, stage_name, text) VALUES (?, ?, ?, ?, ?, ?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.AttemptID, e.ConnectionID, e.Stage, e.StageName, e.Text)
	if err != nil {
		return fmt.Errorf("insert stage event: %w", err)
	}
	return nil
}

// RecentStages returns up to limit stage events, newest first.
func (d *DB) RecentStages(ctx context.Context, limit int) ([]StageEvent, error) {
	if d == nil || d.conn == nil {
		return nil, fmt.Errorf("db is not open")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, at, attempt_id, connection_id, stage, stage_name, text
		 FROM stage_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query stage events: %w", err)
	}
	defer rows.Close()

	var out []StageEvent
	for rows.Next() {
		var e StageEvent
		var at string
		if err := rows.Scan(&e.ID, &at, &e.AttemptID, &e.ConnectionID, &e.Stage, &e.StageName, &e.Text); err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		e.At = parseTime(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage events: %w", err)
	}
	return out, nil
}

// RecentConnections returns up to limit connection events, newest first.
func (d *DB) RecentConnections(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	if d == nil || d.conn == nil {
		return nil, fmt.Errorf("db is not open")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, at, event, connection_id, detail
		 FROM connection_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query connection events: %w", err)
	}
	defer rows.Close()

	var out []ConnectionEvent
	for rows.Next() {
		var e ConnectionEvent
		var at string
		if err := rows.Scan(&e.ID, &at, &e.Event, &e.ConnectionID, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan connection event: %w", err)
		}
		e.At = parseTime(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection events: %w", err)
	}
	return out, nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
