package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mescon/Cadence/internal/domain"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("db: not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Revision statuses
const (
	RevisionLoaded = "loaded"
	RevisionFailed = "failed"
)

// Revision is one sketch submitted for evaluation.
type Revision struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source,omitempty"`
	Checksum  string    `json:"checksum"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Checksum is the hex SHA-256 of a sketch source.
func Checksum(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// SaveRevision records a sketch and whether it loaded. loadErr nil means loaded.
func (r *Repository) SaveRevision(ctx context.Context, name, source string, loadErr error) (int64, error) {
	status, errText := RevisionLoaded, ""
	if loadErr != nil {
		status, errText = RevisionFailed, loadErr.Error()
	}

	result, err := ExecWithRetry(ctx, r.DB,
		`INSERT INTO sketch_revisions (name, source, checksum, status, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		name, source, Checksum(source), status, errText, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("save revision: %w", err)
	}
	return result.LastInsertId()
}

// ListRevisions returns revisions newest first without their source, plus the total count.
func (r *Repository) ListRevisions(ctx context.Context, limit, offset int) ([]Revision, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM sketch_revisions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count revisions: %w", err)
	}

	rows, err := QueryWithRetry(ctx, r.DB,
		`SELECT id, name, checksum, status, error, created_at FROM sketch_revisions ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	revisions := make([]Revision, 0, limit)
	for rows.Next() {
		var rev Revision
		var created string
		if err := rows.Scan(&rev.ID, &rev.Name, &rev.Checksum, &rev.Status, &rev.Error, &created); err != nil {
			return nil, 0, fmt.Errorf("scan revision: %w", err)
		}
		rev.CreatedAt = parseTime(created)
		revisions = append(revisions, rev)
	}
	return revisions, total, rows.Err()
}

// GetRevision returns one revision including its source.
func (r *Repository) GetRevision(ctx context.Context, id int64) (Revision, error) {
	var rev Revision
	var created string
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, source, checksum, status, error, created_at FROM sketch_revisions WHERE id = ?`, id,
	).Scan(&rev.ID, &rev.Name, &rev.Source, &rev.Checksum, &rev.Status, &rev.Error, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Revision{}, fmt.Errorf("revision %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Revision{}, fmt.Errorf("get revision: %w", err)
	}
	rev.CreatedAt = parseTime(created)
	return rev, nil
}

// AppendEvent adds e to the journal.
func (r *Repository) AppendEvent(ctx context.Context, e domain.Event) error {
	data, err := json.Marshal(e.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = ExecWithRetry(ctx, r.DB,
		`INSERT INTO events (aggregate_type, aggregate_id, event_type, event_data, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.AggregateType, e.AggregateID, string(e.EventType), string(data), formatTime(created))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// RecentEvents returns journaled events newest first, plus the total count.
// Event IDs are journal row ids.
func (r *Repository) RecentEvents(ctx context.Context, limit, offset int) ([]domain.Event, int, error) {
	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	rows, err := QueryWithRetry(ctx, r.DB,
		`SELECT id, aggregate_type, aggregate_id, event_type, event_data, created_at FROM events ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, limit)
	for rows.Next() {
		var e domain.Event
		var eventType, data, created string
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &eventType, &data, &created); err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		e.EventType = domain.EventType(eventType)
		if err := json.Unmarshal([]byte(data), &e.EventData); err != nil {
			return nil, 0, fmt.Errorf("decode event %d: %w", e.ID, err)
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, total, rows.Err()
}
