package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/apm-notifier/internal/model"
)

// Delivery statuses recorded per send attempt.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// DeliveryRecord is one webhook delivery attempt.
type DeliveryRecord struct {
	ID         string      `json:"id"`
	ObjectID   int64       `json:"object_id"`
	ObjectName string      `json:"object_name"`
	ObjectType string      `json:"object_type"`
	Level      model.Level `json:"level"`
	Title      string      `json:"title"`
	URL        string      `json:"url"`
	Channel    string      `json:"channel,omitempty"`
	Status     string      `json:"status"`
	Error      string      `json:"error,omitempty"`
	SentAt     time.Time   `json:"sent_at"`
}

// DeliveryHistory defines the interface for delivery history storage.
type DeliveryHistory interface {
	// Store records a delivery attempt.
	Store(ctx context.Context, rec *DeliveryRecord) error

	// List retrieves the most recent records, newest first.
	List(ctx context.Context, limit int) ([]*DeliveryRecord, error)

	// DeleteBefore deletes records older than the specified time.
	DeleteBefore(ctx context.Context, before time.Time) error

	// Close releases the underlying store.
	Close() error
}

// SQLiteDeliveryHistory implements DeliveryHistory using SQLite.
type SQLiteDeliveryHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteDeliveryHistory opens (or creates) the history database at dbPath.
func NewSQLiteDeliveryHistory(logger *zap.Logger, dbPath string) (*SQLiteDeliveryHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteDeliveryHistory{logger: logger, db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the necessary tables if they don't exist.
func (s *SQLiteDeliveryHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_history (
			id TEXT PRIMARY KEY,
			object_id INTEGER NOT NULL,
			object_name TEXT NOT NULL,
			object_type TEXT NOT NULL,
			level INTEGER NOT NULL,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			channel TEXT,
			status TEXT NOT NULL,
			error TEXT,
			sent_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_alert_history_object_id ON alert_history(object_id);
		CREATE INDEX IF NOT EXISTS idx_alert_history_sent_at ON alert_history(sent_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements DeliveryHistory.Store.
func (s *SQLiteDeliveryHistory) Store(ctx context.Context, rec *DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history (
			id, object_id, object_name, object_type, level, title, url, channel, status, error, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.ObjectID,
		rec.ObjectName,
		rec.ObjectType,
		int(rec.Level),
		rec.Title,
		rec.URL,
		sql.NullString{String: rec.Channel, Valid: rec.Channel != ""},
		rec.Status,
		sql.NullString{String: rec.Error, Valid: rec.Error != ""},
		rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store delivery record: %w", err)
	}
	return nil
}

// List implements DeliveryHistory.List.
func (s *SQLiteDeliveryHistory) List(ctx context.Context, limit int) ([]*DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, object_id, object_name, object_type, level, title, url, channel, status, error, sent_at
		FROM alert_history ORDER BY sent_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery records: %w", err)
	}
	defer rows.Close()

	var records []*DeliveryRecord
	for rows.Next() {
		rec := &DeliveryRecord{}
		var level int
		var channel, errStr sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.ObjectID,
			&rec.ObjectName,
			&rec.ObjectType,
			&level,
			&rec.Title,
			&rec.URL,
			&channel,
			&rec.Status,
			&errStr,
			&rec.SentAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery record: %w", err)
		}
		rec.Level = model.Level(level)
		if channel.Valid {
			rec.Channel = channel.String
		}
		if errStr.Valid {
			rec.Error = errStr.String
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

// DeleteBefore implements DeliveryHistory.DeleteBefore.
func (s *SQLiteDeliveryHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alert_history WHERE sent_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete delivery records: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old delivery records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return nil
}

// Close closes the database connection.
func (s *SQLiteDeliveryHistory) Close() error {
	return s.db.Close()
}
