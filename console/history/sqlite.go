package history

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/guard-x/console/console/models"
)

// SQLiteStore persists the live detection history in a local sqlite file so
// it survives console restarts. One row per event, rowid order is insertion
// order.
type SQLiteStore struct {
	db       *sql.DB
	capacity int
	logger   *zap.Logger
}

func NewSQLiteStore(path string, capacity int, logger *zap.Logger) (*SQLiteStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// A single writer appends and a single reader aggregates; one connection
	// keeps the pure-Go driver free of write contention.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS live_detections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &SQLiteStore{db: db, capacity: capacity, logger: logger}, nil
}

func (s *SQLiteStore) Append(event models.DetectionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode detection event: %w", err)
	}

	_, err = s.db.Exec("INSERT INTO live_detections (payload) VALUES (?)", string(payload))
	if err != nil {
		return fmt.Errorf("failed to append detection event: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM live_detections
		WHERE id NOT IN (SELECT id FROM live_detections ORDER BY id DESC LIMIT ?)
	`, s.capacity)
	if err != nil {
		return fmt.Errorf("failed to trim detection history: %w", err)
	}

	return nil
}

func (s *SQLiteStore) ReadAll() ([]models.DetectionEvent, error) {
	rows, err := s.db.Query("SELECT payload FROM live_detections ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to read detection history: %w", err)
	}
	defer rows.Close()

	events := make([]models.DetectionEvent, 0, s.capacity)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		var event models.DetectionEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			// Tolerate rows written by older console builds.
			s.logger.Warn("Skipping undecodable history row", zap.Error(err))
			continue
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}

	return events, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
