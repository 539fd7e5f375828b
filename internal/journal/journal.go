// Package journal persists a trade audit trail to a SQLite database. The
// JSON state file holds today's working state; the journal keeps the
// append-only history of every order the book placed.
package journal

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arjunvm/pivot_sentry/internal/models"
)

// SQLiteJournal records trade events to SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *log.Logger
}

// NewSQLiteJournal opens (or creates) the database and runs migrations.
func NewSQLiteJournal(dbPath string, logger *log.Logger) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so reporting queries can run while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	j := &SQLiteJournal{db: db, logger: logger}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Printf("Trade journal opened: %s", dbPath)
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trade_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			position_id TEXT NOT NULL,
			kind        TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			direction   TEXT NOT NULL,
			price       REAL NOT NULL,
			reason      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_ts ON trade_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_position ON trade_events(position_id)`,
	}

	for _, s := range stmts {
		if _, err := j.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Record inserts one trade event.
func (j *SQLiteJournal) Record(event models.TradeEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`INSERT INTO trade_events
		(timestamp, position_id, kind, symbol, direction, price, reason)
		VALUES (?,?,?,?,?,?,?)`,
		event.Time.Unix(), event.PositionID, string(event.Kind),
		event.Symbol, string(event.Direction), event.Price, event.Reason,
	)
	return err
}

// Recent returns the latest trade events, newest first.
func (j *SQLiteJournal) Recent(limit int) ([]models.TradeEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`SELECT timestamp, position_id, kind, symbol, direction, price, reason
		FROM trade_events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade events: %w", err)
	}
	defer rows.Close()

	var events []models.TradeEvent
	for rows.Next() {
		var (
			ts        int64
			evt       models.TradeEvent
			kind      string
			direction string
		)
		if err := rows.Scan(&ts, &evt.PositionID, &kind, &evt.Symbol, &direction, &evt.Price, &evt.Reason); err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}
		evt.Time = time.Unix(ts, 0).UTC()
		evt.Kind = models.TradeEventKind(kind)
		evt.Direction = models.Direction(direction)
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (j *SQLiteJournal) Close() error {
	j.logger.Println("Closing trade journal")
	return j.db.Close()
}
