package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/go-authgate/ringbot/routing"
)

// State is the lifecycle state of a posted decision.
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateErrored  State = "errored"
	StateExpired  State = "expired"
)

// Record is the durable trace of a posted decision, enough to resume or
// expire it after a restart.
type Record struct {
	ID          string
	Kind        string
	SubjectID   string
	SubmitterID string
	ChannelID   routing.ChannelID
	MessageID   string
	State       State
	CreatedAt   time.Time
	Deadline    time.Time
}

// ErrUnknownDecision is returned by Get for an id the ledger never recorded.
var ErrUnknownDecision = errors.New("unknown decision")

// Ledger persists pending decisions.
type Ledger interface {
	Open(ctx context.Context, rec Record) error
	Resolve(ctx context.Context, id string, state State) error
	Pending(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
}

// NopLedger keeps nothing; decisions are lost on restart.
type NopLedger struct{}

func (NopLedger) Open(context.Context, Record) error           { return nil }
func (NopLedger) Resolve(context.Context, string, State) error { return nil }
func (NopLedger) Pending(context.Context) ([]Record, error)    { return nil, nil }
func (NopLedger) Get(context.Context, string) (Record, error)  { return Record{}, ErrUnknownDecision }

// SQLiteLedger stores decisions in a SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLiteLedger opens (or creates) the ledger database at dbPath.
func OpenSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between workflow goroutines
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	stmts := []string{`
		CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			submitter_id TEXT NOT NULL,
			channel_id INTEGER NOT NULL,
			message_id TEXT NOT NULL,
			state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			deadline INTEGER NOT NULL,
			resolved_at INTEGER
		);`,
		"CREATE INDEX IF NOT EXISTS idx_decisions_state ON decisions(state);",
		"CREATE INDEX IF NOT EXISTS idx_decisions_message ON decisions(message_id);",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create decisions table: %w", err)
		}
	}

	return &SQLiteLedger{db: db}, nil
}

// Open records a freshly posted decision as pending.
func (l *SQLiteLedger) Open(ctx context.Context, rec Record) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO decisions
			(id, kind, subject_id, submitter_id, channel_id, message_id, state, created_at, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message_id=excluded.message_id,
			state=excluded.state,
			deadline=excluded.deadline`,
		rec.ID, rec.Kind, rec.SubjectID, rec.SubmitterID, int64(rec.ChannelID), rec.MessageID,
		string(StatePending), rec.CreatedAt.Unix(), rec.Deadline.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// Resolve moves a pending decision to its final state. Resolving an already
// resolved decision is a no-op.
func (l *SQLiteLedger) Resolve(ctx context.Context, id string, state State) error {
	_, err := l.db.ExecContext(ctx,
		"UPDATE decisions SET state = ?, resolved_at = ? WHERE id = ? AND state = ?",
		string(state), time.Now().Unix(), id, string(StatePending),
	)
	if err != nil {
		return fmt.Errorf("failed to resolve decision %s: %w", id, err)
	}
	return nil
}

// Pending returns every decision still awaiting a response, oldest first.
func (l *SQLiteLedger) Pending(ctx context.Context) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, kind, subject_id, submitter_id, channel_id, message_id, state, created_at, deadline
		FROM decisions WHERE state = ? ORDER BY created_at, id`,
		string(StatePending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending decisions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                 Record
			channel             int64
			state               string
			createdAt, deadline int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.Kind, &rec.SubjectID, &rec.SubmitterID,
			&channel, &rec.MessageID, &state, &createdAt, &deadline,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		rec.ChannelID = routing.ChannelID(channel)
		rec.State = State(state)
		rec.CreatedAt = time.Unix(createdAt, 0)
		rec.Deadline = time.Unix(deadline, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns the decision with id.
func (l *SQLiteLedger) Get(ctx context.Context, id string) (Record, error) {
	var (
		rec                 Record
		channel             int64
		state               string
		createdAt, deadline int64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT id, kind, subject_id, submitter_id, channel_id, message_id, state, created_at, deadline
		FROM decisions WHERE id = ?`, id,
	).Scan(
		&rec.ID, &rec.Kind, &rec.SubjectID, &rec.SubmitterID,
		&channel, &rec.MessageID, &state, &createdAt, &deadline,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("decision %s: %w", id, ErrUnknownDecision)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load decision %s: %w", id, err)
	}
	rec.ChannelID = routing.ChannelID(channel)
	rec.State = State(state)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.Deadline = time.Unix(deadline, 0)
	return rec, nil
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
