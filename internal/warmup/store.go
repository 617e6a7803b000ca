package warmup

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Batch statuses.
const (
	BatchPending   = "pending"
	BatchRunning   = "running"
	BatchPaused    = "paused"
	BatchCompleted = "completed"
	BatchCancelled = "cancelled"
)

// Session statuses.
const (
	SessionPending   = "pending"
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// Store persists warm-up plans and outcomes in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the database at dsn and configures WAL mode.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "warmup: open database")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "warmup: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS my_profiles (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	profile_id   TEXT UNIQUE NOT NULL,
	display_name TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	is_active    BOOLEAN NOT NULL DEFAULT 1,
	personality  TEXT
);

CREATE TABLE IF NOT EXISTS warmup_batches (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_name             TEXT NOT NULL,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	total_duration_minutes INTEGER NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'pending',
	profiles_count         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS warmup_sessions (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id           INTEGER NOT NULL REFERENCES warmup_batches(id),
	profile_id         TEXT NOT NULL REFERENCES my_profiles(profile_id),
	session_type       TEXT NOT NULL,
	start_offset_min   REAL NOT NULL,
	expected_duration  INTEGER NOT NULL,
	actual_start       DATETIME,
	actual_duration    INTEGER,
	status             TEXT NOT NULL DEFAULT 'pending',
	actions_planned    TEXT
);

CREATE TABLE IF NOT EXISTS actions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       INTEGER NOT NULL REFERENCES warmup_sessions(id),
	profile_id       TEXT NOT NULL,
	action_type      TEXT NOT NULL,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	success          BOOLEAN,
	delay_before_sec INTEGER,
	duration_sec     INTEGER
);

CREATE INDEX IF NOT EXISTS idx_sessions_batch ON warmup_sessions(batch_id);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON warmup_sessions(status);
CREATE INDEX IF NOT EXISTS idx_actions_session ON actions(session_id);
`

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "warmup: migrate")
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ProfileRow is a registered warm-up participant.
type ProfileRow struct {
	ProfileID   string
	DisplayName string
	IsActive    bool
	Personality Personality
}

// RegisterProfile inserts a profile or, when it already exists, leaves
// the stored personality untouched.
func (s *Store) RegisterProfile(ctx context.Context, profileID, displayName string, personality Personality) error {
	data, err := json.Marshal(personality)
	if err != nil {
		return eris.Wrap(err, "warmup: marshal personality")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO my_profiles (profile_id, display_name, personality) VALUES (?, ?, ?)
		 ON CONFLICT(profile_id) DO UPDATE SET display_name = excluded.display_name`,
		profileID, displayName, string(data),
	)
	return eris.Wrapf(err, "warmup: register profile %s", profileID)
}

// Profile fetches one registered profile.
func (s *Store) Profile(ctx context.Context, profileID string) (*ProfileRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT profile_id, display_name, is_active, personality FROM my_profiles WHERE profile_id = ?`,
		profileID,
	)
	return scanProfile(row)
}

// Profiles lists all active registered profiles.
func (s *Store) Profiles(ctx context.Context) ([]ProfileRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_id, display_name, is_active, personality FROM my_profiles WHERE is_active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "warmup: list profiles")
	}
	defer rows.Close()

	var out []ProfileRow
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "warmup: list profiles")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*ProfileRow, error) {
	var p ProfileRow
	var personalityJSON sql.NullString
	if err := row.Scan(&p.ProfileID, &p.DisplayName, &p.IsActive, &personalityJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, eris.Wrap(err, "warmup: profile not found")
		}
		return nil, eris.Wrap(err, "warmup: scan profile")
	}
	if personalityJSON.Valid {
		if err := json.Unmarshal([]byte(personalityJSON.String), &p.Personality); err != nil {
			return nil, eris.Wrap(err, "warmup: decode personality")
		}
	}
	return &p, nil
}

// Batch is one planned warm-up run over a set of profiles.
type Batch struct {
	ID                   int64
	Name                 string
	CreatedAt            time.Time
	TotalDurationMinutes int
	Status               string
	ProfilesCount        int
}

// CreateBatch inserts a pending batch and returns its id.
func (s *Store) CreateBatch(ctx context.Context, name string, totalDurationMinutes, profilesCount int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO warmup_batches (batch_name, total_duration_minutes, profiles_count) VALUES (?, ?, ?)`,
		name, totalDurationMinutes, profilesCount,
	)
	if err != nil {
		return 0, eris.Wrap(err, "warmup: create batch")
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "warmup: batch id")
}

// GetBatch fetches one batch.
func (s *Store) GetBatch(ctx context.Context, id int64) (*Batch, error) {
	var b Batch
	err := s.db.QueryRowContext(ctx,
		`SELECT id, batch_name, created_at, total_duration_minutes, status, profiles_count
		 FROM warmup_batches WHERE id = ?`, id,
	).Scan(&b.ID, &b.Name, &b.CreatedAt, &b.TotalDurationMinutes, &b.Status, &b.ProfilesCount)
	if err != nil {
		return nil, eris.Wrapf(err, "warmup: batch %d", id)
	}
	return &b, nil
}

// UpdateBatchStatus moves a batch through its lifecycle.
func (s *Store) UpdateBatchStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE warmup_batches SET status = ? WHERE id = ?`, status, id,
	)
	if err != nil {
		return eris.Wrapf(err, "warmup: update batch %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "warmup: rows affected")
	}
	if n == 0 {
		return eris.Errorf("warmup: batch %d not found", id)
	}
	return nil
}

// Session is one profile's scheduled slot within a batch.
type Session struct {
	ID               int64
	BatchID          int64
	ProfileID        string
	SessionType      string
	StartOffsetMin   float64
	ExpectedDuration int
	Status           string
	ActionsPlanned   map[string]int
}

// CreateSession inserts a pending session and returns its id.
func (s *Store) CreateSession(ctx context.Context, sess Session) (int64, error) {
	actions, err := json.Marshal(sess.ActionsPlanned)
	if err != nil {
		return 0, eris.Wrap(err, "warmup: marshal actions")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO warmup_sessions (batch_id, profile_id, session_type, start_offset_min, expected_duration, actions_planned)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.BatchID, sess.ProfileID, sess.SessionType, sess.StartOffsetMin, sess.ExpectedDuration, string(actions),
	)
	if err != nil {
		return 0, eris.Wrap(err, "warmup: create session")
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "warmup: session id")
}

// Sessions lists a batch's sessions in schedule order.
func (s *Store) Sessions(ctx context.Context, batchID int64) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, batch_id, profile_id, session_type, start_offset_min, expected_duration, status, actions_planned
		 FROM warmup_sessions WHERE batch_id = ? ORDER BY start_offset_min`, batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "warmup: sessions for batch %d", batchID)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var actions sql.NullString
		if err := rows.Scan(&sess.ID, &sess.BatchID, &sess.ProfileID, &sess.SessionType,
			&sess.StartOffsetMin, &sess.ExpectedDuration, &sess.Status, &actions); err != nil {
			return nil, eris.Wrap(err, "warmup: scan session")
		}
		if actions.Valid {
			if err := json.Unmarshal([]byte(actions.String), &sess.ActionsPlanned); err != nil {
				return nil, eris.Wrap(err, "warmup: decode planned actions")
			}
		}
		out = append(out, sess)
	}
	return out, eris.Wrap(rows.Err(), "warmup: sessions")
}

// UpdateSessionStatus records a session state change, stamping the
// actual start time when the session begins.
func (s *Store) UpdateSessionStatus(ctx context.Context, id int64, status string, actualDuration int) error {
	var err error
	if status == SessionRunning {
		_, err = s.db.ExecContext(ctx,
			`UPDATE warmup_sessions SET status = ?, actual_start = datetime('now') WHERE id = ?`,
			status, id,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE warmup_sessions SET status = ?, actual_duration = ? WHERE id = ?`,
			status, actualDuration, id,
		)
	}
	return eris.Wrapf(err, "warmup: update session %d", id)
}

// LogAction appends one executed action to a session's history.
func (s *Store) LogAction(ctx context.Context, sessionID int64, profileID, actionType string, success bool, delayBeforeSec, durationSec int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (session_id, profile_id, action_type, success, delay_before_sec, duration_sec)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, profileID, actionType, success, delayBeforeSec, durationSec,
	)
	return eris.Wrap(err, "warmup: log action")
}

// SessionCounts aggregates a batch's sessions by status.
func (s *Store) SessionCounts(ctx context.Context, batchID int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM warmup_sessions WHERE batch_id = ? GROUP BY status`, batchID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "warmup: session counts for batch %d", batchID)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "warmup: scan count")
		}
		counts[status] = n
	}
	return counts, eris.Wrap(rows.Err(), "warmup: session counts")
}
