package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/devaloi/pokersync/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given path and applies
// the embedded migrations. Use ":memory:" for an in-memory database.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite has a single writer anyway, and ":memory:"
	// databases are per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	// m.Close would close db through the driver; the store owns db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// CreateSession inserts a new active session. An existing id is left untouched.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess domain.Session) error {
	started := sess.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	task := sess.TaskName
	if task == "" {
		task = "Unnamed Task"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, room_id, task_name, story_id, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sess.ID, sess.RoomID, task, sess.StoryID, string(domain.SessionActive), started.UTC())
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

// AddEstimation upserts the participant's card. The session must be active.
func (s *SQLiteStore) AddEstimation(ctx context.Context, sessionID, participantID string, card domain.CardValue, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		status, err := sessionStatus(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if status != domain.SessionActive {
			return fmt.Errorf("add estimation to %s session %s: %w", status, sessionID, ErrInvalidTransition)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO estimations (session_id, participant_id, card_value, estimated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(session_id, participant_id)
			DO UPDATE SET card_value = excluded.card_value, estimated_at = excluded.estimated_at
		`, sessionID, participantID, string(card), at.UTC())
		return err
	})
}

// RemoveEstimation deletes the participant's card. The session must be active.
func (s *SQLiteStore) RemoveEstimation(ctx context.Context, sessionID, participantID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		status, err := sessionStatus(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if status != domain.SessionActive {
			return fmt.Errorf("remove estimation from %s session %s: %w", status, sessionID, ErrInvalidTransition)
		}
		_, err = tx.ExecContext(ctx,
			"DELETE FROM estimations WHERE session_id = ? AND participant_id = ?",
			sessionID, participantID,
		)
		return err
	})
}

// RevealEstimations marks an active session revealed. Consensus is recorded
// when at least one estimation exists and all cards are equal.
func (s *SQLiteStore) RevealEstimations(ctx context.Context, sessionID string, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		status, err := sessionStatus(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if status != domain.SessionActive {
			return fmt.Errorf("reveal %s session %s: %w", status, sessionID, ErrInvalidTransition)
		}

		var total, distinct int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*), COUNT(DISTINCT card_value) FROM estimations WHERE session_id = ?",
			sessionID,
		).Scan(&total, &distinct); err != nil {
			return err
		}
		consensus := total > 0 && distinct == 1

		_, err = tx.ExecContext(ctx,
			"UPDATE sessions SET status = ?, has_consensus = ?, revealed_at = ? WHERE id = ?",
			string(domain.SessionRevealed), consensus, at.UTC(), sessionID,
		)
		return err
	})
}

// ResetSession clears estimations, appends to the reset history and puts the
// session back to active.
func (s *SQLiteStore) ResetSession(ctx context.Context, sessionID, resetBy string, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := sessionStatus(ctx, tx, sessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO session_resets (session_id, reset_by, reset_at) VALUES (?, ?, ?)",
			sessionID, resetBy, at.UTC(),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM estimations WHERE session_id = ?", sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE sessions SET status = ?, has_consensus = 0, revealed_at = NULL WHERE id = ?",
			string(domain.SessionActive), sessionID,
		)
		return err
	})
}

// CompleteSession records the final estimation. Completing twice is an error.
func (s *SQLiteStore) CompleteSession(ctx context.Context, sessionID string, final domain.CardValue, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		status, err := sessionStatus(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if status == domain.SessionCompleted {
			return fmt.Errorf("complete session %s: %w", sessionID, ErrInvalidTransition)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE sessions SET status = ?, final_estimation = ?, completed_at = ? WHERE id = ?",
			string(domain.SessionCompleted), string(final), at.UTC(), sessionID,
		)
		return err
	})
}

// GetSession loads one session with its estimations and resets.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, task_name, story_id, status, has_consensus, final_estimation,
		       started_at, revealed_at, completed_at
		FROM sessions WHERE id = ?
	`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("get session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.loadChildren(ctx, &sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// ListSessions returns the room's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, roomID string) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, task_name, story_id, status, has_consensus, final_estimation,
		       started_at, revealed_at, completed_at
		FROM sessions WHERE room_id = ?
		ORDER BY started_at DESC
	`, roomID)
	if err != nil {
		return nil, err
	}

	sessions := []domain.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the single connection before the child queries.
	rows.Close()

	for i := range sessions {
		if err := s.loadChildren(ctx, &sessions[i]); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.Session, error) {
	var (
		sess      domain.Session
		status    string
		final     string
		revealed  sql.NullTime
		completed sql.NullTime
	)
	if err := row.Scan(
		&sess.ID, &sess.RoomID, &sess.TaskName, &sess.StoryID, &status, &sess.HasConsensus, &final,
		&sess.StartedAt, &revealed, &completed,
	); err != nil {
		return domain.Session{}, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.FinalEstimation = domain.CardValue(final)
	if revealed.Valid {
		t := revealed.Time
		sess.RevealedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		sess.CompletedAt = &t
	}
	return sess, nil
}

func (s *SQLiteStore) loadChildren(ctx context.Context, sess *domain.Session) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT participant_id, card_value, estimated_at FROM estimations
		WHERE session_id = ?
		ORDER BY estimated_at, participant_id
	`, sess.ID)
	if err != nil {
		return err
	}
	sess.Estimations = []domain.Estimation{}
	for rows.Next() {
		var e domain.Estimation
		var card string
		if err := rows.Scan(&e.ParticipantID, &card, &e.EstimatedAt); err != nil {
			rows.Close()
			return err
		}
		e.CardValue = domain.CardValue(card)
		sess.Estimations = append(sess.Estimations, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		"SELECT reset_by, reset_at FROM session_resets WHERE session_id = ? ORDER BY id",
		sess.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r domain.Reset
		if err := rows.Scan(&r.ResetBy, &r.ResetAt); err != nil {
			return err
		}
		sess.Resets = append(sess.Resets, r)
	}
	return rows.Err()
}

func sessionStatus(ctx context.Context, tx *sql.Tx, sessionID string) (domain.SessionStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM sessions WHERE id = ?", sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return "", err
	}
	return domain.SessionStatus(status), nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
