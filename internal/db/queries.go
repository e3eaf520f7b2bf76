package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

// DefaultListLimit is used by ListRuns when no positive limit is given.
const DefaultListLimit = 20

// Store persists sessions, runs and clients. Every method is a single
// statement or a single transaction; failures are returned as *errors.EvalError.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps an initialized database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

const runColumns = `
	r.id, r.session_id, r.client_id, c.name, c.version, r.capabilities_json,
	r.status, r.success, r.score, r.details_json, r.time_to_completion_ms,
	r.created_at, r.completed_at
	FROM runs r JOIN clients c ON c.id = r.client_id`

// GetOrCreateSession returns the stored session, creating it in IdleState if
// it does not exist. The stored initialization params are refreshed on every
// call; runs keep the capabilities captured when they were created.
func (s *Store) GetOrCreateSession(ctx context.Context, sessionID string, init model.InitParams) (*model.Session, error) {
	if sessionID == "" {
		return nil, errors.NewInvalidRequest("session id is required")
	}

	initJSON, err := json.Marshal(init)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	now := s.now().UnixMilli()
	query := `
		INSERT INTO sessions (id, run_id, state, reservation_json, init_params_json, created_at, updated_at)
		VALUES (?, NULL, ?, '{}', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET init_params_json = excluded.init_params_json
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(model.StateIdle), string(initJSON), now, now); err != nil {
		return nil, errors.NewInternal(err)
	}

	return s.GetSession(ctx, sessionID)
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	query := `
		SELECT id, run_id, state, reservation_json, init_params_json, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("session", sessionID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return sess, nil
}

// CreateRunForSession creates an in_progress run from the session's stored
// initialization params and links it to the session.
func (s *Store) CreateRunForSession(ctx context.Context, sessionID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	var initJSON string
	err = tx.QueryRowContext(ctx, `SELECT init_params_json FROM sessions WHERE id = ?`, sessionID).Scan(&initJSON)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFound("session", sessionID)
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}

	var init model.InitParams
	if err := json.Unmarshal([]byte(initJSON), &init); err != nil {
		return "", errors.NewInternal(err)
	}

	clientID, err := s.findOrCreateClient(ctx, tx, init.ClientInfo)
	if err != nil {
		return "", err
	}

	runID, err := s.insertRun(ctx, tx, sessionID, clientID, init.Capabilities)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET run_id = ?, updated_at = ? WHERE id = ?`,
		runID, s.now().UnixMilli(), sessionID,
	); err != nil {
		return "", errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return "", errors.NewInternal(err)
	}
	return runID, nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` WHERE r.id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("run", runID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return run, nil
}

// UpdateRunResult stores the scorecard snapshot and its live total on an
// in_progress run.
func (s *Store) UpdateRunResult(ctx context.Context, runID string, details scorecard.Scorecard) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return errors.NewInternal(err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET score = ?, details_json = ? WHERE id = ? AND status = ?`,
		details.Total(), string(detailsJSON), runID, model.RunInProgress,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return s.checkRunUpdated(ctx, result, runID)
}

// UpdateSession persists the state tag and reservation record.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, state model.StateTag, res model.Reservation) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return errors.NewInternal(err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, reservation_json = ?, updated_at = ? WHERE id = ?`,
		string(state), string(resJSON), s.now().UnixMilli(), sessionID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("session", sessionID)
	}
	return nil
}

// FinalizeRun completes the session's current run with result, stamps the
// completion time and duration, and moves the stored session to FinishedState
// with an empty reservation record. A run that is already completed is
// rejected with RUN_COMPLETED and nothing is written.
func (s *Store) FinalizeRun(ctx context.Context, sessionID string, result model.RunResult) error {
	detailsJSON, err := json.Marshal(result.Details)
	if err != nil {
		return errors.NewInternal(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	runID, err := sessionRunID(ctx, tx, sessionID)
	if err != nil {
		return err
	}

	var (
		createdAt int64
		status    string
	)
	err = tx.QueryRowContext(ctx, `SELECT created_at, status FROM runs WHERE id = ?`, runID).Scan(&createdAt, &status)
	if err == sql.ErrNoRows {
		return errors.NewNotFound("run", runID)
	}
	if err != nil {
		return errors.NewInternal(err)
	}
	if status == model.RunCompleted {
		return errors.NewRunCompleted(runID)
	}

	now := s.now().UnixMilli()
	elapsed := now - createdAt
	if elapsed < 0 {
		elapsed = 0
	}

	update, err := tx.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, success = ?, score = ?, details_json = ?,
			time_to_completion_ms = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`,
		model.RunCompleted, result.Success, result.Score, string(detailsJSON),
		elapsed, now,
		runID, model.RunInProgress,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := update.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewRunCompleted(runID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, reservation_json = '{}', updated_at = ? WHERE id = ?`,
		string(model.StateFinished), now, sessionID,
	); err != nil {
		return errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ResetSessionData starts a new run for the client and capabilities of the
// session's stored handshake, rewinds the session to IdleState and clears its
// reservation record. Returns the new run id.
func (s *Store) ResetSessionData(ctx context.Context, sessionID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	var initJSON string
	err = tx.QueryRowContext(ctx, `SELECT init_params_json FROM sessions WHERE id = ?`, sessionID).Scan(&initJSON)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFound("session", sessionID)
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}

	var init model.InitParams
	if err := json.Unmarshal([]byte(initJSON), &init); err != nil {
		return "", errors.NewInternal(err)
	}
	clientID, err := s.findOrCreateClient(ctx, tx, init.ClientInfo)
	if err != nil {
		return "", err
	}

	runID, err := s.insertRun(ctx, tx, sessionID, clientID, init.Capabilities)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET run_id = ?, state = ?, reservation_json = '{}', updated_at = ? WHERE id = ?`,
		runID, string(model.StateIdle), s.now().UnixMilli(), sessionID,
	); err != nil {
		return "", errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return "", errors.NewInternal(err)
	}
	return runID, nil
}

// GetLatestRunForSession returns the run the session currently points at, or
// nil if the session is unknown or has not started a run.
func (s *Store) GetLatestRunForSession(ctx context.Context, sessionID string) (*model.Run, error) {
	var runID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT run_id FROM sessions WHERE id = ?`, sessionID).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if !runID.Valid {
		return nil, nil
	}
	return s.GetRun(ctx, runID.String)
}

// GetAllSuccessfulRunsRanked returns completed successful runs ordered by
// score descending, then time to completion, then completion time.
func (s *Store) GetAllSuccessfulRunsRanked(ctx context.Context) ([]model.Run, error) {
	query := `SELECT ` + runColumns + `
		WHERE r.status = ? AND r.success = 1
		ORDER BY r.score DESC, r.time_to_completion_ms ASC, r.completed_at ASC, r.id ASC
	`
	return s.queryRuns(ctx, query, model.RunCompleted)
}

// ListRuns returns the most recently created runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `SELECT ` + runColumns + `
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?
	`
	return s.queryRuns(ctx, query, limit)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]model.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	runs := make([]model.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return runs, nil
}

// findOrCreateClient returns the id of the client row for info, inserting it
// if needed. Clients are unique on (name, version).
func (s *Store) findOrCreateClient(ctx context.Context, tx *sql.Tx, info model.ClientInfo) (string, error) {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO clients (id, name, version, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name, version) DO NOTHING`,
		uuid.NewString(), info.Name, info.Version, s.now().UnixMilli(),
	); err != nil {
		return "", errors.NewInternal(err)
	}

	var id string
	if err := tx.QueryRowContext(ctx,
		`SELECT id FROM clients WHERE name = ? AND version = ?`, info.Name, info.Version,
	).Scan(&id); err != nil {
		return "", errors.NewInternal(err)
	}
	return id, nil
}

func (s *Store) insertRun(ctx context.Context, tx *sql.Tx, sessionID, clientID string, caps model.Capabilities) (string, error) {
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return "", errors.NewInternal(err)
	}

	now := s.now()
	id, err := ulid.New(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", errors.NewInternal(err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, session_id, client_id, capabilities_json, status, score, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, id.String(), sessionID, clientID, string(capsJSON), model.RunInProgress, now.UnixMilli()); err != nil {
		return "", errors.NewInternal(err)
	}
	return id.String(), nil
}

// checkRunUpdated maps a zero-row update on an in_progress run to
// RUN_COMPLETED or NOT_FOUND.
func (s *Store) checkRunUpdated(ctx context.Context, result sql.Result, runID string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, runID).Scan(&status)
	if err == sql.ErrNoRows {
		return errors.NewNotFound("run", runID)
	}
	if err != nil {
		return errors.NewInternal(err)
	}
	return errors.NewRunCompleted(runID)
}

func sessionRunID(ctx context.Context, tx *sql.Tx, sessionID string) (string, error) {
	var runID sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT run_id FROM sessions WHERE id = ?`, sessionID).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFound("session", sessionID)
	}
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if !runID.Valid {
		return "", errors.NewNotFound("run for session", sessionID)
	}
	return runID.String, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanSession scans a single row into a Session.
func scanSession(row scanner) (*model.Session, error) {
	var (
		sess     model.Session
		runID    sql.NullString
		state    string
		resJSON  string
		initJSON string
	)

	if err := row.Scan(&sess.ID, &runID, &state, &resJSON, &initJSON, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}

	sess.RunID = fromNullString(runID)
	// Tags are validated by the engine when it resumes the session
	sess.State = model.StateTag(state)

	if resJSON != "" {
		if err := json.Unmarshal([]byte(resJSON), &sess.Reservation); err != nil {
			return nil, err
		}
	}
	if initJSON != "" {
		if err := json.Unmarshal([]byte(initJSON), &sess.InitParams); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

// scanRun scans a single row into a Run.
func scanRun(row scanner) (*model.Run, error) {
	var (
		run         model.Run
		capsJSON    string
		success     sql.NullBool
		detailsJSON sql.NullString
		elapsed     sql.NullInt64
		completedAt sql.NullInt64
	)

	err := row.Scan(
		&run.ID, &run.SessionID, &run.ClientID, &run.ClientName, &run.ClientVersion, &capsJSON,
		&run.Status, &success, &run.Score, &detailsJSON, &elapsed,
		&run.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(capsJSON), &run.DeclaredCapabilities); err != nil {
		return nil, err
	}
	if success.Valid {
		run.Success = &success.Bool
	}
	if elapsed.Valid {
		run.TimeToCompletionMS = &elapsed.Int64
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Int64
	}
	if detailsJSON.Valid && detailsJSON.String != "" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &run.Details); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
