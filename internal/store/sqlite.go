package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dkeye/telecare/internal/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS call_sessions (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		room_id        TEXT NOT NULL,
		status         TEXT NOT NULL,
		offer          TEXT,
		answer         TEXT,
		ice_candidates TEXT NOT NULL DEFAULT '[]',
		created_at     TEXT NOT NULL,
		started_at     TEXT,
		ended_at       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_call_sessions_status ON call_sessions(status);`

// Store is the SQLite-backed relay store.
type Store struct {
	db  *sql.DB
	pub Publisher
}

// Open opens or creates the database under dataDir. pub may be nil.
func Open(dataDir string, pub Publisher) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them; a one-off
	// Exec would configure only the single connection it happened to run on.
	dsn := "file:" + filepath.Join(dataDir, "telecare.db") +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call_sessions table: %w", err)
	}

	return &Store{db: db, pub: pub}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a fresh scheduled session for the initiator and returns it.
func (s *Store) Create(ctx context.Context, userID domain.UserID) (domain.CallSession, error) {
	sess := domain.NewCallSession(userID)
	if err := s.Insert(ctx, sess); err != nil {
		return domain.CallSession{}, err
	}
	s.publish(ctx, sess.ID)
	return sess, nil
}

const insertQuery = `
	INSERT INTO call_sessions(
		id, user_id, room_id, status, offer, answer, ice_candidates, created_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Insert persists an already-built session row, e.g. one tied to a hosted
// provider room.
func (s *Store) Insert(ctx context.Context, sess domain.CallSession) error {
	offer, err := encodeSDP(sess.Offer)
	if err != nil {
		return err
	}
	answer, err := encodeSDP(sess.Answer)
	if err != nil {
		return err
	}
	cands, err := json.Marshal(candidatesOrEmpty(sess.ICECandidates))
	if err != nil {
		return fmt.Errorf("encode candidates: %w", err)
	}

	_, err = s.db.ExecContext(ctx, insertQuery,
		sess.ID, sess.UserID, sess.RoomID, sess.Status,
		offer, answer, string(cands), formatTime(sess.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert call session: %w", err)
	}
	return nil
}

const selectColumns = `
	id, user_id, room_id, status, offer, answer, ice_candidates,
	created_at, started_at, ended_at`

// Get loads one session row by id.
func (s *Store) Get(ctx context.Context, id domain.SessionID) (domain.CallSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM call_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListByStatus returns sessions in the given status, newest first. The
// responder uses it to discover sessions awaiting an answer.
func (s *Store) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.CallSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM call_sessions WHERE status = ? ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("query call sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.CallSession, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SetOffer records the initiator's SDP offer. At most one offer per session.
func (s *Store) SetOffer(ctx context.Context, id domain.SessionID, offer domain.SessionDescription) error {
	encoded, err := encodeSDP(&offer)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE call_sessions SET offer = ? WHERE id = ? AND offer IS NULL AND status = ?`,
		encoded, id, domain.StatusScheduled)
	if err != nil {
		return fmt.Errorf("set offer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.explainRejection(ctx, id, func(sess domain.CallSession) error {
			if sess.Offer != nil {
				return domain.ErrOfferExists
			}
			return domain.ErrSessionCompleted
		})
	}

	s.publish(ctx, id)
	return nil
}

// SetAnswer records the responder's SDP answer and, in the same statement,
// moves the row scheduled -> active with a start timestamp. Requires that an
// offer already exists.
func (s *Store) SetAnswer(ctx context.Context, id domain.SessionID, answer domain.SessionDescription) error {
	encoded, err := encodeSDP(&answer)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE call_sessions
		SET answer = ?, status = ?, started_at = ?
		WHERE id = ? AND offer IS NOT NULL AND answer IS NULL AND status = ?`,
		encoded, domain.StatusActive, formatTime(time.Now().UTC()), id, domain.StatusScheduled)
	if err != nil {
		return fmt.Errorf("set answer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.explainRejection(ctx, id, func(sess domain.CallSession) error {
			switch {
			case sess.Offer == nil:
				return domain.ErrOfferPending
			case sess.Answer != nil:
				return domain.ErrAnswerExists
			default:
				return domain.ErrSessionCompleted
			}
		})
	}

	s.publish(ctx, id)
	return nil
}

// AppendCandidate appends one ICE candidate to the row's list. The append is
// a single server-side json_insert, so near-simultaneous appends from both
// peers cannot overwrite each other. Rejected once the session completed.
func (s *Store) AppendCandidate(ctx context.Context, id domain.SessionID, cand domain.ICECandidate) error {
	encoded, err := json.Marshal(cand)
	if err != nil {
		return fmt.Errorf("encode candidate: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE call_sessions
		SET ice_candidates = json_insert(ice_candidates, '$[#]', json(?))
		WHERE id = ? AND status != ?`,
		string(encoded), id, domain.StatusCompleted)
	if err != nil {
		return fmt.Errorf("append candidate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.explainRejection(ctx, id, func(domain.CallSession) error {
			return domain.ErrSessionCompleted
		})
	}

	s.publish(ctx, id)
	return nil
}

// Complete marks the session ended. Terminal and idempotent: completing an
// already-completed session is a no-op so either peer may hang up first.
func (s *Store) Complete(ctx context.Context, id domain.SessionID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE call_sessions SET status = ?, ended_at = ? WHERE id = ? AND status != ?`,
		domain.StatusCompleted, formatTime(time.Now().UTC()), id, domain.StatusCompleted)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either missing or already completed; only the former is an error.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return nil
	}

	s.publish(ctx, id)
	return nil
}

// explainRejection maps a conditional-update miss back to a domain error.
func (s *Store) explainRejection(ctx context.Context, id domain.SessionID, classify func(domain.CallSession) error) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return classify(sess)
}

func (s *Store) publish(ctx context.Context, id domain.SessionID) {
	if s.pub == nil {
		return
	}
	if sess, err := s.Get(ctx, id); err == nil {
		s.pub.Publish(sess)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.CallSession, error) {
	var (
		sess                 domain.CallSession
		offer, answer        sql.NullString
		cands, created       string
		startedAt, endedAt   sql.NullString
	)

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.RoomID, &sess.Status,
		&offer, &answer, &cands, &created, &startedAt, &endedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CallSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.CallSession{}, fmt.Errorf("scan call session: %w", err)
	}

	if sess.Offer, err = decodeSDP(offer); err != nil {
		return domain.CallSession{}, err
	}
	if sess.Answer, err = decodeSDP(answer); err != nil {
		return domain.CallSession{}, err
	}
	if err = json.Unmarshal([]byte(cands), &sess.ICECandidates); err != nil {
		return domain.CallSession{}, fmt.Errorf("decode candidates: %w", err)
	}
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return domain.CallSession{}, err
	}
	if sess.StartedAt, err = parseNullTime(startedAt); err != nil {
		return domain.CallSession{}, err
	}
	if sess.EndedAt, err = parseNullTime(endedAt); err != nil {
		return domain.CallSession{}, err
	}
	return sess, nil
}

func encodeSDP(sdp *domain.SessionDescription) (any, error) {
	if sdp == nil {
		return nil, nil
	}
	b, err := json.Marshal(sdp)
	if err != nil {
		return nil, fmt.Errorf("encode sdp: %w", err)
	}
	return string(b), nil
}

func decodeSDP(raw sql.NullString) (*domain.SessionDescription, error) {
	if !raw.Valid {
		return nil, nil
	}
	var sdp domain.SessionDescription
	if err := json.Unmarshal([]byte(raw.String), &sdp); err != nil {
		return nil, fmt.Errorf("decode sdp: %w", err)
	}
	return &sdp, nil
}

func candidatesOrEmpty(cands []domain.ICECandidate) []domain.ICECandidate {
	if cands == nil {
		return []domain.ICECandidate{}
	}
	return cands
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
