// Package session persists tool sessions created by LTI launches.
//
// A user holds at most one live session per course from the caller's point
// of view: FindOrCreate reuses the newest active row before inserting. Two
// concurrent launches may still both insert; both rows are valid sessions
// and the newer one wins later lookups.
package session

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DefaultTTL = 24 * time.Hour

var ErrNotFound = errors.New("session: not found")

type Session struct {
	ID             string    `json:"-"`
	Token          string    `json:"-"`
	LTIUserID      string    `json:"lti_user_id"`
	CanvasUserID   string    `json:"canvas_user_id"`
	CanvasCourseID string    `json:"canvas_course_id"`
	UserName       string    `json:"user_name"`
	UserEmail      string    `json:"user_email"`
	UserRoles      []string  `json:"user_roles"`
	CourseName     string    `json:"course_name"`
	DeploymentID   string    `json:"deployment_id"`
	UserAgent      string    `json:"-"`
	IPAddress      string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type CreateParams struct {
	LTIUserID      string
	CanvasUserID   string
	CanvasCourseID string
	UserName       string
	UserEmail      string
	UserRoles      []string
	CourseName     string
	DeploymentID   string
	UserAgent      string
	IPAddress      string
}

// DB is the subset of *sql.DB the store needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Observer receives session lifecycle counts (metrics).
type Observer interface {
	SessionCreated()
	SessionReused()
	SessionsSwept(n int64)
}

type Store struct {
	db  DB
	ttl time.Duration
	now func() time.Time
	obs Observer
}

type Option func(*Store)

func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.obs = o }
}

func NewStore(db DB, opts ...Option) *Store {
	s := &Store{db: db, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) TTL() time.Duration { return s.ttl }

const selectCols = `id, session_token, lti_user_id, canvas_user_id, canvas_course_id,
  user_name, user_email, user_roles, course_name, deployment_id, user_agent, ip_address,
  is_active, created_at, last_activity, expires_at`

func scanSession(row *sql.Row) (*Session, error) {
	var (
		s                           Session
		roles                       string
		created, lastAct, expiresAt int64
	)
	err := row.Scan(&s.ID, &s.Token, &s.LTIUserID, &s.CanvasUserID, &s.CanvasCourseID,
		&s.UserName, &s.UserEmail, &roles, &s.CourseName, &s.DeploymentID, &s.UserAgent, &s.IPAddress,
		&s.IsActive, &created, &lastAct, &expiresAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roles), &s.UserRoles); err != nil {
		return nil, fmt.Errorf("session: decode roles: %w", err)
	}
	s.CreatedAt = time.UnixMilli(created)
	s.LastActivity = time.UnixMilli(lastAct)
	s.ExpiresAt = time.UnixMilli(expiresAt)
	return &s, nil
}

// FindActive returns the newest live session for the user in the course,
// or nil when there is none.
func (s *Store) FindActive(ctx context.Context, ltiUserID, courseID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM sessions
		WHERE lti_user_id=$1 AND canvas_course_id=$2 AND is_active=TRUE AND expires_at > $3
		ORDER BY created_at DESC LIMIT 1`,
		ltiUserID, courseID, s.now().UnixMilli())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// FindOrCreate returns the token of a live session for the pair, extending
// it, or creates a new one.
func (s *Store) FindOrCreate(ctx context.Context, p CreateParams) (token string, reused bool, err error) {
	existing, err := s.FindActive(ctx, p.LTIUserID, p.CanvasCourseID)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		err := s.extendLive(ctx, existing.Token)
		switch {
		case err == nil:
			if s.obs != nil {
				s.obs.SessionReused()
			}
			return existing.Token, true, nil
		case !errors.Is(err, ErrNotFound):
			return "", false, err
		}
		// invalidated or expired since FindActive; start a new one
	}

	token, err = NewToken()
	if err != nil {
		return "", false, err
	}
	roles := p.UserRoles
	if roles == nil {
		roles = []string{}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return "", false, err
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions
		(id, session_token, lti_user_id, canvas_user_id, canvas_course_id, user_name, user_email,
		 user_roles, course_name, deployment_id, user_agent, ip_address, is_active,
		 created_at, last_activity, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,TRUE,$13,$14,$15)`,
		uuid.NewString(), token, p.LTIUserID, p.CanvasUserID, p.CanvasCourseID, p.UserName, p.UserEmail,
		string(rolesJSON), p.CourseName, p.DeploymentID, p.UserAgent, p.IPAddress,
		now.UnixMilli(), now.UnixMilli(), now.Add(s.ttl).UnixMilli())
	if err != nil {
		return "", false, fmt.Errorf("session: insert: %w", err)
	}
	if s.obs != nil {
		s.obs.SessionCreated()
	}
	return token, false, nil
}

// Get returns the live session for token and records the access, or nil.
func (s *Store) Get(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	now := s.now()
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM sessions
		WHERE session_token=$1 AND is_active=TRUE AND expires_at > $2`,
		token, now.UnixMilli())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_activity=$1 WHERE session_token=$2`,
		now.UnixMilli(), token); err != nil {
		return nil, fmt.Errorf("session: touch: %w", err)
	}
	sess.LastActivity = time.UnixMilli(now.UnixMilli())
	return sess, nil
}

func (s *Store) Extend(ctx context.Context, token string) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET expires_at=$1, last_activity=$2 WHERE session_token=$3`,
		now.Add(s.ttl).UnixMilli(), now.UnixMilli(), token)
	if err != nil {
		return fmt.Errorf("session: extend: %w", err)
	}
	return requireRow(res)
}

// extendLive is Extend restricted to a session that is still active and
// unexpired.
func (s *Store) extendLive(ctx context.Context, token string) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET expires_at=$1, last_activity=$2
		WHERE session_token=$3 AND is_active=TRUE AND expires_at > $2`,
		now.Add(s.ttl).UnixMilli(), now.UnixMilli(), token)
	if err != nil {
		return fmt.Errorf("session: extend: %w", err)
	}
	return requireRow(res)
}

func (s *Store) Invalidate(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active=FALSE, last_activity=$1 WHERE session_token=$2`,
		s.now().UnixMilli(), token)
	if err != nil {
		return fmt.Errorf("session: invalidate: %w", err)
	}
	return requireRow(res)
}

// SweepExpired deactivates every active session past its expiry and
// returns how many rows changed.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET is_active=FALSE WHERE is_active=TRUE AND expires_at < $1`,
		s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if s.obs != nil {
		s.obs.SessionsSwept(n)
	}
	return n, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// NewToken returns 32 random bytes hex encoded.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
