package course

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/lti-assistant/internal/db"
	"github.com/mind-engage/lti-assistant/internal/lti"
)

type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(h *sql.DB) *SQLStore {
	return &SQLStore{db: h, now: time.Now}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const courseCols = `id, canvas_course_id, course_name, course_code, professor_id, deployment_id,
  is_active, assistant_name, openai_api_key, system_instructions, model, max_tokens, temperature,
  is_setup_complete, created_at, updated_at`

const professorCols = `id, lti_user_id, canvas_user_id, name, email, last_login, created_at, updated_at`

func scanCourse(row interface{ Scan(...any) error }) (Course, error) {
	var (
		c                  Course
		key, instr         sql.NullString
		created, updatedAt int64
	)
	err := row.Scan(&c.ID, &c.CanvasCourseID, &c.CourseName, &c.CourseCode, &c.ProfessorID, &c.DeploymentID,
		&c.IsActive, &c.AssistantName, &key, &instr, &c.Model, &c.MaxTokens, &c.Temperature,
		&c.IsSetupComplete, &created, &updatedAt)
	if err != nil {
		return Course{}, err
	}
	c.APIKey = key.String
	c.SystemInstructions = instr.String
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return c, nil
}

func scanProfessor(row interface{ Scan(...any) error }) (Professor, error) {
	var (
		p                  Professor
		lastLogin          sql.NullInt64
		created, updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.LTIUserID, &p.CanvasUserID, &p.Name, &p.Email, &lastLogin, &created, &updatedAt); err != nil {
		return Professor{}, err
	}
	if lastLogin.Valid {
		t := time.UnixMilli(lastLogin.Int64)
		p.LastLogin = &t
	}
	p.CreatedAt = time.UnixMilli(created)
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return p, nil
}

func (s *SQLStore) ProvisionInstructor(ctx context.Context, u lti.UserInfo, ci lti.CourseInfo) (Professor, Course, error) {
	var (
		p Professor
		c Course
	)
	now := s.now().UnixMilli()
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO professors
			(id, lti_user_id, canvas_user_id, name, email, last_login, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$6,$6)
			ON CONFLICT (lti_user_id) DO UPDATE SET
			  canvas_user_id=EXCLUDED.canvas_user_id, name=EXCLUDED.name, email=EXCLUDED.email,
			  last_login=EXCLUDED.last_login, updated_at=EXCLUDED.updated_at`,
			uuid.NewString(), u.LTIUserID, u.CanvasUserID, u.Name, u.Email, now)
		if err != nil {
			return fmt.Errorf("upsert professor: %w", err)
		}
		if p, err = scanProfessor(tx.QueryRowContext(ctx,
			`SELECT `+professorCols+` FROM professors WHERE lti_user_id=$1`, u.LTIUserID)); err != nil {
			return fmt.Errorf("load professor: %w", err)
		}

		// canvas_course_id is unique: an existing course keeps its owner and
		// only picks up the current name.
		_, err = tx.ExecContext(ctx, `INSERT INTO courses
			(id, canvas_course_id, course_name, course_code, professor_id, deployment_id, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
			ON CONFLICT (canvas_course_id) DO UPDATE SET
			  course_name=EXCLUDED.course_name, updated_at=EXCLUDED.updated_at`,
			uuid.NewString(), ci.CanvasCourseID, ci.CourseName, ci.CourseCode, p.ID, ci.DeploymentID, now)
		if err != nil {
			return fmt.Errorf("upsert course: %w", err)
		}
		if c, err = scanCourse(tx.QueryRowContext(ctx,
			`SELECT `+courseCols+` FROM courses WHERE canvas_course_id=$1`, ci.CanvasCourseID)); err != nil {
			return fmt.Errorf("load course: %w", err)
		}
		return nil
	})
	if err != nil {
		return Professor{}, Course{}, fmt.Errorf("course: provision: %w", err)
	}
	return p, c, nil
}

func (s *SQLStore) GetByCanvasID(ctx context.Context, canvasCourseID string) (Course, error) {
	return s.getCourse(ctx, s.db, `WHERE canvas_course_id=$1`, canvasCourseID)
}

func (s *SQLStore) getCourse(ctx context.Context, q querier, where string, args ...any) (Course, error) {
	c, err := scanCourse(q.QueryRowContext(ctx, `SELECT `+courseCols+` FROM courses `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrNotFound
	}
	return c, err
}

func (s *SQLStore) getProfessor(ctx context.Context, where string, args ...any) (Professor, error) {
	p, err := scanProfessor(s.db.QueryRowContext(ctx, `SELECT `+professorCols+` FROM professors `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Professor{}, ErrProfessorNotFound
	}
	return p, err
}

func (s *SQLStore) FindForChat(ctx context.Context, canvasCourseID, deploymentID string) (Course, Professor, error) {
	var (
		c   Course
		err error
	)
	if deploymentID != "" {
		c, err = s.getCourse(ctx, s.db, `WHERE canvas_course_id=$1 AND deployment_id=$2`, canvasCourseID, deploymentID)
	} else {
		c, err = s.getCourse(ctx, s.db, `WHERE canvas_course_id=$1`, canvasCourseID)
	}
	if err != nil {
		return Course{}, Professor{}, err
	}
	p, err := s.getProfessor(ctx, `WHERE id=$1`, c.ProfessorID)
	if err != nil {
		return Course{}, Professor{}, err
	}
	return c, p, nil
}

func (s *SQLStore) FindOwned(ctx context.Context, ltiUserID, canvasCourseID string) (Professor, Course, error) {
	p, err := s.getProfessor(ctx, `WHERE lti_user_id=$1`, ltiUserID)
	if err != nil {
		return Professor{}, Course{}, err
	}
	c, err := s.getCourse(ctx, s.db, `WHERE canvas_course_id=$1 AND professor_id=$2`, canvasCourseID, p.ID)
	if err != nil {
		return Professor{}, Course{}, err
	}
	return p, c, nil
}

func (s *SQLStore) SaveAPIKey(ctx context.Context, courseID, stored string) (Course, error) {
	return s.update(ctx, courseID, `openai_api_key=$1`, stored)
}

func (s *SQLStore) SaveInstructions(ctx context.Context, courseID, instructions string) (Course, error) {
	return s.update(ctx, courseID, `system_instructions=$1`, instructions)
}

// update applies set (which uses $1) and then marks the course complete
// once it has both a key and instructions.
func (s *SQLStore) update(ctx context.Context, courseID, set string, value string) (Course, error) {
	var c Course
	now := s.now().UnixMilli()
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE courses SET `+set+`, updated_at=$2 WHERE id=$3`, value, now, courseID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, `UPDATE courses SET is_setup_complete=TRUE
			WHERE id=$1 AND openai_api_key IS NOT NULL AND openai_api_key <> ''
			  AND system_instructions IS NOT NULL AND system_instructions <> ''`, courseID); err != nil {
			return err
		}
		c, err = s.getCourse(ctx, tx, `WHERE id=$1`, courseID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Course{}, err
		}
		return Course{}, fmt.Errorf("course: update: %w", err)
	}
	return c, nil
}
