package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/lti-assistant/internal/db"
)

// Transcript is the stored conversation of one student in one course.
type Transcript struct {
	ID              string    `json:"id"`
	CourseID        string    `json:"course_id"`
	StudentCanvasID string    `json:"student_canvas_id"`
	StudentName     string    `json:"student_name"`
	Title           string    `json:"session_title"`
	Messages        []Message `json:"messages"`
	MessageCount    int       `json:"message_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastMessageAt   time.Time `json:"last_message_at"`
}

// Transcripts keeps one chat_sessions row per course and student, holding
// the latest full conversation.
type Transcripts struct {
	db  *sql.DB
	now func() time.Time
}

func NewTranscripts(h *sql.DB) *Transcripts {
	return &Transcripts{db: h, now: time.Now}
}

func (t *Transcripts) Record(ctx context.Context, courseID, studentID, studentName string, msgs []Message) error {
	buf, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	now := t.now().UnixMilli()
	return db.WithTx(ctx, t.db, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM chat_sessions
			WHERE course_id=$1 AND student_canvas_id=$2 ORDER BY created_at DESC LIMIT 1`,
			courseID, studentID).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx, `INSERT INTO chat_sessions
				(id, course_id, student_canvas_id, student_name, messages, message_count, created_at, updated_at, last_message_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$7,$7)`,
				uuid.NewString(), courseID, studentID, studentName, string(buf), len(msgs), now)
		case err == nil:
			_, err = tx.ExecContext(ctx, `UPDATE chat_sessions
				SET student_name=$1, messages=$2, message_count=$3, updated_at=$4, last_message_at=$4
				WHERE id=$5`,
				studentName, string(buf), len(msgs), now, id)
		}
		if err != nil {
			return fmt.Errorf("chat: record transcript: %w", err)
		}
		return nil
	})
}

// Latest returns the student's transcript for the course, or nil.
func (t *Transcripts) Latest(ctx context.Context, courseID, studentID string) (*Transcript, error) {
	var (
		tr                        Transcript
		raw                       string
		created, updated, lastMsg int64
	)
	err := t.db.QueryRowContext(ctx, `SELECT id, course_id, student_canvas_id, student_name, session_title,
		  messages, message_count, created_at, updated_at, last_message_at
		FROM chat_sessions WHERE course_id=$1 AND student_canvas_id=$2 ORDER BY created_at DESC LIMIT 1`,
		courseID, studentID).Scan(&tr.ID, &tr.CourseID, &tr.StudentCanvasID, &tr.StudentName, &tr.Title,
		&raw, &tr.MessageCount, &created, &updated, &lastMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &tr.Messages); err != nil {
		return nil, fmt.Errorf("chat: decode transcript: %w", err)
	}
	tr.CreatedAt = time.UnixMilli(created)
	tr.UpdatedAt = time.UnixMilli(updated)
	tr.LastMessageAt = time.UnixMilli(lastMsg)
	return &tr, nil
}
