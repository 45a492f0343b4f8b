// Package chat proxies student conversations to an OpenAI-compatible
// completion API using the course's own key and instructions.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/course"
	"github.com/mind-engage/lti-assistant/internal/session"
)

var ErrNotConfigured = errors.New("chat: assistant not configured")

// Courses is the slice of course.Service the chat flow needs.
type Courses interface {
	FindForChat(ctx context.Context, canvasCourseID, deploymentID string) (course.Course, course.Professor, error)
	RevealAPIKey(c course.Course) (string, error)
}

type Completer interface {
	Complete(ctx context.Context, apiKey string, req CompletionRequest) (Message, error)
}

type Recorder interface {
	Record(ctx context.Context, courseID, studentID, studentName string, msgs []Message) error
}

type Service struct {
	courses     Courses
	completer   Completer
	transcripts Recorder
	log         zerolog.Logger
}

func NewService(courses Courses, completer Completer, transcripts Recorder, log zerolog.Logger) *Service {
	return &Service{courses: courses, completer: completer, transcripts: transcripts, log: log}
}

// Reply answers the conversation for the session's course. Errors wrap
// course.ErrNotFound, ErrNotConfigured, secrets.ErrDecryption or a
// *StatusError from the upstream.
func (s *Service) Reply(ctx context.Context, sess *session.Session, msgs []Message) (Message, error) {
	c, prof, err := s.courses.FindForChat(ctx, sess.CanvasCourseID, sess.DeploymentID)
	if err != nil {
		return Message{}, err
	}
	if !c.HasAPIKey() || c.SystemInstructions == "" {
		return Message{}, ErrNotConfigured
	}
	key, err := s.courses.RevealAPIKey(c)
	if err != nil {
		return Message{}, err
	}

	all := make([]Message, 0, len(msgs)+1)
	all = append(all, Message{Role: "system", Content: SystemPrompt(c, prof)})
	all = append(all, msgs...)

	model := c.Model
	if model == "" {
		model = "gpt-4"
	}
	reply, err := s.completer.Complete(ctx, key, CompletionRequest{
		Model:       model,
		Messages:    all,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	})
	if err != nil {
		return Message{}, err
	}

	convo := append(append(make([]Message, 0, len(msgs)+1), msgs...), reply)
	if err := s.transcripts.Record(ctx, c.ID, sess.CanvasUserID, sess.UserName, convo); err != nil {
		// the student still gets the answer
		s.log.Error().Err(err).Str("course_id", c.CanvasCourseID).Msg("transcript not recorded")
	}
	return reply, nil
}

func SystemPrompt(c course.Course, p course.Professor) string {
	return fmt.Sprintf(`You are an AI assistant for the course "%s".

Course Context:
- Course: %s
- Assistant Name: %s
- Professor: %s

Professor's Instructions:
%s

You are embedded within the LMS and helping a student in this course. Be helpful, accurate, and follow the professor's instructions above.`,
		c.CourseName, c.CourseName, c.AssistantName, p.Name, c.SystemInstructions)
}
