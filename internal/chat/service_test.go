package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/lti-assistant/internal/chat"
	"github.com/mind-engage/lti-assistant/internal/course"
	"github.com/mind-engage/lti-assistant/internal/db/dbtest"
	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/secrets"
	"github.com/mind-engage/lti-assistant/internal/session"
)

type fakeCompleter struct {
	got    chat.CompletionRequest
	key    string
	err    error
	called int
}

func (f *fakeCompleter) Complete(_ context.Context, apiKey string, req chat.CompletionRequest) (chat.Message, error) {
	f.called++
	f.got, f.key = req, apiKey
	if f.err != nil {
		return chat.Message{}, f.err
	}
	return chat.Message{Role: "assistant", Content: "42"}, nil
}

type fixture struct {
	courses     *course.Service
	transcripts *chat.Transcripts
	completer   *fakeCompleter
	svc         *chat.Service
	courseID    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := dbtest.Open(t)
	cipher, err := secrets.NewCipher("0123456789abcdef0123456789abcdef-test")
	require.NoError(t, err)
	courses := course.NewService(course.NewSQLStore(h), cipher, zerolog.Nop())
	tr := chat.NewTranscripts(h)
	fc := &fakeCompleter{}

	_, c, err := courses.ProvisionInstructor(context.Background(),
		lti.UserInfo{LTIUserID: "prof", CanvasUserID: "prof", Name: "Prof. Babbage"},
		lti.CourseInfo{CanvasCourseID: "course-42", CourseName: "Analytical Engines", DeploymentID: "dep-1"})
	require.NoError(t, err)

	return &fixture{
		courses:     courses,
		transcripts: tr,
		completer:   fc,
		svc:         chat.NewService(courses, fc, tr, zerolog.Nop()),
		courseID:    c.ID,
	}
}

func (f *fixture) configure(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.courses.SetAPIKey(ctx, "prof", "course-42", "sk-course")
	require.NoError(t, err)
	_, err = f.courses.SetInstructions(ctx, "prof", "course-42", "Answer with numbers.")
	require.NoError(t, err)
}

var student = &session.Session{
	LTIUserID: "stu", CanvasUserID: "stu", UserName: "Student One",
	CanvasCourseID: "course-42", DeploymentID: "dep-1",
}

func TestReply(t *testing.T) {
	f := newFixture(t)
	f.configure(t)
	ctx := context.Background()

	msgs := []chat.Message{{Role: "user", Content: "meaning of life?"}}
	reply, err := f.svc.Reply(ctx, student, msgs)
	require.NoError(t, err)
	assert.Equal(t, "42", reply.Content)

	assert.Equal(t, "sk-course", f.completer.key)
	require.Len(t, f.completer.got.Messages, 2)
	sys := f.completer.got.Messages[0]
	assert.Equal(t, "system", sys.Role)
	assert.Contains(t, sys.Content, `course "Analytical Engines"`)
	assert.Contains(t, sys.Content, "Professor: Prof. Babbage")
	assert.Contains(t, sys.Content, "Answer with numbers.")
	assert.Equal(t, "gpt-4", f.completer.got.Model)
	assert.Equal(t, 1000, f.completer.got.MaxTokens)

	tr, err := f.transcripts.Latest(ctx, f.courseID, "stu")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, 2, tr.MessageCount)
	assert.Equal(t, "Student One", tr.StudentName)

	// a follow-up replaces the stored conversation in the same row
	msgs = append(msgs, reply, chat.Message{Role: "user", Content: "why?"})
	_, err = f.svc.Reply(ctx, student, msgs)
	require.NoError(t, err)
	tr2, err := f.transcripts.Latest(ctx, f.courseID, "stu")
	require.NoError(t, err)
	assert.Equal(t, tr.ID, tr2.ID)
	assert.Equal(t, 4, tr2.MessageCount)
	assert.Equal(t, "why?", tr2.Messages[2].Content)
}

func TestReplyNotConfigured(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reply(context.Background(), student, []chat.Message{{Role: "user", Content: "hi"}})
	assert.ErrorIs(t, err, chat.ErrNotConfigured)
	assert.Zero(t, f.completer.called)
}

func TestReplyUnknownCourse(t *testing.T) {
	f := newFixture(t)
	other := *student
	other.CanvasCourseID = "nope"
	_, err := f.svc.Reply(context.Background(), &other, nil)
	assert.ErrorIs(t, err, course.ErrNotFound)
}

func TestReplyUpstreamError(t *testing.T) {
	f := newFixture(t)
	f.configure(t)
	f.completer.err = &chat.StatusError{Code: 401}
	_, err := f.svc.Reply(context.Background(), student, []chat.Message{{Role: "user", Content: "hi"}})
	assert.True(t, errors.Is(err, chat.ErrInvalidAPIKey))

	tr, err := f.transcripts.Latest(context.Background(), f.courseID, "stu")
	require.NoError(t, err)
	assert.Nil(t, tr)
}
