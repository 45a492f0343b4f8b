package http

import (
	"context"
	"errors"
	"testing"

	nethttp "net/http"
	"net/http/httptest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/lti-assistant/internal/course"
	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/rbac"
	"github.com/mind-engage/lti-assistant/internal/session"
)

type fakeCourses struct {
	readiness   course.Readiness
	err         error
	provisioned []lti.UserInfo
}

func (f *fakeCourses) ProvisionInstructor(_ context.Context, u lti.UserInfo, _ lti.CourseInfo) (course.Professor, course.Course, error) {
	f.provisioned = append(f.provisioned, u)
	return course.Professor{}, course.Course{}, f.err
}

func (f *fakeCourses) Readiness(context.Context, string) (course.Readiness, error) {
	return f.readiness, f.err
}

type fakeSessions struct {
	got []session.CreateParams
	err error
}

func (f *fakeSessions) FindOrCreate(_ context.Context, p session.CreateParams) (string, bool, error) {
	f.got = append(f.got, p)
	return "tok-123", false, f.err
}

func launchResult(role lti.Role) *lti.LaunchResult {
	return &lti.LaunchResult{
		Role:   role,
		User:   lti.UserInfo{LTIUserID: "u-1", CanvasUserID: "u-1", Name: "Ada", Email: "ada@example.edu", Roles: []string{"r"}},
		Course: lti.CourseInfo{CanvasCourseID: "course-42", CourseName: "AE", DeploymentID: "dep-1"},
	}
}

func runLaunch(t *testing.T, l *Launcher, role lti.Role) (*httptest.ResponseRecorder, error) {
	t.Helper()
	req := httptest.NewRequest(nethttp.MethodPost, "/api/lti/launch", nil)
	req.Header.Set("User-Agent", "canvas-test")
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	rec := httptest.NewRecorder()
	err := l.Complete(rec, req, launchResult(role))
	return rec, err
}

func TestLaunchInstructor(t *testing.T) {
	courses, sessions := &fakeCourses{}, &fakeSessions{}
	l := &Launcher{Courses: courses, Sessions: sessions, TrustProxy: true, Log: zerolog.Nop()}

	rec, err := runLaunch(t, l, lti.RoleInstructor)
	require.NoError(t, err)
	assert.Equal(t, nethttp.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
	require.Len(t, courses.provisioned, 1)

	require.Len(t, sessions.got, 1)
	p := sessions.got[0]
	assert.Equal(t, "u-1", p.LTIUserID)
	assert.Equal(t, "course-42", p.CanvasCourseID)
	assert.Equal(t, "dep-1", p.DeploymentID)
	assert.Equal(t, "canvas-test", p.UserAgent)
	assert.Equal(t, "203.0.113.5", p.IPAddress)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, session.CookieName, cookies[0].Name)
	assert.Equal(t, "tok-123", cookies[0].Value)
}

func TestLaunchLearnerReadiness(t *testing.T) {
	cases := []struct {
		name  string
		rd    course.Readiness
		code  int
		body  string
		where string
	}{
		{"not available", course.NotAvailable, nethttp.StatusOK, "AI Assistant Not Available", ""},
		{"not ready", course.NotReady, nethttp.StatusOK, "AI Assistant Not Ready", ""},
		{"ready", course.Ready, nethttp.StatusFound, "", "/chat"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sessions := &fakeSessions{}
			l := &Launcher{Courses: &fakeCourses{readiness: tc.rd}, Sessions: sessions, Log: zerolog.Nop()}
			rec, err := runLaunch(t, l, lti.RoleLearner)
			require.NoError(t, err)
			assert.Equal(t, tc.code, rec.Code)
			if tc.body != "" {
				assert.Contains(t, rec.Body.String(), tc.body)
				assert.Empty(t, sessions.got, "no session until the course is ready")
			}
			assert.Equal(t, tc.where, rec.Header().Get("Location"))
		})
	}
}

func TestLaunchUntrustedProxyUsesRemoteAddr(t *testing.T) {
	sessions := &fakeSessions{}
	l := &Launcher{Courses: &fakeCourses{readiness: course.Ready}, Sessions: sessions, Log: zerolog.Nop()}
	_, err := runLaunch(t, l, lti.RoleLearner)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", sessions.got[0].IPAddress) // httptest default
}

func TestLaunchErrors(t *testing.T) {
	boom := errors.New("db down")
	l := &Launcher{Courses: &fakeCourses{err: boom}, Sessions: &fakeSessions{}, Log: zerolog.Nop()}
	_, err := runLaunch(t, l, lti.RoleInstructor)
	assert.ErrorIs(t, err, boom)

	l = &Launcher{Courses: &fakeCourses{readiness: course.Ready}, Sessions: &fakeSessions{err: boom}, Log: zerolog.Nop()}
	_, err = runLaunch(t, l, lti.RoleLearner)
	assert.ErrorIs(t, err, boom)

	_, err = runLaunch(t, l, lti.RoleOther)
	assert.ErrorIs(t, err, lti.ErrUnauthorizedRole)
}

func TestRoleOf(t *testing.T) {
	assert.Equal(t, rbac.RoleInstructor, RoleOf([]string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor"}))
	assert.Equal(t, rbac.RoleLearner, RoleOf([]string{"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner"}))
	assert.Empty(t, RoleOf(nil))
}
