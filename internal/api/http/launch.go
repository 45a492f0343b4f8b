package http

import (
	"context"
	"fmt"

	nethttp "net/http"

	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/course"
	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/rbac"
	"github.com/mind-engage/lti-assistant/internal/session"
)

const (
	notAvailablePage = `<html><body><h2>AI Assistant Not Available</h2><p>This course's AI assistant hasn't been set up yet. Please contact your instructor.</p></body></html>`
	notReadyPage     = `<html><body><h2>AI Assistant Not Ready</h2><p>Your instructor is still setting up the AI assistant. Please try again later.</p></body></html>`
)

type Provisioner interface {
	ProvisionInstructor(ctx context.Context, u lti.UserInfo, c lti.CourseInfo) (course.Professor, course.Course, error)
	Readiness(ctx context.Context, canvasCourseID string) (course.Readiness, error)
}

type SessionStarter interface {
	FindOrCreate(ctx context.Context, p session.CreateParams) (token string, reused bool, err error)
}

// Launcher finishes validated launches: instructors are provisioned and sent
// to the dashboard, learners to the chat once the course is ready.
type Launcher struct {
	Courses    Provisioner
	Sessions   SessionStarter
	Cookies    session.CookiePolicy
	AppURL     string // prefix for /dashboard and /chat; empty keeps them relative
	TrustProxy bool
	Log        zerolog.Logger
}

// Complete satisfies lti.LaunchFunc.
func (l *Launcher) Complete(w nethttp.ResponseWriter, r *nethttp.Request, res *lti.LaunchResult) error {
	ctx := r.Context()
	switch res.Role {
	case lti.RoleInstructor:
		if _, _, err := l.Courses.ProvisionInstructor(ctx, res.User, res.Course); err != nil {
			return err
		}
		return l.startSession(w, r, res, "/dashboard")

	case lti.RoleLearner:
		rd, err := l.Courses.Readiness(ctx, res.Course.CanvasCourseID)
		if err != nil {
			return err
		}
		switch rd {
		case course.NotAvailable:
			writeHTML(w, nethttp.StatusOK, notAvailablePage)
			return nil
		case course.NotReady:
			writeHTML(w, nethttp.StatusOK, notReadyPage)
			return nil
		}
		return l.startSession(w, r, res, "/chat")
	}
	return fmt.Errorf("launch: unexpected role %s: %w", res.Role, lti.ErrUnauthorizedRole)
}

func (l *Launcher) startSession(w nethttp.ResponseWriter, r *nethttp.Request, res *lti.LaunchResult, path string) error {
	tok, reused, err := l.Sessions.FindOrCreate(r.Context(), session.CreateParams{
		LTIUserID:      res.User.LTIUserID,
		CanvasUserID:   res.User.CanvasUserID,
		CanvasCourseID: res.Course.CanvasCourseID,
		UserName:       res.User.Name,
		UserEmail:      res.User.Email,
		UserRoles:      res.User.Roles,
		CourseName:     res.Course.CourseName,
		DeploymentID:   res.Course.DeploymentID,
		UserAgent:      r.UserAgent(),
		IPAddress:      clientIP(r, l.TrustProxy),
	})
	if err != nil {
		return err
	}
	l.Log.Info().
		Str("lti_user_id", res.User.LTIUserID).
		Str("course_id", res.Course.CanvasCourseID).
		Bool("reused", reused).
		Msg("session ready")

	nethttp.SetCookie(w, l.Cookies.Cookie(tok))
	nethttp.Redirect(w, r, l.AppURL+path, nethttp.StatusFound)
	return nil
}

// RoleOf maps raw LTI role URIs to the rbac role used by handlers.
func RoleOf(roles []string) string {
	switch lti.ClassifyRoles(roles) {
	case lti.RoleInstructor:
		return rbac.RoleInstructor
	case lti.RoleLearner:
		return rbac.RoleLearner
	}
	return ""
}
