package http

import (
	"context"
	"errors"

	nethttp "net/http"

	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/course"
	"github.com/mind-engage/lti-assistant/internal/session"
)

type CourseAdmin interface {
	Dashboard(ctx context.Context, ltiUserID, canvasCourseID string) (course.Dashboard, error)
	SetAPIKey(ctx context.Context, ltiUserID, canvasCourseID, apiKey string) (course.Course, error)
	SetInstructions(ctx context.Context, ltiUserID, canvasCourseID, instructions string) (course.Course, error)
}

// GET /api/dashboard
func DashboardHandler(svc CourseAdmin, log zerolog.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sess := session.FromContext(r.Context())
		d, err := svc.Dashboard(r.Context(), sess.LTIUserID, sess.CanvasCourseID)
		if err != nil {
			writeCourseErr(w, log, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, d)
	}
}

// POST /api/dashboard/setup (form: action=api_key|system_instructions)
func SetupHandler(svc CourseAdmin, appURL string, log zerolog.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, nethttp.StatusBadRequest, "bad_form", "")
			return
		}
		sess := session.FromContext(r.Context())
		var err error
		switch r.PostFormValue("action") {
		case "api_key":
			_, err = svc.SetAPIKey(r.Context(), sess.LTIUserID, sess.CanvasCourseID, r.PostFormValue("api_key"))
		case "system_instructions":
			_, err = svc.SetInstructions(r.Context(), sess.LTIUserID, sess.CanvasCourseID, r.PostFormValue("system_instructions"))
		default:
			writeError(w, nethttp.StatusBadRequest, "invalid_action", "")
			return
		}
		if err != nil {
			writeCourseErr(w, log, err)
			return
		}
		nethttp.Redirect(w, r, appURL+"/dashboard", nethttp.StatusSeeOther)
	}
}

func writeCourseErr(w nethttp.ResponseWriter, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, course.ErrInvalidAPIKey):
		writeError(w, nethttp.StatusBadRequest, "invalid_api_key", "Invalid API key format")
	case errors.Is(err, course.ErrInstructionsMissing):
		writeError(w, nethttp.StatusBadRequest, "missing_instructions", "System instructions are required")
	case errors.Is(err, course.ErrProfessorNotFound):
		writeError(w, nethttp.StatusNotFound, "professor_not_found", "")
	case errors.Is(err, course.ErrNotFound):
		writeError(w, nethttp.StatusNotFound, "course_not_found", "")
	default:
		log.Error().Err(err).Msg("course operation failed")
		writeError(w, nethttp.StatusInternalServerError, "internal_error", "")
	}
}
