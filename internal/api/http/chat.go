package http

import (
	"context"
	"errors"

	nethttp "net/http"

	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/chat"
	"github.com/mind-engage/lti-assistant/internal/course"
	"github.com/mind-engage/lti-assistant/internal/secrets"
	"github.com/mind-engage/lti-assistant/internal/session"
)

type Replier interface {
	Reply(ctx context.Context, sess *session.Session, msgs []chat.Message) (chat.Message, error)
}

type chatReq struct {
	Messages []chat.Message `json:"messages" validate:"required,min=1,max=200,dive"`
}

// POST /api/chat
func ChatHandler(svc Replier, log zerolog.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req chatReq
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, nethttp.StatusBadRequest, "bad_request", err.Error())
			return
		}
		sess := session.FromContext(r.Context())
		reply, err := svc.Reply(r.Context(), sess, req.Messages)
		if err != nil {
			l := log.With().Str("lti_user_id", sess.LTIUserID).Str("course_id", sess.CanvasCourseID).Logger()
			writeChatErr(w, l, err)
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]chat.Message{"message": reply})
	}
}

func writeChatErr(w nethttp.ResponseWriter, log zerolog.Logger, err error) {
	var serr *chat.StatusError
	switch {
	case errors.Is(err, course.ErrNotFound), errors.Is(err, course.ErrProfessorNotFound):
		writeError(w, nethttp.StatusNotFound, "course_not_found", "This course has not been set up with an AI assistant yet.")
	case errors.Is(err, chat.ErrNotConfigured):
		writeError(w, nethttp.StatusBadRequest, "not_configured", "AI assistant not configured. Please ask your professor to complete the setup.")
	case errors.Is(err, secrets.ErrDecryption):
		log.Error().Err(err).Msg("api key decryption failed")
		writeError(w, nethttp.StatusInternalServerError, "decryption_failed", "Failed to decrypt API key. Please update your configuration.")
	case errors.Is(err, chat.ErrInvalidAPIKey):
		writeError(w, nethttp.StatusBadRequest, "invalid_api_key", "Invalid API key. Please check your configuration.")
	case errors.Is(err, chat.ErrRateLimited):
		writeError(w, nethttp.StatusTooManyRequests, "quota_exceeded", "API quota exceeded. Please contact your professor.")
	case errors.As(err, &serr):
		log.Warn().Err(err).Msg("completion upstream failed")
		writeError(w, nethttp.StatusBadGateway, "upstream_error", "")
	default:
		log.Error().Err(err).Msg("chat failed")
		writeError(w, nethttp.StatusInternalServerError, "internal_error", "")
	}
}
