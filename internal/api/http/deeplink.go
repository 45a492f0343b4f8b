package http

import (
	nethttp "net/http"

	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/session"
)

type DeepLinkSigner interface {
	Sign(deploymentID string, items []lti.ContentItem, data string) (string, error)
}

type deepLinkReq struct {
	ContentItems []lti.ContentItem `json:"content_items" validate:"required,min=1,dive"`
	ReturnURL    string            `json:"return_url" validate:"required,url"`
	Data         string            `json:"data"`
}

// POST /api/lti/deep-linking/response
func DeepLinkHandler(signer DeepLinkSigner, log zerolog.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		var req deepLinkReq
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, nethttp.StatusBadRequest, "bad_request", err.Error())
			return
		}
		sess := session.FromContext(r.Context())
		tok, err := signer.Sign(sess.DeploymentID, req.ContentItems, req.Data)
		if err != nil {
			log.Error().Err(err).Str("lti_user_id", sess.LTIUserID).Msg("deep link signing failed")
			writeError(w, nethttp.StatusInternalServerError, "signing_failed", "")
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]string{"jwt": tok, "return_url": req.ReturnURL})
	}
}
