//go:build !ltiinsecure

package main

import (
	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/config"
	"github.com/mind-engage/lti-assistant/internal/lti"
)

func newVerifier(cfg config.Config, keys lti.KeySource, _ zerolog.Logger) lti.Verifier {
	return lti.NewTokenVerifier(cfg.LTIIssuer, cfg.LTIClientID, keys, lti.WithClockSkew(cfg.ClockSkew))
}
