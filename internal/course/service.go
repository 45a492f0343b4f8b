package course

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/secrets"
)

var (
	ErrInvalidAPIKey       = errors.New("course: invalid API key format")
	ErrInstructionsMissing = errors.New("course: system instructions are required")
)

type Service struct {
	store  Store
	cipher *secrets.Cipher
	log    zerolog.Logger
}

func NewService(store Store, cipher *secrets.Cipher, log zerolog.Logger) *Service {
	return &Service{store: store, cipher: cipher, log: log}
}

func (s *Service) ProvisionInstructor(ctx context.Context, u lti.UserInfo, c lti.CourseInfo) (Professor, Course, error) {
	p, crs, err := s.store.ProvisionInstructor(ctx, u, c)
	if err != nil {
		return Professor{}, Course{}, err
	}
	if crs.ProfessorID != p.ID {
		s.log.Warn().Str("lti_user_id", u.LTIUserID).Str("course_id", c.CanvasCourseID).
			Msg("instructor launched a course owned by another professor")
	}
	return p, crs, nil
}

// Readiness decides what a learner launch into canvasCourseID gets.
func (s *Service) Readiness(ctx context.Context, canvasCourseID string) (Readiness, error) {
	c, err := s.store.GetByCanvasID(ctx, canvasCourseID)
	if errors.Is(err, ErrNotFound) {
		return NotAvailable, nil
	}
	if err != nil {
		return NotAvailable, err
	}
	switch {
	case !c.IsActive:
		return NotAvailable, nil
	case !c.IsSetupComplete || !c.HasAPIKey():
		return NotReady, nil
	default:
		return Ready, nil
	}
}

func (s *Service) Dashboard(ctx context.Context, ltiUserID, canvasCourseID string) (Dashboard, error) {
	p, c, err := s.store.FindOwned(ctx, ltiUserID, canvasCourseID)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Professor: p, Course: c, HasAPIKey: c.HasAPIKey()}, nil
}

// SetAPIKey encrypts and stores the completion API key for the caller's
// course.
func (s *Service) SetAPIKey(ctx context.Context, ltiUserID, canvasCourseID, apiKey string) (Course, error) {
	apiKey = strings.TrimSpace(apiKey)
	if !strings.HasPrefix(apiKey, "sk-") {
		return Course{}, ErrInvalidAPIKey
	}
	_, c, err := s.store.FindOwned(ctx, ltiUserID, canvasCourseID)
	if err != nil {
		return Course{}, err
	}
	enc, err := s.cipher.Encrypt(apiKey)
	if err != nil {
		return Course{}, err
	}
	c, err = s.store.SaveAPIKey(ctx, c.ID, enc)
	if err != nil {
		return Course{}, err
	}
	s.log.Info().Str("course_id", canvasCourseID).Bool("setup_complete", c.IsSetupComplete).Msg("api key saved")
	return c, nil
}

func (s *Service) SetInstructions(ctx context.Context, ltiUserID, canvasCourseID, instructions string) (Course, error) {
	if strings.TrimSpace(instructions) == "" {
		return Course{}, ErrInstructionsMissing
	}
	_, c, err := s.store.FindOwned(ctx, ltiUserID, canvasCourseID)
	if err != nil {
		return Course{}, err
	}
	c, err = s.store.SaveInstructions(ctx, c.ID, instructions)
	if err != nil {
		return Course{}, err
	}
	s.log.Info().Str("course_id", canvasCourseID).Bool("setup_complete", c.IsSetupComplete).Msg("system instructions saved")
	return c, nil
}

// FindForChat loads the course a session chats in.
func (s *Service) FindForChat(ctx context.Context, canvasCourseID, deploymentID string) (Course, Professor, error) {
	return s.store.FindForChat(ctx, canvasCourseID, deploymentID)
}

// RevealAPIKey returns the plaintext key. Legacy plaintext rows are
// returned as-is and logged.
func (s *Service) RevealAPIKey(c Course) (string, error) {
	key, legacy, err := s.cipher.Reveal(c.APIKey)
	if err != nil {
		return "", err
	}
	if legacy {
		s.log.Warn().Str("course_id", c.CanvasCourseID).Msg("using legacy unencrypted api key; re-save to encrypt")
	}
	return key, nil
}
