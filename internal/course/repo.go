package course

import (
	"context"
	"errors"

	"github.com/mind-engage/lti-assistant/internal/lti"
)

var (
	ErrNotFound          = errors.New("course: not found")
	ErrProfessorNotFound = errors.New("course: professor not found")
)

type Store interface {
	// ProvisionInstructor upserts the professor and the course in one
	// transaction.
	ProvisionInstructor(ctx context.Context, u lti.UserInfo, c lti.CourseInfo) (Professor, Course, error)

	GetByCanvasID(ctx context.Context, canvasCourseID string) (Course, error)
	// FindForChat matches on deployment too when deploymentID is set.
	FindForChat(ctx context.Context, canvasCourseID, deploymentID string) (Course, Professor, error)
	// FindOwned returns the course only when ltiUserID's professor owns it.
	FindOwned(ctx context.Context, ltiUserID, canvasCourseID string) (Professor, Course, error)

	SaveAPIKey(ctx context.Context, courseID, stored string) (Course, error)
	SaveInstructions(ctx context.Context, courseID, instructions string) (Course, error)
}
