package course

import "time"

type Professor struct {
	ID           string     `json:"id"`
	LTIUserID    string     `json:"lti_user_id"`
	CanvasUserID string     `json:"canvas_user_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Course is one platform course with its assistant settings. APIKey holds
// the stored (normally encrypted) form and is never serialized.
type Course struct {
	ID                 string    `json:"id"`
	CanvasCourseID     string    `json:"canvas_course_id"`
	CourseName         string    `json:"course_name"`
	CourseCode         string    `json:"course_code,omitempty"`
	ProfessorID        string    `json:"professor_id"`
	DeploymentID       string    `json:"deployment_id,omitempty"`
	IsActive           bool      `json:"is_active"`
	AssistantName      string    `json:"assistant_name"`
	APIKey             string    `json:"-"`
	SystemInstructions string    `json:"system_instructions"`
	Model              string    `json:"model"`
	MaxTokens          int       `json:"max_tokens"`
	Temperature        float64   `json:"temperature"`
	IsSetupComplete    bool      `json:"is_setup_complete"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (c Course) HasAPIKey() bool { return c.APIKey != "" }

// Readiness is what a learner launch finds.
type Readiness int

const (
	NotAvailable Readiness = iota // no course, or deactivated
	NotReady                      // setup incomplete
	Ready
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case NotReady:
		return "not_ready"
	default:
		return "not_available"
	}
}

// Dashboard is the instructor view of a course, minus the key.
type Dashboard struct {
	Professor Professor `json:"professor"`
	Course    Course    `json:"course"`
	HasAPIKey bool      `json:"has_api_key"`
}
