package lti

import "strings"

type Role int

const (
	RoleOther Role = iota
	RoleLearner
	RoleInstructor
)

func (r Role) String() string {
	switch r {
	case RoleInstructor:
		return "instructor"
	case RoleLearner:
		return "learner"
	default:
		return "other"
	}
}

// ClassifyRoles maps platform role URNs (or short names) to a Role.
// Matching is a case-sensitive substring test; instructor wins when a list
// carries both.
func ClassifyRoles(roles []string) Role {
	learner := false
	for _, r := range roles {
		if strings.Contains(r, "Instructor") || strings.Contains(r, "TeachingAssistant") {
			return RoleInstructor
		}
		if strings.Contains(r, "Learner") {
			learner = true
		}
	}
	if learner {
		return RoleLearner
	}
	return RoleOther
}
