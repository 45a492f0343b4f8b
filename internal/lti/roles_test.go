package lti_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/lti/ltitest"
)

func TestClassifyRoles(t *testing.T) {
	cases := []struct {
		roles []string
		want  lti.Role
	}{
		{[]string{ltitest.RoleInstructor}, lti.RoleInstructor},
		{[]string{ltitest.RoleLearner}, lti.RoleLearner},
		{[]string{ltitest.RoleTA}, lti.RoleInstructor},
		{[]string{"Instructor"}, lti.RoleInstructor},
		{[]string{"Learner"}, lti.RoleLearner},
		{[]string{ltitest.RoleLearner, ltitest.RoleInstructor}, lti.RoleInstructor},
		{[]string{"http://purl.imsglobal.org/vocab/lis/v2/institution/person#Administrator"}, lti.RoleOther},
		{[]string{"instructor"}, lti.RoleOther}, // case-sensitive
		{nil, lti.RoleOther},
		{[]string{}, lti.RoleOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, lti.ClassifyRoles(tc.roles), "%v", tc.roles)
	}
}
