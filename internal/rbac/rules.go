package rbac

const (
	RoleInstructor = "instructor"
	RoleLearner    = "learner"
)

const (
	PermCourseConfigure = "course:configure"
	PermCourseView      = "course:view"
	PermChatUse         = "chat:use"
	PermDeepLinkSign    = "deeplink:sign"
	PermSessionView     = "session:view"
)

// RolePermissions is the default policy. Roles come from the classified
// LTI role list stored on the session.
var RolePermissions = map[string][]string{
	RoleInstructor: {
		"course:*",
		PermChatUse,
		PermDeepLinkSign,
		PermSessionView,
	},
	RoleLearner: {
		PermCourseView,
		PermChatUse,
		PermSessionView,
	},
}
