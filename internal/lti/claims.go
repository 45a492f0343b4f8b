package lti

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ClaimMessageType   = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	ClaimVersion       = "https://purl.imsglobal.org/spec/lti/claim/version"
	ClaimDeploymentID  = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	ClaimTargetLinkURI = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	ClaimResourceLink  = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	ClaimContext       = "https://purl.imsglobal.org/spec/lti/claim/context"
	ClaimRoles         = "https://purl.imsglobal.org/spec/lti/claim/roles"
	ClaimCustom        = "https://purl.imsglobal.org/spec/lti/claim/custom"
	ClaimLIS           = "https://purl.imsglobal.org/spec/lti/claim/lis"

	ClaimDeepLinkingSettings = "https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"
	ClaimContentItems        = "https://purl.imsglobal.org/spec/lti-dl/claim/content_items"
	ClaimDeepLinkData        = "https://purl.imsglobal.org/spec/lti-dl/claim/data"

	MessageTypeResourceLink     = "LtiResourceLinkRequest"
	MessageTypeDeepLinkRequest  = "LtiDeepLinkingRequest"
	MessageTypeDeepLinkResponse = "LtiDeepLinkingResponse"

	unknownUserName = "Unknown User"
)

type ResourceLink struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type Context struct {
	ID    string   `json:"id"`
	Title string   `json:"title,omitempty"`
	Label string   `json:"label,omitempty"`
	Type  []string `json:"type,omitempty"`
}

type LIS struct {
	PersonNameFull            string `json:"person_name_full,omitempty"`
	PersonContactEmailPrimary string `json:"person_contact_email_primary,omitempty"`
}

type DeepLinkingSettings struct {
	ReturnURL string `json:"deep_link_return_url"`
	Data      string `json:"data,omitempty"`
}

// LaunchClaims is the payload of a platform id_token. Values are only
// handed out by a Verifier after signature and claim checks pass.
type LaunchClaims struct {
	jwt.RegisteredClaims

	Nonce                     string `json:"nonce,omitempty"`
	Name                      string `json:"name,omitempty"`
	GivenName                 string `json:"given_name,omitempty"`
	FamilyName                string `json:"family_name,omitempty"`
	Email                     string `json:"email,omitempty"`
	PersonContactEmailPrimary string `json:"person_contact_email_primary,omitempty"`

	MessageType   string               `json:"https://purl.imsglobal.org/spec/lti/claim/message_type,omitempty"`
	Version       string               `json:"https://purl.imsglobal.org/spec/lti/claim/version,omitempty"`
	DeploymentID  string               `json:"https://purl.imsglobal.org/spec/lti/claim/deployment_id,omitempty"`
	TargetLinkURI string               `json:"https://purl.imsglobal.org/spec/lti/claim/target_link_uri,omitempty"`
	ResourceLink  *ResourceLink        `json:"https://purl.imsglobal.org/spec/lti/claim/resource_link,omitempty"`
	Context       *Context             `json:"https://purl.imsglobal.org/spec/lti/claim/context,omitempty"`
	Roles         []string             `json:"https://purl.imsglobal.org/spec/lti/claim/roles,omitempty"`
	Custom        map[string]any       `json:"https://purl.imsglobal.org/spec/lti/claim/custom,omitempty"`
	LIS           *LIS                 `json:"https://purl.imsglobal.org/spec/lti/claim/lis,omitempty"`
	DeepLinking   *DeepLinkingSettings `json:"https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings,omitempty"`
}

type UserInfo struct {
	LTIUserID    string   `json:"lti_user_id"`
	CanvasUserID string   `json:"canvas_user_id"`
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Roles        []string `json:"roles"`
}

type CourseInfo struct {
	CanvasCourseID string   `json:"canvas_course_id"`
	CourseName     string   `json:"course_name"`
	CourseCode     string   `json:"course_code,omitempty"`
	CourseType     []string `json:"course_type,omitempty"`
	DeploymentID   string   `json:"deployment_id"`
}

// User builds UserInfo, falling back through the places platforms put
// names and emails when the OIDC standard claims are withheld.
func (c *LaunchClaims) User() UserInfo {
	var lisName, lisEmail string
	if c.LIS != nil {
		lisName, lisEmail = c.LIS.PersonNameFull, c.LIS.PersonContactEmailPrimary
	}
	var fullName string
	if c.GivenName != "" && c.FamilyName != "" {
		fullName = c.GivenName + " " + c.FamilyName
	}
	name := firstNonEmpty(
		c.Name,
		fullName,
		lisName,
		customString(c.Custom, "person_name_full"),
		c.GivenName,
		c.FamilyName,
	)
	if name == "" {
		name = unknownUserName
	}
	email := firstNonEmpty(
		c.Email,
		lisEmail,
		customString(c.Custom, "person_contact_email_primary"),
		c.PersonContactEmailPrimary,
	)
	roles := make([]string, len(c.Roles))
	copy(roles, c.Roles)
	return UserInfo{
		LTIUserID:    c.Subject,
		CanvasUserID: c.Subject,
		Name:         name,
		Email:        email,
		Roles:        roles,
	}
}

func (c *LaunchClaims) Course() CourseInfo {
	ci := CourseInfo{DeploymentID: c.DeploymentID}
	if c.Context != nil {
		ci.CanvasCourseID = c.Context.ID
		ci.CourseName = c.Context.Title
		ci.CourseCode = c.Context.Label
		ci.CourseType = c.Context.Type
	}
	return ci
}

func customString(m map[string]any, k string) string {
	if m == nil {
		return ""
	}
	s, _ := m[k].(string)
	return strings.TrimSpace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
