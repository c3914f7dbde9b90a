package idp

import "time"

// User is the principal issued by the identity provider.
type User struct {
	ID               string  `json:"id"`
	Email            string  `json:"email"`
	FullName         string  `json:"full_name"`
	Role             string  `json:"role"`
	DepartmentID     *string `json:"department_id,omitempty"`
	InstitutionID    *string `json:"institution_id,omitempty"`
	PhoneNumber      *string `json:"phone_number,omitempty"`
	Gender           *string `json:"gender,omitempty"`
	Designation      *string `json:"designation,omitempty"`
	AvatarURL        *string `json:"avatar_url,omitempty"`
	ProfileCompleted bool    `json:"profile_completed"`
}

// TokenResponse is returned by the token endpoint for both grant types.
// SessionID is only filled in by this application's own refresh API.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	User         *User  `json:"user,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// ExpiresAt converts the relative expires_in into an absolute time.
func (t *TokenResponse) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// ValidationResult is the outcome of a token validation. Err is set only when Valid is false.
type ValidationResult struct {
	Valid bool
	User  *User
	Err   error
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	AppID        string `json:"app_id"`
	APIKey       string `json:"api_key"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

type validateRequest struct {
	AccessToken string `json:"access_token"`
	ChildAppID  string `json:"child_app_id"`
}

type validateResponse struct {
	Valid *bool `json:"valid,omitempty"`
	User  *User `json:"user"`
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}
