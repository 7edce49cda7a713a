package credstore

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("weak password")
	ErrNoSession          = errors.New("no active session")
	ErrSessionExpired     = errors.New("session expired")
)

const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeWeakPassword       = "weak_password"
	CodeNoSession          = "no_session"
	CodeSessionExpired     = "session_expired"
)

// AuthError is a credential failure safe to show to the user.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func invalidCredentials() *AuthError {
	return &AuthError{Code: CodeInvalidCredentials, Message: "Invalid credentials", Err: ErrInvalidCredentials}
}

func weakPassword() *AuthError {
	return &AuthError{
		Code:    CodeWeakPassword,
		Message: "Password must be at least 8 characters and contain a letter and a digit",
		Err:     ErrWeakPassword,
	}
}

func noSession() *AuthError {
	return &AuthError{Code: CodeNoSession, Message: "Not signed in", Err: ErrNoSession}
}

func sessionExpired() *AuthError {
	return &AuthError{Code: CodeSessionExpired, Message: "Session expired, please sign in again", Err: ErrSessionExpired}
}
