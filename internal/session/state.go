// Package session models the authentication signal the engine is gated on.
package session

import "strings"

// Status is the tag of an AuthState.
type Status int

const (
	StatusLoading Status = iota
	StatusReady
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusUnauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Valid requires an id and at least one human identifier.
func (u User) Valid() bool {
	if strings.TrimSpace(u.ID) == "" {
		return false
	}
	return strings.TrimSpace(u.Email) != "" ||
		strings.TrimSpace(u.Name) != "" ||
		strings.TrimSpace(u.Phone) != ""
}

// AuthState is Loading, Ready(user) or Unauthenticated. The zero value is Loading.
type AuthState struct {
	status Status
	user   User
}

func Loading() AuthState {
	return AuthState{status: StatusLoading}
}

// Ready returns Unauthenticated when the user is not valid.
func Ready(user User) AuthState {
	if !user.Valid() {
		return Unauthenticated()
	}
	return AuthState{status: StatusReady, user: user}
}

func Unauthenticated() AuthState {
	return AuthState{status: StatusUnauthenticated}
}

func (s AuthState) Status() Status {
	return s.status
}

func (s AuthState) IsReady() bool {
	return s.status == StatusReady
}

func (s AuthState) User() (User, bool) {
	if s.status != StatusReady {
		return User{}, false
	}
	return s.user, true
}

func (s AuthState) String() string {
	if s.status == StatusReady {
		return s.status.String() + "(" + s.user.ID + ")"
	}
	return s.status.String()
}

func sameIdentity(a, b AuthState) bool {
	return a.status == b.status && a.user.ID == b.user.ID
}
