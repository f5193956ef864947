package backend

import "errors"

var ErrNoSession = errors.New("no such session")

// User is the signed-in identity the screens render and stamp onto messages.
type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"name"`
	PhotoURL    string `json:"image"`
}

// ProfilePatch carries the fields UpdateProfile may change. Nil means leave
// the field alone.
type ProfilePatch struct {
	DisplayName *string
	PhotoURL    *string
}

// Auth is the authentication collaborator: session-scoped identity plus
// profile updates.
type Auth interface {
	SignIn(name string) (User, string, error) // returns the user and a session id
	CurrentUser(sid string) (User, bool)
	SignOut(sid string) error
	UpdateProfile(sid string, patch ProfilePatch) (User, error)
}
